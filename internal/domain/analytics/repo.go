package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

type Repository interface {
	// CountBodyZones counts each of zones across follow-ups whose visit date
	// falls in [from, to]. Zones outside the list are ignored.
	CountBodyZones(ctx context.Context, from, to time.Time, zones []string) ([]ZoneCount, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) CountBodyZones(ctx context.Context, from, to time.Time, zones []string) ([]ZoneCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT z.zone, COUNT(*)::int
		FROM follow_up f
		CROSS JOIN LATERAL unnest(f.body_zones) AS z(zone)
		WHERE f.visit_date >= $1 AND f.visit_date <= $2
		  AND z.zone = ANY($3)
		GROUP BY z.zone
		ORDER BY COUNT(*) DESC, z.zone`,
		from, to, zones)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ZoneCount
	for rows.Next() {
		var zc ZoneCount
		if err := rows.Scan(&zc.Zone, &zc.Count); err != nil {
			return nil, err
		}
		out = append(out, zc)
	}
	return out, rows.Err()
}
