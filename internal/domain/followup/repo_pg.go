package followup

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: unknown practitioner or patient", ErrValidation)
	}
	return err
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const fromJoins = `
	FROM follow_up f
	JOIN practitioner pr ON pr.id = f.practitioner_id
	LEFT JOIN patient pa ON pa.id = f.patient_id`

const selectCols = `
	SELECT f.id, f.patient_id, f.patient_name, f.practitioner_id, f.visit_date, f.comment,
		f.body_zones, f.created_at, f.updated_at,
		COALESCE(TRIM(pa.first_name || ' ' || pa.last_name), ''),
		TRIM(pr.first_name || ' ' || pr.last_name)`

func scanFollowUp(row pgx.Row) (*FollowUp, error) {
	var f FollowUp
	if err := row.Scan(&f.ID, &f.PatientID, &f.PatientName, &f.PractitionerID, &f.VisitDate,
		&f.Comment, &f.BodyZones, &f.CreatedAt, &f.UpdatedAt,
		&f.PatientFullName, &f.PractitionerName); err != nil {
		return nil, mapErr(err)
	}
	if f.BodyZones == nil {
		f.BodyZones = []string{}
	}
	return &f, nil
}

func (r *repoPG) Create(ctx context.Context, f *FollowUp) error {
	f.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO follow_up (id, patient_id, patient_name, practitioner_id, visit_date, comment, body_zones)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		f.ID, f.PatientID, f.PatientName, f.PractitionerID, f.VisitDate, f.Comment, f.BodyZones,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*FollowUp, error) {
	return scanFollowUp(db.Conn(ctx, r.pool).QueryRow(ctx, selectCols+fromJoins+` WHERE f.id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, f *FollowUp) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE follow_up SET patient_id=$2, patient_name=$3, practitioner_id=$4, visit_date=$5,
			comment=$6, body_zones=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		f.ID, f.PatientID, f.PatientName, f.PractitionerID, f.VisitDate, f.Comment, f.BodyZones,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM follow_up WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, q ListQuery) ([]*FollowUp, int, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PatientID != nil {
		conds = append(conds, `f.patient_id = `+arg(*q.PatientID))
	}
	if q.PractitionerID != nil {
		conds = append(conds, `f.practitioner_id = `+arg(*q.PractitionerID))
	}
	if q.From != nil {
		conds = append(conds, `f.visit_date >= `+arg(*q.From))
	}
	if q.To != nil {
		conds = append(conds, `f.visit_date <= `+arg(*q.To))
	}
	if term := q.SearchTerm(); term != "" {
		p := arg("%" + likeEscape(term) + "%")
		conds = append(conds, `(f.patient_name ILIKE `+p+` OR f.comment ILIKE `+p+
			` OR pa.first_name ILIKE `+p+` OR pa.last_name ILIKE `+p+` OR pa.email ILIKE `+p+
			` OR pr.first_name ILIKE `+p+` OR pr.last_name ILIKE `+p+` OR pr.email ILIKE `+p+`)`)
	}

	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, ` AND `)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+fromJoins+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY f.visit_date DESC, f.id DESC`
	if q.Sort == "created" {
		order = ` ORDER BY f.created_at DESC, f.id DESC`
	}
	query := selectCols + fromJoins + where + order + ` LIMIT ` + arg(q.Limit) + ` OFFSET ` + arg(q.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}
