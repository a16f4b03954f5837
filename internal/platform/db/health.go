package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireTime   string `json:"acquire_duration"`
}

type HealthStatus struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
		AcquireTime:   stat.AcquireDuration().String(),
	}
}

// HealthHandler pings the database with a 5s budget and reports pool usage.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return pingHandler(pool.Ping, func() *PoolStats { return GetPoolStats(pool) })
}

// PingHandler reports the health of any dependency exposing a ping call.
func PingHandler(ping func(ctx context.Context) error) echo.HandlerFunc {
	return pingHandler(ping, nil)
}

func pingHandler(ping func(ctx context.Context) error, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var ps *PoolStats
		if stats != nil {
			ps = stats()
		}
		if err := ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthStatus{Status: "unhealthy", Error: err.Error(), Pool: ps})
		}
		return c.JSON(http.StatusOK, HealthStatus{Status: "healthy", Pool: ps})
	}
}
