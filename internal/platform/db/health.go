package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is a backing store that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats summarises a pgx pool for the health endpoint.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type componentHealth struct {
	Name    string      `json:"name"`
	Healthy bool        `json:"healthy"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Check is one named dependency of the health endpoint. Details, when set,
// adds backend-specific figures to the report.
type Check struct {
	Pinger  Pinger
	Details func() interface{}
}

// HealthHandler pings every check and answers 503 if any of them fails.
// With no checks configured it reports healthy.
func HealthHandler(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		report := make([]componentHealth, 0, len(names))
		for _, name := range names {
			chk := checks[name]
			h := componentHealth{Name: name, Healthy: true}
			if err := chk.Pinger.Ping(ctx); err != nil {
				h.Healthy = false
				h.Error = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			if chk.Details != nil {
				h.Details = chk.Details()
			}
			report = append(report, h)
		}

		return c.JSON(code, map[string]interface{}{
			"status":     status,
			"components": report,
		})
	}
}

// PoolCheck wraps a pgx pool as a health check.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Pinger:  pool,
		Details: func() interface{} { return GetPoolStats(pool) },
	}
}
