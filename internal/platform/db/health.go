package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is satisfied by *pgxpool.Pool and lock.RedisPinger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports 200 when every named dependency answers a ping
// within five seconds and 503 otherwise.
func HealthHandler(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		code := http.StatusOK
		checks := make(map[string]string, len(deps))
		body := map[string]interface{}{"checks": checks}
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
			if pool, ok := dep.(*pgxpool.Pool); ok {
				body["pool"] = GetPoolStats(pool)
			}
		}
		body["status"] = "healthy"
		if code != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(code, body)
	}
}
