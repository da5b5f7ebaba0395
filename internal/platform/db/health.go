package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// HealthHandler answers liveness checks. With a pool it also pings the
// database and reports connection counts; with a nil pool (memory
// backend) it reports the store as in-process.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := map[string]interface{}{"status": "ok"}

		if pool == nil {
			body["store"] = "memory"
			return c.JSON(http.StatusOK, body)
		}

		body["store"] = "postgres"
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		stat := pool.Stat()
		body["connections"] = map[string]int32{
			"total":    stat.TotalConns(),
			"idle":     stat.IdleConns(),
			"acquired": stat.AcquiredConns(),
			"max":      stat.MaxConns(),
		}
		return c.JSON(http.StatusOK, body)
	}
}
