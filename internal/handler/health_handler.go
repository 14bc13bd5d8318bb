package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// QueueDepther exposes the current dispatch backlog for the liveness probe.
type QueueDepther interface {
	Len() int
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, queue QueueDepther) {
	app.Get("/livez", LivezHandler(queue))
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

func LivezHandler(queue QueueDepther) fiber.Handler {
	return func(c *fiber.Ctx) error {
		depth := 0
		if queue != nil {
			depth = queue.Len()
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"queueDepth": depth,
		})
	}
}

// ReadyzHandler probes the receipt ledger store and the budget limiter store.
// The push gateway is deliberately not probed: it is an external dependency
// the service degrades against rather than refuses traffic for.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgErr := sqlDB.PingContext(ctx)
		redisErr := rdb.Ping(ctx).Err()

		pgStatus := "ok"
		if pgErr != nil {
			pgStatus = "down"
		}
		redisStatus := "ok"
		if redisErr != nil {
			redisStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if pgErr != nil || redisErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
			},
		})
	}
}
