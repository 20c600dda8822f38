package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
)

// Redis databases handed to fiber.Storage consumers. The shared client uses
// CACHE_DB (0 by default).
const (
	EntitlementsDB = 1
	IdempotencyDB  = 2
)

// NewStorage returns a fiber.Storage on the given Redis database, reusing the
// address and credentials of the shared client.
func NewStorage(database int) fiber.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnvInt("CACHE_PORT", 6379)
	password := env.GetEnv("CACHE_PASSWORD", "")

	if c := GetClient(); c != nil {
		if h, p, err := net.SplitHostPort(c.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		// Prefer password from the underlying client if present
		if p := c.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}
