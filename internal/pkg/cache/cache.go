package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the shared Redis connection used for rate-limit
// windows, usage counters, violation buckets and the job queue.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     env.GetEnv("CACHE_PASSWORD", ""),
		DB:           env.GetEnvInt("CACHE_DB", 0),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		logger.Log.Warn("could not connect to redis", zap.Error(err))
	} else {
		logger.Log.Info("connected to redis", zap.String("pong", pong))
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Close releases the connection pool.
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
