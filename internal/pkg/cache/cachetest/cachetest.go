// Package cachetest connects tests to a real Redis and skips them when none
// is reachable.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
)

// isolatedDB keeps test keys away from the application database.
const isolatedDB = 14

// Client returns a client on an empty isolated database. The database is
// flushed again when the test finishes.
func Client(t *testing.T) *redis.Client {
	t.Helper()

	hosts := uniq(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	port := env.GetEnv("CACHE_PORT", "6379")
	password := env.GetEnv("CACHE_PASSWORD", "")

	var lastErr error
	for _, host := range hosts {
		client := redis.NewClient(&redis.Options{
			Addr:        fmt.Sprintf("%s:%s", host, port),
			Password:    password,
			DB:          isolatedDB,
			DialTimeout: 300 * time.Millisecond,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("flush test redis: %v", err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("redis not available: %v", lastErr)
	return nil
}

func uniq(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
