package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

// warnRatio is the share of the budget at which abuse is logged before the
// hard limit is reached.
const warnRatio = 0.8

// Decision is the ephemeral outcome of one admission check.
type Decision struct {
	Profile    string
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	Allowed    bool
	RetryAfter int
}

// Limiter applies profiles against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Admit counts one request for key under profile p. A store error is
// returned together with an allowing decision so callers can fail open.
func (l *Limiter) Admit(ctx context.Context, p Profile, key string) (Decision, error) {
	d := Decision{Profile: p.Name, Key: key, Limit: p.Max, Allowed: true, Remaining: p.Max}

	count, ttl, err := l.store.Increment(ctx, p.Name+":"+key, p.Window)
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		return d, err
	}
	if ttl <= 0 {
		ttl = p.Window
	}
	d.ResetAt = l.now().Add(ttl)

	remaining := p.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d.Remaining = remaining

	if int(count) == warnThreshold(p.Max) && int(count) <= p.Max {
		logger.Warn(ctx, "rate limit budget nearly exhausted",
			zap.String("profile", p.Name),
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", p.Max),
		)
	}

	if int(count) > p.Max {
		d.Allowed = false
		d.RetryAfter = int(math.Ceil(ttl.Seconds()))
		if d.RetryAfter < 1 {
			d.RetryAfter = 1
		}
		metrics.RateLimitRejected.WithLabelValues(p.Name).Inc()
	}
	return d, nil
}

func warnThreshold(max int) int {
	t := int(math.Ceil(float64(max) * warnRatio))
	if t < 1 {
		t = 1
	}
	return t
}
