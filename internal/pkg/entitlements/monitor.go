package entitlements

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

type ViolationType string

const (
	ViolationQuotaExceeded      ViolationType = "quota_exceeded"
	ViolationUnauthorizedAccess ViolationType = "unauthorized_access"
	ViolationSuspicious         ViolationType = "suspicious_activity"
)

var violationTypes = []ViolationType{ViolationQuotaExceeded, ViolationUnauthorizedAccess, ViolationSuspicious}

const (
	globalAlertThreshold = 10
	userAlertThreshold   = 5
	rateLimitThreshold   = 3
	counterTTL           = 24 * time.Hour
	bucketLayout         = "2006010215"
)

// Violation is one denied or suspicious request.
type Violation struct {
	UserID   string
	Type     ViolationType
	Severity string
	Resource string
	Details  map[string]any
}

// CounterStore is an increment-with-TTL counter keyed by string.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// MonitorStats summarizes the current hour.
type MonitorStats struct {
	Hour   string                  `json:"hour"`
	Total  int64                   `json:"total"`
	ByType map[ViolationType]int64 `json:"byType"`
}

// Monitor counts violations per user and hour so that repeated probing can
// be alerted on and throttled.
type Monitor struct {
	store CounterStore
	now   func() time.Time
}

func NewMonitor(store CounterStore) *Monitor {
	return &Monitor{store: store, now: time.Now}
}

func (m *Monitor) bucket() string {
	return m.now().UTC().Format(bucketLayout)
}

func userKey(userID, bucket string) string {
	return fmt.Sprintf("violations:user:%s:%s", userID, bucket)
}

func globalKey(bucket string) string {
	return "violations:global:" + bucket
}

func typeKey(t ViolationType, bucket string) string {
	return fmt.Sprintf("violations:type:%s:%s", t, bucket)
}

// Record stores v. Counter failures are logged and returned; callers still
// deny the request.
func (m *Monitor) Record(ctx context.Context, v Violation) error {
	if v.UserID == "" {
		v.UserID = "anonymous"
	}
	if v.Severity == "" {
		v.Severity = "medium"
	}
	metrics.EntitlementDenials.WithLabelValues(string(v.Type)).Inc()
	logger.Warn(ctx, "entitlement violation",
		zap.String("user_id", v.UserID),
		zap.String("type", string(v.Type)),
		zap.String("severity", v.Severity),
		zap.String("resource", v.Resource),
		zap.Any("details", v.Details),
	)

	b := m.bucket()
	userCount, err := m.store.Incr(ctx, userKey(v.UserID, b), counterTTL)
	if err != nil {
		logger.Error(ctx, "violation counter failed", err)
		return err
	}
	globalCount, err := m.store.Incr(ctx, globalKey(b), counterTTL)
	if err != nil {
		logger.Error(ctx, "violation counter failed", err)
		return err
	}
	if _, err := m.store.Incr(ctx, typeKey(v.Type, b), counterTTL); err != nil {
		logger.Error(ctx, "violation counter failed", err)
		return err
	}

	if userCount == userAlertThreshold {
		metrics.EntitlementAlerts.WithLabelValues("user").Inc()
		logger.Error(ctx, "ALERT: repeated entitlement violations by user", nil,
			zap.String("user_id", v.UserID), zap.Int64("count", userCount), zap.String("hour", b))
	}
	if globalCount == globalAlertThreshold {
		metrics.EntitlementAlerts.WithLabelValues("global").Inc()
		logger.Error(ctx, "ALERT: high entitlement violation rate", nil,
			zap.Int64("count", globalCount), zap.String("hour", b))
	}
	return nil
}

// ShouldRateLimit reports whether userID has enough violations this hour to
// be throttled instead of receiving further denials.
func (m *Monitor) ShouldRateLimit(ctx context.Context, userID string) bool {
	if userID == "" {
		userID = "anonymous"
	}
	n, err := m.store.Get(ctx, userKey(userID, m.bucket()))
	if err != nil {
		return false
	}
	return n >= rateLimitThreshold
}

func (m *Monitor) Statistics(ctx context.Context) (*MonitorStats, error) {
	b := m.bucket()
	total, err := m.store.Get(ctx, globalKey(b))
	if err != nil {
		return nil, err
	}
	stats := &MonitorStats{Hour: b, Total: total, ByType: make(map[ViolationType]int64, len(violationTypes))}
	for _, t := range violationTypes {
		n, err := m.store.Get(ctx, typeKey(t, b))
		if err != nil {
			return nil, err
		}
		stats.ByType[t] = n
	}
	return stats, nil
}

// RedisCounterStore shares counters between instances.
type RedisCounterStore struct {
	rdb redis.Cmdable
}

func NewRedisCounterStore(rdb redis.Cmdable) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// MemoryCounterStore is a single-instance store.
type MemoryCounterStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryCounter
}

type memoryCounter struct {
	n         int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{now: time.Now, entries: map[string]memoryCounter{}}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = memoryCounter{expiresAt: now.Add(ttl)}
	}
	e.n++
	s.entries[key] = e
	return e.n, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.n, nil
}
