package jobqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

// Flusher drains buffered counters into the database.
// *counter.APIKeyUsage implements it.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// ManagerConfig holds the worker count and the periodic task intervals.
type ManagerConfig struct {
	Workers        int
	ExpiryInterval time.Duration
	FlushInterval  time.Duration
}

// ManagerConfigFromEnv reads JOBQUEUE_WORKERS, SUBSCRIPTION_EXPIRY_INTERVAL
// and USAGE_FLUSH_INTERVAL.
func ManagerConfigFromEnv() ManagerConfig {
	return ManagerConfig{
		Workers:        env.GetEnvInt("JOBQUEUE_WORKERS", 3),
		ExpiryInterval: env.GetEnvDuration("SUBSCRIPTION_EXPIRY_INTERVAL", 15*time.Minute),
		FlushInterval:  env.GetEnvDuration("USAGE_FLUSH_INTERVAL", 30*time.Second),
	}
}

// Manager manages the job queue and the periodic background tasks
type Manager struct {
	queue   *Queue
	usage   Flusher
	cfg     ManagerConfig
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager wires the periodic tasks around queue. usage may be nil.
func NewManager(queue *Queue, usage Flusher, cfg ManagerConfig) *Manager {
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 15 * time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Manager{queue: queue, usage: usage, cfg: cfg}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// fresh channel per cycle so the manager can be restarted
	m.stopCh = make(chan struct{})
	m.running = true

	m.queue.Start()

	m.wg.Add(1)
	go m.every(m.cfg.ExpiryInterval, "subscription expiry", m.enqueueExpiry)

	if m.usage != nil {
		m.wg.Add(1)
		go m.every(m.cfg.FlushInterval, "usage flush", m.flushUsage)
	}

	logger.Info(context.Background(), "job manager started",
		zap.Duration("expiry_interval", m.cfg.ExpiryInterval),
		zap.Duration("flush_interval", m.cfg.FlushInterval),
	)
}

// Stop stops the periodic tasks, flushes counters one last time and stops
// the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	ctx := context.Background()
	if m.usage != nil {
		if err := m.flushUsage(ctx); err != nil {
			logger.Error(ctx, "final usage flush failed", err)
		}
	}

	m.queue.Stop()
	logger.Info(ctx, "job manager stopped")
}

func (m *Manager) every(interval time.Duration, name string, task func(context.Context) error) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := task(ctx); err != nil {
				logger.Error(ctx, "periodic task failed", err, zap.String("task", name))
			}
		}
	}
}

func (m *Manager) enqueueExpiry(ctx context.Context) error {
	_, err := m.queue.EnqueueJob(ctx, JobTypeSubscriptionExpiry, map[string]interface{}{})
	return err
}

func (m *Manager) flushUsage(ctx context.Context) error {
	n, err := m.usage.Flush(ctx)
	if n > 0 {
		logger.Debug(ctx, "api key usage flushed", zap.Int("keys", n))
	}
	return err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
