package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

const (
	JobKeyPrefix     = "payguard:job:"
	JobQueueKey      = "payguard:jobs:pending"
	JobProcessingKey = "payguard:jobs:processing"
	JobStatsKey      = "payguard:jobs:stats"

	// DefaultMaxRetries is the total number of attempts a job gets.
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	defaultRetryBase = 30 * time.Second
)

// Handler runs one job. Returning an error wrapped with Permanent fails the
// job without a retry.
type Handler func(ctx context.Context, job *Job) error

// Queue runs registered job handlers on a Redis list with a fixed worker pool.
type Queue struct {
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	handlers  map[JobType]Handler
	retryBase time.Duration
}

func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}

	return &Queue{
		client:     client,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
		handlers:   make(map[JobType]Handler),
		retryBase:  defaultRetryBase,
	}
}

// Register installs the handler for a job type. Register before Start.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start launches the workers and the stuck-job sweeper. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	logger.Info(context.Background(), "job queue starting", zap.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Recovers jobs left in the processing list by a crashed instance
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, 1*time.Minute)
}

// Stop stops the job queue workers and waits for in-flight jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	ctx := context.Background()
	logger.Info(ctx, "job queue stopping")
	q.wg.Wait()
	// drain the pool so a later Start refills it from empty
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	logger.Info(ctx, "job queue stopped")
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if n := q.recoverStuck(ctx, maxAge); n > 0 {
				logger.Warn(ctx, "recovered stuck jobs", zap.Int("count", n))
			}
		}
	}
}

// recoverStuck moves jobs that have been processing for longer than maxAge
// back to the pending list and returns how many it moved.
func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration) int {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		logger.Error(ctx, "job sweeper lrange failed", err)
		return 0
	}
	recovered := 0
	now := time.Now()
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// job data expired or unreadable
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		started := job.ProcessedAt
		if started == nil || started.IsZero() {
			tmp := job.UpdatedAt
			if tmp.IsZero() {
				tmp = job.CreatedAt
			}
			started = &tmp
		}
		if now.Sub(*started) <= maxAge {
			continue
		}
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		_ = q.client.RPush(ctx, JobQueueKey, id).Err()
		recovered++
	}
	return recovered
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					logger.Error(ctx, "dequeue job failed", err, zap.Int("worker", id))
				}
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if job != nil {
				q.processJob(ctx, job)
			}

			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob stores the job and pushes its id onto the pending list.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID

	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobKey, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Debug(ctx, "job enqueued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return job, nil
}

// EnqueueWebhookRetry schedules a stored webhook event for another dispatch.
func (q *Queue) EnqueueWebhookRetry(ctx context.Context, eventID uint) error {
	_, err := q.EnqueueJob(ctx, JobTypeWebhookRetry, WebhookRetryJobPayload{EventID: eventID}.ToMap())
	return err
}

func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s", jobID)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, nil
}

// processJob runs the handler. Failures are retried with backoff until the
// attempts run out.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if h, ok := q.handler(job.Type); ok {
		err = h(ctx, job)
	} else {
		err = Permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
	}

	if err != nil {
		job.MarkAsFailed(err.Error())

		if job.IsRetryable() && !IsPermanent(err) {
			delay := retryDelay(q.retryBase, job.RetryCount)
			logger.Warn(ctx, "job failed, retrying", append(fields,
				zap.Int("attempt", job.RetryCount),
				zap.Int("max_attempts", job.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err),
			)...)
			job.MarkAsRetrying()
			q.updateJob(ctx, job)
			metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusRetrying)).Inc()

			jobID := job.ID
			time.AfterFunc(delay, func() {
				if perr := q.client.LPush(context.Background(), JobQueueKey, jobID).Err(); perr != nil {
					logger.Error(context.Background(), "requeue job failed", perr, zap.String("job_id", jobID))
				}
			})
		} else {
			logger.Error(ctx, "job permanently failed", err, append(fields, zap.Int("attempts", job.RetryCount))...)
			q.updateJobStats(ctx, JobStatusFailed, 1)
			metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusFailed)).Inc()
			q.updateJob(ctx, job)
		}
	} else {
		logger.Debug(ctx, "job completed", fields...)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusCompleted)).Inc()
		q.removeCompletedJob(ctx, job.ID)
	}

	q.removeFromProcessing(ctx, job.ID)
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		logger.Error(ctx, "marshal job failed", err, zap.String("job_id", job.ID))
		return
	}

	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		logger.Error(ctx, "update job failed", err, zap.String("job_id", job.ID))
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		logger.Error(ctx, "remove job from processing failed", err, zap.String("job_id", jobID))
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		logger.Error(ctx, "remove completed job failed", err, zap.String("job_id", jobID))
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		logger.Error(ctx, "update job stats failed", err)
	}
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns the completed/failed/pending counters.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
