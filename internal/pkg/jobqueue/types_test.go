package jobqueue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name:      "Failed job with attempts remaining",
			job:       &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3},
			retryable: true,
		},
		{
			name:      "Failed job after the last attempt",
			job:       &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3},
			retryable: false,
		},
		{
			name:      "Completed job",
			job:       &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3},
			retryable: false,
		},
		{
			name:      "Processing job",
			job:       &Job{Status: JobStatusProcessing, MaxRetries: 3},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("gateway timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "gateway timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

func TestWebhookRetryJobPayloadFromMap(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    uint
		wantErr bool
	}{
		{"From ToMap", WebhookRetryJobPayload{EventID: 7}.ToMap(), 7, false},
		// values read back from Redis JSON are float64
		{"From decoded JSON", map[string]interface{}{"event_id": float64(12)}, 12, false},
		{"Missing id", map[string]interface{}{}, 0, true},
		{"Wrong type", map[string]interface{}{"event_id": "abc"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := WebhookRetryJobPayloadFromMap(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.EventID)
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("event missing")
	wrapped := fmt.Errorf("handler: %w", Permanent(base))

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestRetryDelay(t *testing.T) {
	base := 30 * time.Second
	assert.Equal(t, 30*time.Second, retryDelay(base, 1))
	assert.Equal(t, time.Minute, retryDelay(base, 2))
	assert.Equal(t, 2*time.Minute, retryDelay(base, 3))
	assert.Equal(t, 30*time.Second, retryDelay(base, 0))
}
