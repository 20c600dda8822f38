package jobqueue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

// WebhookReprocessor dispatches a stored webhook event again.
// *billing.WebhookProcessor implements it.
type WebhookReprocessor interface {
	Reprocess(ctx context.Context, id uint) (billing.Outcome, error)
}

// SubscriptionExpirer expires subscriptions whose period has ended.
// *billing.Subscriptions implements it.
type SubscriptionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// WebhookRetryHandler re-dispatches the event named in the job payload.
// Missing events and malformed stored payloads are not retried.
func WebhookRetryHandler(w WebhookReprocessor) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := WebhookRetryJobPayloadFromMap(job.Payload)
		if err != nil {
			return Permanent(err)
		}

		outcome, err := w.Reprocess(ctx, payload.EventID)
		switch {
		case errors.Is(err, billing.ErrWebhookNotFound):
			return Permanent(err)
		case apperrors.Is(err, apperrors.KindValidation):
			return Permanent(err)
		case err != nil:
			return err
		}
		logger.Info(ctx, "webhook event reprocessed",
			zap.Uint("event_id", payload.EventID),
			zap.String("outcome", string(outcome)),
			zap.Int("attempt", job.RetryCount+1),
		)
		return nil
	}
}

// SubscriptionExpiryHandler expires due subscriptions as of the time the job runs.
func SubscriptionExpiryHandler(e SubscriptionExpirer) Handler {
	return func(ctx context.Context, job *Job) error {
		n, err := e.ExpireDue(ctx, time.Now().UTC())
		if n > 0 {
			logger.Info(ctx, "subscriptions expired", zap.Int("count", n))
		}
		return err
	}
}
