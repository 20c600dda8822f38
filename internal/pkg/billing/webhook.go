package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

// Outcome is what happened to a delivered webhook.
type Outcome string

const (
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

const (
	captureDeniedReason = "Payment capture denied by gateway"
	malformedEventType  = "MALFORMED"
)

// RetryEnqueuer schedules another attempt for a failed webhook event.
type RetryEnqueuer interface {
	EnqueueWebhookRetry(ctx context.Context, eventID uint) error
}

// WebhookProcessor verifies, deduplicates and applies gateway notifications.
type WebhookProcessor struct {
	events   repository.WebhookEventRepository
	payments repository.PaymentRepository
	gateway  Gateway
	orch     *Orchestrator
	auditor  Auditor
	retry    RetryEnqueuer
	now      func() time.Time
}

func NewWebhookProcessor(events repository.WebhookEventRepository, payments repository.PaymentRepository, gw Gateway, orch *Orchestrator, auditor Auditor) *WebhookProcessor {
	return &WebhookProcessor{
		events:   events,
		payments: payments,
		gateway:  gw,
		orch:     orch,
		auditor:  auditor,
		now:      time.Now,
	}
}

// SetRetryEnqueuer wires the background retry path. Without one, failed
// events wait for an operator retry.
func (w *WebhookProcessor) SetRetryEnqueuer(r RetryEnqueuer) {
	w.retry = r
}

func (w *WebhookProcessor) actor() audit.Actor {
	return audit.Actor{ID: w.gateway.Name() + "-webhook", Role: "system"}
}

// Process handles one delivery. A handler failure is recorded on the event
// and reported as OutcomeFailed with a nil error so the gateway is still
// acknowledged.
func (w *WebhookProcessor) Process(ctx context.Context, body []byte, headers SignatureHeaders) (Outcome, error) {
	gateway := w.gateway.Name()
	env, event, parseErr := ParseEvent(body)
	eventID := EventID(env, body)

	valid, err := w.gateway.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		logger.Error(ctx, "webhook signature verification errored", err, zap.String("event_id", eventID))
		valid = false
	}
	if !valid {
		metrics.WebhookSignatureFailures.WithLabelValues(gateway).Inc()
		metrics.WebhooksReceived.WithLabelValues(gateway, string(OutcomeRejected)).Inc()
		logger.Warn(ctx, "webhook signature invalid", zap.String("event_id", eventID))
		if _, aerr := w.auditor.Append(ctx, audit.Entry{
			Action:     audit.ActionWebhookRejected,
			Actor:      w.actor(),
			TargetType: "webhook",
			TargetID:   eventID,
			Metadata:   map[string]any{"eventType": env.EventType, "gateway": gateway},
		}); aerr != nil {
			return OutcomeRejected, errors.Join(ErrSignatureInvalid, aerr)
		}
		return OutcomeRejected, ErrSignatureInvalid
	}
	if parseErr != nil {
		return w.recordMalformed(ctx, eventID, env.EventType, body, parseErr)
	}

	created, rec, err := w.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		Gateway:        gateway,
		EventID:        eventID,
		EventType:      env.EventType,
		PayloadJSON:    string(body),
		SignatureValid: true,
		Status:         models.WebhookStatusPending,
		ReceivedAt:     w.now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, apperrors.Internal(fmt.Errorf("record webhook event: %w", err))
	}
	if !created {
		metrics.WebhooksReceived.WithLabelValues(gateway, string(OutcomeDuplicate)).Inc()
		logger.Info(ctx, "duplicate webhook ignored", zap.String("event_id", eventID))
		return OutcomeDuplicate, nil
	}

	outcome, err := w.apply(ctx, rec, env, event)
	if err != nil {
		if w.retry != nil {
			if qerr := w.retry.EnqueueWebhookRetry(ctx, rec.ID); qerr != nil {
				logger.Error(ctx, "enqueue webhook retry failed", qerr, zap.String("event_id", eventID))
			}
		}
		return OutcomeFailed, nil
	}
	return outcome, nil
}

// recordMalformed stores a signed delivery that could not be decoded as a
// failed event. The gateway is acknowledged since resending the same body
// cannot succeed.
func (w *WebhookProcessor) recordMalformed(ctx context.Context, eventID, eventType string, body []byte, parseErr error) (Outcome, error) {
	gateway := w.gateway.Name()
	if eventType == "" {
		eventType = malformedEventType
	}
	logger.Warn(ctx, "signed webhook payload is malformed",
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
		zap.Error(parseErr),
	)
	created, _, err := w.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		Gateway:         gateway,
		EventID:         eventID,
		EventType:       eventType,
		PayloadJSON:     string(body),
		SignatureValid:  true,
		Status:          models.WebhookStatusFailed,
		ProcessingError: parseErr.Error(),
		ReceivedAt:      w.now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, apperrors.Internal(fmt.Errorf("record webhook event: %w", err))
	}
	if !created {
		metrics.WebhooksReceived.WithLabelValues(gateway, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}
	metrics.WebhooksReceived.WithLabelValues(gateway, string(OutcomeFailed)).Inc()
	return OutcomeFailed, nil
}

// Reprocess runs a stored event through dispatch again. Events that were
// already processed are left alone.
func (w *WebhookProcessor) Reprocess(ctx context.Context, id uint) (Outcome, error) {
	rec, err := w.events.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.New(apperrors.KindNotFound, "Webhook event not found", ErrWebhookNotFound)
	}
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("load webhook event: %w", err))
	}
	if rec.Status == models.WebhookStatusProcessed {
		return OutcomeDuplicate, nil
	}

	env, event, err := ParseEvent([]byte(rec.PayloadJSON))
	if err != nil {
		if merr := w.events.MarkFailed(ctx, rec.ID, err.Error()); merr != nil {
			logger.Error(ctx, "mark webhook failed", merr, zap.String("event_id", rec.EventID))
		}
		return OutcomeFailed, apperrors.Validation("Stored webhook payload is malformed", nil)
	}
	outcome, err := w.apply(ctx, rec, env, event)
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// apply dispatches the event and records the result on rec.
func (w *WebhookProcessor) apply(ctx context.Context, rec *models.WebhookEvent, env Envelope, event Event) (Outcome, error) {
	gateway := w.gateway.Name()
	outcome, err := w.dispatch(ctx, env, event)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(gateway, string(OutcomeFailed)).Inc()
		logger.Error(ctx, "webhook handler failed", err,
			zap.String("event_id", rec.EventID),
			zap.String("event_type", rec.EventType),
		)
		if merr := w.events.MarkFailed(ctx, rec.ID, err.Error()); merr != nil {
			logger.Error(ctx, "mark webhook failed", merr, zap.String("event_id", rec.EventID))
		}
		return OutcomeFailed, err
	}
	if err := w.events.MarkProcessed(ctx, rec.ID); err != nil {
		logger.Error(ctx, "mark webhook processed", err, zap.String("event_id", rec.EventID))
	}
	metrics.WebhooksReceived.WithLabelValues(gateway, string(outcome)).Inc()
	return outcome, nil
}

func (w *WebhookProcessor) dispatch(ctx context.Context, env Envelope, event Event) (Outcome, error) {
	actor := w.actor()
	switch ev := event.(type) {
	case CaptureCompleted:
		p, err := w.findPayment(ctx, ev.CaptureID, ev.OrderID)
		if err != nil {
			return OutcomeFailed, err
		}
		if p == nil {
			logger.Warn(ctx, "capture completed for unknown payment",
				zap.String("capture_id", ev.CaptureID),
				zap.String("gateway_order_id", ev.OrderID),
			)
			return OutcomeProcessed, nil
		}
		if _, err := w.orch.CompletePayment(ctx, p, ev.CaptureID, "", env.Resource, "webhook", actor); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeProcessed, nil

	case CaptureDenied:
		p, err := w.findPayment(ctx, ev.CaptureID, ev.OrderID)
		if err != nil {
			return OutcomeFailed, err
		}
		if p == nil {
			logger.Warn(ctx, "capture denied for unknown payment", zap.String("capture_id", ev.CaptureID))
			return OutcomeProcessed, nil
		}
		if _, err := w.orch.FailPayment(ctx, p, ev.CaptureID, captureDeniedReason, actor); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeProcessed, nil

	case CaptureRefunded:
		p, err := w.findPayment(ctx, ev.CaptureID, "")
		if err != nil {
			return OutcomeFailed, err
		}
		if p == nil {
			logger.Warn(ctx, "refund for unknown capture", zap.String("capture_id", ev.CaptureID), zap.String("refund_id", ev.RefundID))
			return OutcomeProcessed, nil
		}
		if _, err := w.orch.RefundPayment(ctx, p, ev.RefundID, actor); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeProcessed, nil

	case UnknownEvent:
		logger.Info(ctx, "unhandled webhook event type", zap.String("event_type", ev.Type))
		return OutcomeIgnored, nil
	}
	return OutcomeIgnored, nil
}

// findPayment looks a payment up by capture id, then by gateway order id.
// It returns nil when neither matches.
func (w *WebhookProcessor) findPayment(ctx context.Context, captureID, orderID string) (*models.PaymentRecord, error) {
	if captureID != "" {
		p, err := w.payments.GetByCaptureID(ctx, captureID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load payment by capture: %w", err)
		}
	}
	if orderID != "" {
		p, err := w.payments.GetByGatewayOrderID(ctx, orderID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load payment by order: %w", err)
		}
	}
	return nil, nil
}
