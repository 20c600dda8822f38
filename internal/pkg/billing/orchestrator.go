package billing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

// Capture statuses reported by the gateway.
const (
	CaptureStatusCompleted = "COMPLETED"
	CaptureStatusDeclined  = "DECLINED"
	CaptureStatusFailed    = "FAILED"
)

// CreateOrderInput is a checkout request. The amount is always priced here.
type CreateOrderInput struct {
	UserID       string `validate:"required,max=64"`
	PlanType     string `validate:"required,oneof=INTERMEDIATE SENIOR BUNDLE"`
	BillingCycle string `validate:"required,oneof=monthly yearly"`
	Currency     string `validate:"required,oneof=USD JOD SAR"`
	CartID       string `validate:"max=128"`
}

type CreateOrderResult struct {
	OrderID         string `json:"orderID"`
	InternalOrderID string `json:"internalOrderID"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

type CaptureResult struct {
	Status     string `json:"status"`
	CaptureID  string `json:"captureID"`
	PayerEmail string `json:"payerEmail,omitempty"`
}

// Orchestrator drives the order/capture flow and the follow-up shared with
// webhooks.
type Orchestrator struct {
	payments repository.PaymentRepository
	gateway  Gateway
	pricing  Pricing
	subs     *Subscriptions
	auditor  Auditor
	validate *validator.Validate
	now      func() time.Time
}

func NewOrchestrator(payments repository.PaymentRepository, gw Gateway, pricing Pricing, subs *Subscriptions, auditor Auditor) *Orchestrator {
	return &Orchestrator{
		payments: payments,
		gateway:  gw,
		pricing:  pricing,
		subs:     subs,
		auditor:  auditor,
		validate: validator.New(),
		now:      time.Now,
	}
}

// IdempotencyKey derives the gateway request id for a checkout. Retries of the
// same cart by the same user map to the same gateway order.
func IdempotencyKey(cartID, userID string) string {
	sum := sha256.Sum256([]byte(cartID + ":" + userID))
	return hex.EncodeToString(sum[:])[:36]
}

func fallbackCartID(plan string, now time.Time) string {
	return fmt.Sprintf("plan-%s-%d", plan, now.UnixMilli())
}

func newInternalOrderID(now time.Time) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(b[:]))), nil
}

func captureRequestID(gatewayOrderID string) string {
	sum := sha256.Sum256([]byte("capture:" + gatewayOrderID))
	return hex.EncodeToString(sum[:])[:36]
}

// CreateOrder prices the plan, opens the gateway order and records a pending
// payment.
func (o *Orchestrator) CreateOrder(ctx context.Context, in CreateOrderInput, actor audit.Actor) (*CreateOrderResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.PlanType = strings.ToUpper(strings.TrimSpace(in.PlanType))
	in.BillingCycle = strings.ToLower(strings.TrimSpace(in.BillingCycle))
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := o.validate.Struct(in); err != nil {
		return nil, apperrors.FromValidator(err)
	}

	price, err := o.pricing.Price(ctx, in.PlanType, in.BillingCycle, in.Currency)
	if err != nil {
		return nil, apperrors.Validation("Plan cannot be priced", map[string]string{"planType": err.Error()})
	}

	now := o.now()
	cartID := in.CartID
	if strings.TrimSpace(cartID) == "" {
		cartID = fallbackCartID(in.PlanType, now)
	}
	requestID := IdempotencyKey(cartID, in.UserID)

	item := OrderItem{
		Name:     fmt.Sprintf("%s Plan - %s", in.PlanType, in.BillingCycle),
		Price:    price,
		Quantity: 1,
	}
	order, err := o.gateway.CreateOrder(ctx, OrderRequest{
		RequestID: requestID,
		UserID:    in.UserID,
		Total:     price,
		Items:     []OrderItem{item},
	})
	if err != nil {
		logger.Error(ctx, "gateway create order failed", err, zap.String("user_id", in.UserID), zap.String("plan", in.PlanType))
		return nil, apperrors.Gateway("create order", err)
	}

	// The same request id returns the same gateway order; reuse its record.
	if existing, err := o.payments.GetByGatewayOrderID(ctx, order.ID); err == nil {
		return &CreateOrderResult{
			OrderID:         existing.GatewayOrderID,
			InternalOrderID: existing.OrderID,
			Amount:          existing.Amount,
			Currency:        existing.Currency,
		}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Internal(fmt.Errorf("load payment: %w", err))
	}

	internalID, err := newInternalOrderID(now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	items, err := json.Marshal([]models.LineItem{{
		Type:     "subscription",
		Name:     item.Name,
		Currency: price.Currency,
		Amount:   price.Amount,
		Quantity: 1,
	}})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	p := &models.PaymentRecord{
		OrderID:        internalID,
		GatewayOrderID: order.ID,
		UserID:         in.UserID,
		Currency:       price.Currency,
		Amount:         price.Amount,
		Items:          datatypes.JSON(items),
		PlanType:       in.PlanType,
		BillingCycle:   in.BillingCycle,
		Status:         models.PaymentStatusPending,
		Gateway:        o.gateway.Name(),
		IdempotencyKey: requestID,
	}
	if err := o.payments.Create(ctx, p); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create payment: %w", err))
	}
	metrics.Payments.WithLabelValues(models.PaymentStatusPending).Inc()

	if _, err := o.auditor.Append(ctx, audit.Entry{
		Action:     audit.ActionPaymentCreated,
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.OrderID,
		Changes: map[string]any{
			"after": map[string]any{
				"status":         p.Status,
				"userId":         p.UserID,
				"planType":       p.PlanType,
				"billingCycle":   p.BillingCycle,
				"amount":         p.Amount,
				"currency":       p.Currency,
				"gatewayOrderId": p.GatewayOrderID,
			},
		},
	}); err != nil {
		return nil, err
	}

	logger.Info(ctx, "payment order created",
		zap.String("order_id", p.OrderID),
		zap.String("gateway_order_id", p.GatewayOrderID),
		zap.String("plan", p.PlanType),
	)
	return &CreateOrderResult{
		OrderID:         p.GatewayOrderID,
		InternalOrderID: p.OrderID,
		Amount:          p.Amount,
		Currency:        p.Currency,
	}, nil
}

// CaptureOrder captures an approved gateway order. Capturing a completed
// payment again returns the stored capture without calling the gateway.
func (o *Orchestrator) CaptureOrder(ctx context.Context, gatewayOrderID string, actor audit.Actor) (*CaptureResult, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, apperrors.Validation("orderID is required", map[string]string{"orderID": "failed on required"})
	}

	p, err := o.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "Payment not found", ErrPaymentNotFound)
	}
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("load payment: %w", err))
	}

	switch p.Status {
	case models.PaymentStatusCompleted:
		if err := o.ensureCompleted(ctx, p, actor); err != nil {
			return nil, err
		}
		return &CaptureResult{Status: CaptureStatusCompleted, CaptureID: p.GatewayCaptureID, PayerEmail: p.PayerEmail}, nil
	case models.PaymentStatusFailed:
		return nil, apperrors.CaptureDenied(p.FailureReason)
	case models.PaymentStatusRefunded:
		return nil, apperrors.Validation("Payment has been refunded", nil)
	}

	resp, err := o.gateway.CaptureOrder(ctx, gatewayOrderID, captureRequestID(gatewayOrderID))
	if err != nil {
		logger.Error(ctx, "gateway capture failed", err, zap.String("order_id", p.OrderID))
		return nil, apperrors.Gateway("capture order", err)
	}
	captureID, status, ok := resp.FirstCapture()
	if !ok {
		return nil, apperrors.Gateway("capture order", errors.New("response has no capture"))
	}
	payerEmail := resp.PayerEmail()

	switch status {
	case CaptureStatusCompleted:
		if _, err := o.CompletePayment(ctx, p, captureID, payerEmail, resp.Raw, "capture", actor); err != nil {
			return nil, err
		}
	case CaptureStatusDeclined, CaptureStatusFailed:
		reason := "Payment capture " + strings.ToLower(status)
		if _, err := o.FailPayment(ctx, p, captureID, reason, actor); err != nil {
			return nil, err
		}
		return nil, apperrors.CaptureDenied(reason)
	default:
		if err := o.payments.UpdateCaptureDetails(ctx, p.ID, captureID, payerEmail, resp.Raw); err != nil {
			return nil, apperrors.Internal(fmt.Errorf("store capture details: %w", err))
		}
		logger.Info(ctx, "capture not yet completed", zap.String("order_id", p.OrderID), zap.String("status", status))
	}

	return &CaptureResult{Status: status, CaptureID: captureID, PayerEmail: payerEmail}, nil
}

// CompletePayment moves a pending payment to completed and runs the
// follow-up. It reports whether this call did the transition. The
// payment.captured entry is written right after the transition; when that
// fails the transition is reverted so the caller can retry from pending.
// When another call already completed the payment, whatever that call left
// undone is finished here.
func (o *Orchestrator) CompletePayment(ctx context.Context, p *models.PaymentRecord, captureID, payerEmail string, snapshot []byte, source string, actor audit.Actor) (bool, error) {
	now := o.now().UTC()
	fields := map[string]any{
		"gateway_capture_id": captureID,
		"completed_at":       now,
	}
	if payerEmail != "" {
		fields["payer_email"] = payerEmail
	}
	if len(snapshot) > 0 {
		fields["gateway_response"] = datatypes.JSON(snapshot)
	}

	ok, err := o.payments.Transition(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusCompleted, fields)
	if err != nil {
		return false, apperrors.Internal(fmt.Errorf("complete payment: %w", err))
	}
	if !ok {
		logger.Debug(ctx, "payment already transitioned", zap.String("order_id", p.OrderID), zap.String("source", source))
		return false, o.resumeFollowUp(ctx, p.ID, actor)
	}

	p.Status = models.PaymentStatusCompleted
	p.GatewayCaptureID = captureID
	p.CompletedAt = &now
	if payerEmail != "" {
		p.PayerEmail = payerEmail
	}

	if _, err := o.auditor.Append(ctx, capturedEntry(p, source, actor)); err != nil {
		o.revert(ctx, p, models.PaymentStatusPending, map[string]any{"completed_at": nil})
		return false, err
	}
	metrics.Payments.WithLabelValues(models.PaymentStatusCompleted).Inc()

	if _, err := o.subs.CreateFromPayment(ctx, p, actor); err != nil {
		return true, err
	}

	logger.Info(ctx, "payment completed",
		zap.String("order_id", p.OrderID),
		zap.String("capture_id", captureID),
		zap.String("source", source),
	)
	return true, nil
}

func capturedEntry(p *models.PaymentRecord, source string, actor audit.Actor) audit.Entry {
	return audit.Entry{
		Action:     audit.ActionPaymentCaptured,
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.OrderID,
		Changes: map[string]any{
			"before": map[string]any{"status": models.PaymentStatusPending},
			"after":  map[string]any{"status": models.PaymentStatusCompleted, "captureId": p.GatewayCaptureID},
		},
		Metadata: map[string]any{
			"source":   source,
			"amount":   p.Amount,
			"currency": p.Currency,
			"email":    p.PayerEmail,
		},
	}
}

// revert puts p back into status to after the audit entry for its last
// transition could not be written. A failed revert leaves the repair to the
// resume path of the next attempt.
func (o *Orchestrator) revert(ctx context.Context, p *models.PaymentRecord, to string, fields map[string]any) {
	from := p.Status
	ok, err := o.payments.Revert(ctx, p.ID, from, to, fields)
	if err != nil || !ok {
		logger.Error(ctx, "revert payment status failed", err,
			zap.String("order_id", p.OrderID),
			zap.String("from", from),
			zap.String("to", to),
		)
		return
	}
	p.Status = to
	logger.Warn(ctx, "payment status reverted after audit failure", zap.String("order_id", p.OrderID), zap.String("to", to))
}

// resumeFollowUp finishes a completion that stopped early. It does nothing
// unless the stored payment is completed.
func (o *Orchestrator) resumeFollowUp(ctx context.Context, paymentID uint, actor audit.Actor) error {
	current, err := o.payments.GetByID(ctx, paymentID)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("reload payment: %w", err))
	}
	if current.Status != models.PaymentStatusCompleted {
		return nil
	}
	return o.ensureCompleted(ctx, current, actor)
}

// ensureCompleted writes what an interrupted completion of p left out: the
// payment.captured entry, the subscription and its entitlements.
func (o *Orchestrator) ensureCompleted(ctx context.Context, p *models.PaymentRecord, actor audit.Actor) error {
	logged, err := hasFact(ctx, o.auditor, audit.ActionPaymentCaptured, "payment", p.OrderID)
	if err != nil {
		return err
	}
	if !logged {
		logger.Warn(ctx, "writing missing payment.captured entry", zap.String("order_id", p.OrderID))
		if _, err := o.auditor.Append(ctx, capturedEntry(p, "resume", actor)); err != nil {
			return err
		}
	}
	_, err = o.subs.CreateFromPayment(ctx, p, actor)
	return err
}

// FailPayment moves a pending payment to failed with reason.
func (o *Orchestrator) FailPayment(ctx context.Context, p *models.PaymentRecord, captureID, reason string, actor audit.Actor) (bool, error) {
	fields := map[string]any{"failure_reason": reason}
	if captureID != "" {
		fields["gateway_capture_id"] = captureID
	}
	ok, err := o.payments.Transition(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusFailed, fields)
	if err != nil {
		return false, apperrors.Internal(fmt.Errorf("fail payment: %w", err))
	}
	if !ok {
		return false, nil
	}
	metrics.Payments.WithLabelValues(models.PaymentStatusFailed).Inc()

	if _, err := o.auditor.Append(ctx, audit.Entry{
		Action:     audit.ActionPaymentFailed,
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.OrderID,
		Changes: map[string]any{
			"before": map[string]any{"status": models.PaymentStatusPending},
			"after":  map[string]any{"status": models.PaymentStatusFailed, "reason": reason},
		},
	}); err != nil {
		return true, err
	}
	logger.Warn(ctx, "payment failed", zap.String("order_id", p.OrderID), zap.String("reason", reason))
	return true, nil
}

// RefundPayment moves a completed payment to refunded, records the refund,
// cancels the subscription it bought and recomputes entitlements. A payment
// that is already refunded has the steps an earlier call did not finish run
// again.
func (o *Orchestrator) RefundPayment(ctx context.Context, p *models.PaymentRecord, refundID string, actor audit.Actor) (bool, error) {
	now := o.now().UTC()
	ok, err := o.payments.Transition(ctx, p.ID, models.PaymentStatusCompleted, models.PaymentStatusRefunded, map[string]any{
		"refunded_at": now,
	})
	if err != nil {
		return false, apperrors.Internal(fmt.Errorf("refund payment: %w", err))
	}
	if !ok {
		current, err := o.payments.GetByID(ctx, p.ID)
		if err != nil {
			return false, apperrors.Internal(fmt.Errorf("reload payment: %w", err))
		}
		if current.Status != models.PaymentStatusRefunded {
			return false, nil
		}
		return false, o.resumeRefund(ctx, current, refundID, actor)
	}
	p.Status = models.PaymentStatusRefunded
	p.RefundedAt = &now

	if _, err := o.auditor.Append(ctx, refundEntry(p, refundID, actor)); err != nil {
		o.revert(ctx, p, models.PaymentStatusCompleted, map[string]any{"refunded_at": nil})
		return false, err
	}
	metrics.Payments.WithLabelValues(models.PaymentStatusRefunded).Inc()

	if err := o.settleRefund(ctx, p, actor); err != nil {
		return true, err
	}
	logger.Info(ctx, "payment refunded", zap.String("order_id", p.OrderID), zap.String("refund_id", refundID))
	return true, nil
}

func refundEntry(p *models.PaymentRecord, refundID string, actor audit.Actor) audit.Entry {
	return audit.Entry{
		Action:     audit.ActionRefundIssued,
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.OrderID,
		Changes: map[string]any{
			"before": map[string]any{"status": models.PaymentStatusCompleted},
			"after":  map[string]any{"status": models.PaymentStatusRefunded},
		},
		Metadata: map[string]any{
			"refundId":  refundID,
			"captureId": p.GatewayCaptureID,
			"amount":    p.Amount,
			"currency":  p.Currency,
			"userId":    p.UserID,
			"paymentId": strconv.FormatUint(uint64(p.ID), 10),
		},
	}
}

func (o *Orchestrator) settleRefund(ctx context.Context, p *models.PaymentRecord, actor audit.Actor) error {
	if err := o.subs.CancelForPayment(ctx, p.ID, models.CancelReasonRefund, actor); err != nil {
		return err
	}
	return o.subs.RecomputeEntitlements(ctx, p.UserID, actor)
}

// resumeRefund finishes a refund whose status change already happened.
func (o *Orchestrator) resumeRefund(ctx context.Context, p *models.PaymentRecord, refundID string, actor audit.Actor) error {
	logged, err := hasFact(ctx, o.auditor, audit.ActionRefundIssued, "payment", p.OrderID)
	if err != nil {
		return err
	}
	if !logged {
		logger.Warn(ctx, "writing missing refund.issued entry", zap.String("order_id", p.OrderID))
		if _, err := o.auditor.Append(ctx, refundEntry(p, refundID, actor)); err != nil {
			return err
		}
	}
	return o.settleRefund(ctx, p, actor)
}
