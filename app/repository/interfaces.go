package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a payment status change is not one of
// the legal forward transitions.
var ErrInvalidTransition = errors.New("invalid payment status transition")

// PaymentRepository defines payment record persistence
type PaymentRepository interface {
	Create(ctx context.Context, p *models.PaymentRecord) error
	GetByID(ctx context.Context, id uint) (*models.PaymentRecord, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*models.PaymentRecord, error)
	GetByCaptureID(ctx context.Context, captureID string) (*models.PaymentRecord, error)
	UpdateCaptureDetails(ctx context.Context, id uint, captureID, payerEmail string, snapshot []byte) error
	// Transition moves a record from -> to only if its stored status still
	// equals from. It reports whether this call performed the transition.
	Transition(ctx context.Context, id uint, from, to string, fields map[string]any) (bool, error)
	// Revert undoes a transition whose audit entry could not be written.
	Revert(ctx context.Context, id uint, from, to string, fields map[string]any) (bool, error)
}

// WebhookEventRepository defines webhook dedup ledger persistence
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, processingError string) error
	ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

// AuditFilter narrows Recent queries. Zero values mean no filter.
type AuditFilter struct {
	Action   string
	Severity string
	Since    time.Time
}

// AuditLogRepository is append-only: there is no update or delete.
type AuditLogRepository interface {
	Last(ctx context.Context) (*models.AuditLogEntry, error)
	Create(ctx context.Context, e *models.AuditLogEntry) error
	GetBySequence(ctx context.Context, seq uint64) (*models.AuditLogEntry, error)
	Range(ctx context.Context, from, to uint64) ([]models.AuditLogEntry, error)
	ByActor(ctx context.Context, actorID string, limit int) ([]models.AuditLogEntry, error)
	ByTarget(ctx context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error)
	Recent(ctx context.Context, limit int, f AuditFilter) ([]models.AuditLogEntry, error)
	Count(ctx context.Context, since time.Time) (int64, error)
	CountBy(ctx context.Context, column string, since time.Time, limit int) ([]models.KeyCount, error)
}

// SubscriptionRepository defines subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, s *models.Subscription) error
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetLatestByPayment(ctx context.Context, paymentRecordID uint) (*models.Subscription, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.Subscription, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	Cancel(ctx context.Context, id uint, reason string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
}

// EntitlementRepository defines granted capability persistence
type EntitlementRepository interface {
	ListByUser(ctx context.Context, userID string) ([]string, error)
	Grant(ctx context.Context, userID string, entitlements []string) error
	Revoke(ctx context.Context, userID string, entitlements []string) error
}

// UsageRepository defines quota usage persistence
type UsageRepository interface {
	Increment(ctx context.Context, userID, category, period string, periodStart time.Time, delta int64) (int64, error)
	Get(ctx context.Context, userID, category, period string, periodStart time.Time) (int64, error)
}

// APIKeyUsageRepository defines API key usage persistence
type APIKeyUsageRepository interface {
	AddUsage(ctx context.Context, keyID string, delta int64, lastUsed *time.Time, ip, userAgent string) error
	List(ctx context.Context) ([]models.APIKeyUsage, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Payment      PaymentRepository
	WebhookEvent WebhookEventRepository
	AuditLog     AuditLogRepository
	Subscription SubscriptionRepository
	Entitlement  EntitlementRepository
	Usage        UsageRepository
	APIKeyUsage  APIKeyUsageRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Payment:      NewPaymentRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		AuditLog:     NewAuditLogRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Entitlement:  NewEntitlementRepository(db),
		Usage:        NewUsageRepository(db),
		APIKeyUsage:  NewAPIKeyUsageRepository(db),
	}
}
