package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const GatewayPayPal = "paypal"

// PaymentRecord is one purchase attempt. It is created pending right after
// the gateway order exists and is the source of truth for reconciliation.
type PaymentRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	OrderID          string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	GatewayOrderID   string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_order_id"`
	GatewayCaptureID string         `gorm:"type:varchar(191);index" json:"gateway_capture_id,omitempty"`
	UserID           string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Currency         string         `gorm:"type:varchar(3);not null" json:"currency"`
	Amount           string         `gorm:"type:varchar(32);not null" json:"amount"`
	Items            datatypes.JSON `json:"items"`
	PlanType         string         `gorm:"type:varchar(20);not null" json:"plan_type"`
	BillingCycle     string         `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	Status           string         `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Gateway          string         `gorm:"type:varchar(20);not null;default:'paypal'" json:"gateway"`
	IdempotencyKey   string         `gorm:"type:varchar(64);not null;index" json:"idempotency_key"`
	PayerEmail       string         `gorm:"type:varchar(191)" json:"payer_email,omitempty"`
	FailureReason    string         `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	GatewayResponse  datatypes.JSON `json:"gateway_response,omitempty"`
	CompletedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	RefundedAt       *time.Time     `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// LineItem is one priced entry in PaymentRecord.Items.
type LineItem struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Quantity int    `json:"quantity"`
}

// CanTransition reports whether a payment may move from one status to another.
// Only pending->completed, pending->failed and completed->refunded are legal.
func CanTransition(from, to string) bool {
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusCompleted || to == PaymentStatusFailed
	case PaymentStatusCompleted:
		return to == PaymentStatusRefunded
	default:
		return false
	}
}

// CanRevert reports whether a transition may be undone. Only the steps whose
// audit fact is written right after them can be reverted.
func CanRevert(from, to string) bool {
	return (from == PaymentStatusCompleted && to == PaymentStatusPending) ||
		(from == PaymentStatusRefunded && to == PaymentStatusCompleted)
}
