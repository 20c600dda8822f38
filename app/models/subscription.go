package models

import "time"

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusPending   = "pending"
)

const (
	CancelReasonUserRequest   = "user_request"
	CancelReasonPaymentFailed = "payment_failed"
	CancelReasonAdminAction   = "admin_action"
	CancelReasonFraud         = "fraud"
	CancelReasonRefund        = "refund"
	CancelReasonOther         = "other"
)

// Subscription is the entitlement-bearing result of a completed payment.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PaymentRecordID    uint       `gorm:"not null;index" json:"payment_record_id"`
	PlanType           string     `gorm:"type:varchar(20);not null;index:idx_subscriptions_plan_status,priority:1" json:"plan_type"`
	Status             string     `gorm:"type:varchar(16);not null;default:'active';index:idx_subscriptions_plan_status,priority:2" json:"status"`
	BillingCycle       string     `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	CurrentPeriodStart time.Time  `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `gorm:"type:timestamp;not null;index" json:"current_period_end"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelledAt        *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CancelReason       string     `gorm:"type:varchar(32)" json:"cancel_reason,omitempty"`
	PriceCurrency      string     `gorm:"type:varchar(3)" json:"price_currency"`
	PriceAmount        string     `gorm:"type:varchar(32)" json:"price_amount"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodEnd returns the end of a billing period starting at start.
func PeriodEnd(start time.Time, cycle string) time.Time {
	if cycle == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
