package models

import "time"

const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// WebhookEvent stores gateway notifications with deduplication metadata.
// Rows are never deleted so that events can be replayed.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Gateway         string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_gateway_event,unique,priority:1" json:"gateway"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_gateway_event,unique,priority:2" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ReceivedAt      time.Time  `gorm:"type:timestamp;not null" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
