package models

import "time"

// APIKeyUsage is the persisted usage summary for one logical API key id.
type APIKeyUsage struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	KeyID         string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"key_id"`
	UsageCount    int64      `gorm:"not null;default:0" json:"usage_count"`
	LastUsedAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	LastIP        string     `gorm:"type:varchar(64)" json:"last_ip,omitempty"`
	LastUserAgent string     `gorm:"type:varchar(255)" json:"last_user_agent,omitempty"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
