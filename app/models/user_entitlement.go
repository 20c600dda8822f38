package models

import "time"

// UserEntitlement is one granted capability string for a user.
type UserEntitlement struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index:ux_user_entitlements_user_ent,unique,priority:1" json:"user_id"`
	Entitlement string    `gorm:"type:varchar(20);not null;index:ux_user_entitlements_user_ent,unique,priority:2" json:"entitlement"`
	GrantedAt   time.Time `gorm:"type:timestamp;not null" json:"granted_at"`
}
