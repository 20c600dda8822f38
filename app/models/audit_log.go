package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditGenesisHash is the previous hash of the first ledger entry.
const AuditGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditLogEntry is one immutable, hash-chained ledger fact.
type AuditLogEntry struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	SequenceNumber uint64         `gorm:"not null;uniqueIndex" json:"sequence_number"`
	Timestamp      time.Time      `gorm:"type:datetime(3);not null;index" json:"timestamp"`
	Action         string         `gorm:"type:varchar(64);not null;index" json:"action"`
	Severity       string         `gorm:"type:varchar(16);not null;index" json:"severity"`
	ActorID        string         `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	ActorEmailHash string         `gorm:"type:varchar(80)" json:"actor_email_hash,omitempty"`
	ActorRole      string         `gorm:"type:varchar(32)" json:"actor_role,omitempty"`
	ActorIP        string         `gorm:"type:varchar(64)" json:"actor_ip,omitempty"`
	ActorUserAgent string         `gorm:"type:varchar(255)" json:"actor_user_agent,omitempty"`
	TargetType     string         `gorm:"type:varchar(32);index:idx_audit_logs_target,priority:1" json:"target_type,omitempty"`
	TargetID       string         `gorm:"type:varchar(191);index:idx_audit_logs_target,priority:2" json:"target_id,omitempty"`
	RequestID      string         `gorm:"type:varchar(64)" json:"request_id,omitempty"`
	Changes        datatypes.JSON `json:"changes,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	PreviousHash   string         `gorm:"type:char(64);not null" json:"previous_hash"`
	CurrentHash    string         `gorm:"type:char(64);not null;uniqueIndex" json:"current_hash"`
}

func (AuditLogEntry) TableName() string {
	return "audit_logs"
}
