package models

import (
	"time"
)

// AuditLog represents a system audit entry. UserID is nil for entries
// written by the CLI and background jobs.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Action    string    `gorm:"size:50;not null" json:"action"`
	Entity    string    `gorm:"size:50;not null;index:idx_audit_entity" json:"entity"`
	EntityID  uint      `gorm:"index:idx_audit_entity" json:"entity_id"`
	Details   string    `gorm:"type:text" json:"details"`
	IPAddress string    `gorm:"size:45" json:"ip_address"`
	UserAgent string    `gorm:"size:255" json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`

	// Associations
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

// Audit actions
const (
	AuditActionCreate  = "CREATE"
	AuditActionUpdate  = "UPDATE"
	AuditActionDelete  = "DELETE"
	AuditActionCompute = "COMPUTE"
	AuditActionReady   = "READY"
	AuditActionSend    = "SEND"
)

// Audited entities
const (
	AuditEntityStatement = "Statement"
	AuditEntityCostItem  = "CostItem"
	AuditEntityResult    = "StatementResult"
)
