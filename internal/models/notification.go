package models

import (
	"time"
)

// Notification types raised by the statement workflow
const (
	NotificationTypeStatementReady   = "statement_ready"
	NotificationTypeStatementSent    = "statement_sent"
	NotificationTypeDeliveryFailed   = "statement_delivery_failed"
	NotificationTypeStatementInvalid = "statement_invalidated"
	NotificationTypeComputeWarnings  = "statement_compute_warnings"
	NotificationTypeSystemError      = "system_error"
)

// Notification is an in-app message for a landlord, usually about one statement
type Notification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	StatementID      *uint      `gorm:"index" json:"statement_id"`
	Title            string     `gorm:"not null" json:"title"`
	Message          string     `gorm:"type:text;not null" json:"message"`
	NotificationType *string    `gorm:"index" json:"notification_type"`
	ReadAt           *time.Time `gorm:"index" json:"read_at"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// MarkAsRead keeps the first read time
func (n *Notification) MarkAsRead() {
	if n.ReadAt != nil {
		return
	}
	now := time.Now()
	n.ReadAt = &now
}

type NotificationResponse struct {
	ID               uint       `json:"id"`
	StatementID      *uint      `json:"statement_id,omitempty"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	NotificationType *string    `json:"notification_type"`
	Read             bool       `json:"read"`
	ReadAt           *time.Time `json:"read_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (n *Notification) ToResponse() NotificationResponse {
	return NotificationResponse{
		ID:               n.ID,
		StatementID:      n.StatementID,
		Title:            n.Title,
		Message:          n.Message,
		NotificationType: n.NotificationType,
		Read:             n.IsRead(),
		ReadAt:           n.ReadAt,
		CreatedAt:        n.CreatedAt,
	}
}
