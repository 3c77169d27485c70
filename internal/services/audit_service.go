package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/pkg/logger"
	"gorm.io/gorm"
)

// Actor identifies who triggered an operation; the zero value is the system
type Actor struct {
	UserID    uint
	IP        string
	UserAgent string
}

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Log records an audit entry
func (s *AuditService) Log(ctx context.Context, actor Actor, action, entity string, entityID uint, details any) error {
	var userID *uint
	if actor.UserID != 0 {
		id := actor.UserID
		userID = &id
	}

	text, ok := details.(string)
	if !ok && details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		text = string(b)
	}

	logEntry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Details:   text,
		IPAddress: actor.IP,
		UserAgent: actor.UserAgent,
	}
	return s.db.WithContext(ctx).Create(logEntry).Error
}

// Record is Log for call sites where a failed audit write must not fail the operation
func (s *AuditService) Record(ctx context.Context, actor Actor, action, entity string, entityID uint, details any) {
	if s == nil {
		return
	}
	if err := s.Log(ctx, actor, action, entity, entityID, details); err != nil {
		logger.Warn("Failed to write audit log",
			slog.String("action", action),
			slog.String("entity", entity),
			slog.Uint64("entity_id", uint64(entityID)),
			slog.String("error", err.Error()))
	}
}

// List retrieves audit logs, optionally restricted to one entity
func (s *AuditService) List(ctx context.Context, entity string, entityID uint, limit, offset int) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	db := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if entity != "" {
		db = db.Where("entity = ?", entity)
		if entityID != 0 {
			db = db.Where("entity_id = ?", entityID)
		}
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := db.Preload("User").Order("created_at desc, id desc").Limit(limit).Offset(offset).Find(&logs)
	return logs, total, result.Error
}
