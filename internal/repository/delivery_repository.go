package repository

import (
	"context"

	"github.com/sjperalta/opcost-api/internal/models"
	"gorm.io/gorm"
)

// DeliveryLogRepository defines the interface for delivery log data access
type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *models.DeliveryLog) error
	FindByStatement(ctx context.Context, statementID uint) ([]models.DeliveryLog, error)
	HasSuccess(ctx context.Context, resultID uint) (bool, error)
	CountByStatus(ctx context.Context, statementID uint) (map[string]int64, error)
}

type deliveryLogRepository struct {
	db *gorm.DB
}

// NewDeliveryLogRepository creates a new delivery log repository
func NewDeliveryLogRepository(db *gorm.DB) DeliveryLogRepository {
	return &deliveryLogRepository{db: db}
}

func (r *deliveryLogRepository) Create(ctx context.Context, entry *models.DeliveryLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *deliveryLogRepository) FindByStatement(ctx context.Context, statementID uint) ([]models.DeliveryLog, error) {
	var logs []models.DeliveryLog
	err := r.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("attempted_at DESC, id DESC").
		Find(&logs).Error
	return logs, err
}

func (r *deliveryLogRepository) HasSuccess(ctx context.Context, resultID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("result_id = ? AND status = ?", resultID, models.DeliveryStatusSuccess).
		Count(&count).Error
	return count > 0, err
}

func (r *deliveryLogRepository) CountByStatus(ctx context.Context, statementID uint) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Select("status, COUNT(*) AS count").
		Where("statement_id = ?", statementID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
