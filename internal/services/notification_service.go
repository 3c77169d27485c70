package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/pkg/logger"
)

type NotificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) FindByID(ctx context.Context, id uint) (*models.Notification, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *NotificationService) FindByUser(ctx context.Context, userID uint, query *repository.ListQuery) ([]models.Notification, int64, error) {
	return s.repo.FindByUser(ctx, userID, query)
}

func (s *NotificationService) Create(ctx context.Context, notification *models.Notification) error {
	return s.repo.Create(ctx, notification)
}

// MarkAsRead marks one notification of the user as read
func (s *NotificationService) MarkAsRead(ctx context.Context, userID, id uint) error {
	notification, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return notFound(err, "notification")
	}
	if notification.UserID != userID {
		return fmt.Errorf("notification: %w", ErrNotFound)
	}
	notification.MarkAsRead()
	return s.repo.Update(ctx, notification)
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uint) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, id uint) error {
	return s.repo.Delete(ctx, id)
}

func (s *NotificationService) NotifyUser(ctx context.Context, userID uint, title, message, notifType string) error {
	return s.repo.Create(ctx, &models.Notification{
		UserID:           userID,
		Title:            title,
		Message:          message,
		NotificationType: &notifType,
	})
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uint) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// NotifyLandlord notifies the owner of the statement's property. Failures are
// logged and never fail the caller.
func (s *NotificationService) NotifyLandlord(ctx context.Context, statement *models.OperatingCostStatement, title, message, notifType string) {
	if s == nil || statement.Property.OwnerID == 0 {
		return
	}
	statementID := statement.ID
	err := s.repo.Create(ctx, &models.Notification{
		UserID:           statement.Property.OwnerID,
		StatementID:      &statementID,
		Title:            title,
		Message:          message,
		NotificationType: &notifType,
	})
	if err != nil {
		logger.Warn("Failed to notify landlord",
			slog.Uint64("statement_id", uint64(statement.ID)),
			slog.String("error", err.Error()))
	}
}
