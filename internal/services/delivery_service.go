package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sjperalta/opcost-api/internal/jobs"
	"github.com/sjperalta/opcost-api/internal/metrics"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/statemachine"
	"github.com/sjperalta/opcost-api/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// JobQueue runs background jobs; *jobs.Worker implements it
type JobQueue interface {
	EnqueueNamed(name string, job jobs.Job)
}

type DeliveryService struct {
	repo            repository.StatementRepository
	deliveryRepo    repository.DeliveryLogRepository
	documents       *DocumentService
	mailer          StatementMailer
	notificationSvc *NotificationService
	auditSvc        *AuditService
	queue           JobQueue
	now             func() time.Time

	// serializes the ready -> sent transition of concurrent sends
	sendMu sync.Mutex

	// one delivery per result at a time, keyed by result id
	inflight singleflight.Group
}

func NewDeliveryService(
	repo repository.StatementRepository,
	deliveryRepo repository.DeliveryLogRepository,
	documents *DocumentService,
	mailer StatementMailer,
	notificationSvc *NotificationService,
	auditSvc *AuditService,
	queue JobQueue,
) *DeliveryService {
	return &DeliveryService{
		repo:            repo,
		deliveryRepo:    deliveryRepo,
		documents:       documents,
		mailer:          mailer,
		notificationSvc: notificationSvc,
		auditSvc:        auditSvc,
		queue:           queue,
		now:             time.Now,
	}
}

func (s *DeliveryService) sendableStatement(ctx context.Context, statementID uint) (*models.OperatingCostStatement, error) {
	statement, err := s.repo.FindByID(ctx, statementID)
	if err != nil {
		return nil, notFound(err, "statement")
	}
	if !statement.MaySend() {
		return nil, fmt.Errorf("%w: statement in state %s cannot be sent, mark it ready first", ErrInvalidState, statement.Status)
	}
	return statement, nil
}

// SendToTenant delivers one tenant's statement. A tenant that already
// received it is skipped with ErrAlreadySent unless force is set. Calls for
// a result whose delivery is still running share that delivery's outcome
// instead of mailing the tenant again.
func (s *DeliveryService) SendToTenant(ctx context.Context, actor Actor, statementID, resultID uint, force bool) (*models.DeliveryLog, error) {
	key := strconv.FormatUint(uint64(resultID), 10)
	v, err, shared := s.inflight.Do(key, func() (any, error) {
		return s.sendToTenant(ctx, actor, statementID, resultID, force)
	})
	if shared {
		logger.Debug("Joined running delivery", slog.Uint64("result_id", uint64(resultID)))
	}
	entry, _ := v.(*models.DeliveryLog)
	return entry, err
}

func (s *DeliveryService) sendToTenant(ctx context.Context, actor Actor, statementID, resultID uint, force bool) (*models.DeliveryLog, error) {
	statement, err := s.sendableStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	result, err := s.repo.FindResult(ctx, statementID, resultID)
	if err != nil {
		return nil, notFound(err, "result")
	}

	if !force {
		sent, err := s.deliveryRepo.HasSuccess(ctx, resultID)
		if err != nil {
			return nil, err
		}
		if sent {
			return nil, ErrAlreadySent
		}
	}

	sendErr := s.deliver(ctx, statement, result)

	entry := &models.DeliveryLog{
		StatementID: statementID,
		ResultID:    resultID,
		TenantID:    result.TenantID,
		Recipient:   result.Tenant.Email,
		Status:      models.DeliveryStatusSuccess,
		Forced:      force,
		AttemptedAt: s.now(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = models.DeliveryStatusFailure
		entry.Error = &msg
	}
	if err := s.deliveryRepo.Create(ctx, entry); err != nil {
		logger.Error("Failed to write delivery log",
			slog.Uint64("statement_id", uint64(statementID)),
			slog.Uint64("result_id", uint64(resultID)),
			slog.String("error", err.Error()))
	}
	metrics.IncDelivery(entry.Status)

	if sendErr != nil {
		logger.Warn("Statement delivery failed",
			slog.Uint64("statement_id", uint64(statementID)),
			slog.Uint64("result_id", uint64(resultID)),
			slog.String("tenant", result.Tenant.FullName),
			slog.String("error", sendErr.Error()))
		s.notificationSvc.NotifyLandlord(ctx, statement,
			"Versand fehlgeschlagen",
			fmt.Sprintf("Die Abrechnung %s konnte nicht an %s versendet werden: %s", periodLabel(statement), result.Tenant.FullName, sendErr.Error()),
			models.NotificationTypeDeliveryFailed)
		return entry, fmt.Errorf("failed to deliver statement to tenant %d: %w", result.TenantID, sendErr)
	}

	logger.Info("Statement delivered",
		slog.Uint64("statement_id", uint64(statementID)),
		slog.Uint64("result_id", uint64(resultID)),
		slog.String("recipient", entry.Recipient))

	s.auditSvc.Record(ctx, actor, models.AuditActionSend, models.AuditEntityResult, resultID, map[string]any{
		"statement_id": statementID,
		"recipient":    entry.Recipient,
		"forced":       force,
	})

	if err := s.markSent(ctx, statementID); err != nil {
		return entry, err
	}
	return entry, nil
}

// deliver renders the document if needed and mails it
func (s *DeliveryService) deliver(ctx context.Context, statement *models.OperatingCostStatement, result *models.StatementResult) error {
	if result.Tenant.Email == "" {
		return ErrNoRecipient
	}
	doc, err := s.documents.GeneratePDF(ctx, statement.ID, result.ID)
	if err != nil {
		return err
	}

	return s.mailer.SendStatement(ctx, &StatementMail{
		To:           result.Tenant.Email,
		TenantName:   result.Tenant.FullName,
		PropertyName: statement.Property.Name,
		UnitName:     result.Unit.Name,
		PeriodLabel:  periodLabel(statement),
		CostShare:    s.documents.formatMoney(result.CostShare),
		Prepayments:  s.documents.formatMoney(result.Prepayments),
		BalanceLabel: result.BalanceLabel(),
		Balance:      s.documents.formatMoney(result.Balance.Abs()),
		IsRefund:     result.IsRefund(),
		Attachment:   doc,
	})
}

// markSent fires the send transition on the first successful delivery
func (s *DeliveryService) markSent(ctx context.Context, statementID uint) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	statement, err := s.repo.FindByID(ctx, statementID)
	if err != nil {
		return notFound(err, "statement")
	}
	if statement.Status != models.StatementStatusReady {
		return nil
	}
	if err := statemachine.NewStatementFSM(statement).Send(ctx); err != nil {
		return invalidState(err)
	}
	if err := s.repo.Update(ctx, statement); err != nil {
		return err
	}

	logger.Info("Statement sent", slog.Uint64("statement_id", uint64(statementID)))
	s.notificationSvc.NotifyLandlord(ctx, statement,
		"Abrechnung versendet",
		fmt.Sprintf("Die Abrechnung %s wurde an die Mieter versendet und ist nun abgeschlossen.", periodLabel(statement)),
		models.NotificationTypeStatementSent)
	return nil
}

// SendAll enqueues one delivery job per result and returns how many were queued
func (s *DeliveryService) SendAll(ctx context.Context, actor Actor, statementID uint, force bool) (int, error) {
	if _, err := s.sendableStatement(ctx, statementID); err != nil {
		return 0, err
	}
	results, err := s.repo.FindResults(ctx, statementID)
	if err != nil {
		return 0, err
	}

	for _, r := range results {
		resultID := r.ID
		name := fmt.Sprintf("deliver-statement-%d-result-%d", statementID, resultID)
		s.queue.EnqueueNamed(name, func(jobCtx context.Context) error {
			_, err := s.SendToTenant(jobCtx, actor, statementID, resultID, force)
			if errors.Is(err, ErrAlreadySent) {
				return nil
			}
			return err
		})
	}

	logger.Info("Statement delivery queued",
		slog.Uint64("statement_id", uint64(statementID)),
		slog.Int("jobs", len(results)))
	return len(results), nil
}

// DeliverySummary is the delivery log of a statement with per-status counts
type DeliverySummary struct {
	Deliveries []models.DeliveryLog `json:"deliveries"`
	Counts     map[string]int64     `json:"counts"`
}

// ListDeliveries returns every delivery attempt of the statement
func (s *DeliveryService) ListDeliveries(ctx context.Context, statementID uint) (*DeliverySummary, error) {
	if _, err := s.repo.FindByID(ctx, statementID); err != nil {
		return nil, notFound(err, "statement")
	}
	logs, err := s.deliveryRepo.FindByStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	counts, err := s.deliveryRepo.CountByStatus(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	return &DeliverySummary{Deliveries: logs, Counts: counts}, nil
}
