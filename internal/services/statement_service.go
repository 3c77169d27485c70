package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/allocation"
	"github.com/sjperalta/opcost-api/internal/metrics"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/statemachine"
	"github.com/sjperalta/opcost-api/internal/storage"
	"github.com/sjperalta/opcost-api/pkg/logger"
)

// CreateStatementInput opens a billing period either by calendar year or by explicit dates
type CreateStatementInput struct {
	PropertyID  uint       `json:"property_id" validate:"required"`
	Year        *int       `json:"year" validate:"omitempty,min=1900,max=2200"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
	// OwnerID restricts creation to properties of this landlord when set
	OwnerID uint `json:"-"`
}

// CostItemInput is the writable part of a cost line item
type CostItemInput struct {
	CostType      string          `json:"cost_type" validate:"required,max=100"`
	AllocationKey string          `json:"allocation_key" validate:"required,allocation_key"`
	Amount        decimal.Decimal `json:"amount" validate:"gte=0,lte=9999999999.99"`
	Note          *string         `json:"note"`
}

// ComputeOutcome is what computeResults hands back to callers
type ComputeOutcome struct {
	Statement *models.OperatingCostStatement `json:"-"`
	Results   []models.StatementResult       `json:"results"`
	Warnings  []allocation.Warning           `json:"warnings"`
	// Frozen is true when the stored results of a sent statement were returned
	Frozen bool `json:"frozen"`
}

type StatementService struct {
	repo            repository.StatementRepository
	store           repository.CostRecordStore
	propertyRepo    repository.PropertyRepository
	engine          *allocation.Engine
	notificationSvc *NotificationService
	auditSvc        *AuditService
	storage         *storage.LocalStorage
	now             func() time.Time
}

func NewStatementService(
	repo repository.StatementRepository,
	store repository.CostRecordStore,
	propertyRepo repository.PropertyRepository,
	engine *allocation.Engine,
	notificationSvc *NotificationService,
	auditSvc *AuditService,
	storage *storage.LocalStorage,
) *StatementService {
	if engine == nil {
		engine = allocation.NewEngine(nil)
	}
	return &StatementService{
		repo:            repo,
		store:           store,
		propertyRepo:    propertyRepo,
		engine:          engine,
		notificationSvc: notificationSvc,
		auditSvc:        auditSvc,
		storage:         storage,
		now:             time.Now,
	}
}

// statementDir is where generated documents of a statement live
func statementDir(statementID uint) string {
	return fmt.Sprintf("statements/%d", statementID)
}

// CreateStatement opens a new billing period for a property
func (s *StatementService) CreateStatement(ctx context.Context, actor Actor, input CreateStatementInput) (*models.OperatingCostStatement, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var period allocation.Period
	switch {
	case input.Year != nil:
		if input.PeriodStart != nil || input.PeriodEnd != nil {
			return nil, &ValidationError{Fields: map[string]string{"year": "cannot be combined with period_start/period_end"}}
		}
		period = allocation.YearPeriod(*input.Year)
	case input.PeriodStart != nil && input.PeriodEnd != nil:
		p, err := allocation.NewPeriod(*input.PeriodStart, *input.PeriodEnd)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"period_end": "must not be before period_start"}}
		}
		if p.Days() > allocation.MaxDays {
			return nil, &ValidationError{Fields: map[string]string{"period_end": fmt.Sprintf("billing period must not exceed %d days", allocation.MaxDays)}}
		}
		period = p
	default:
		return nil, &ValidationError{Fields: map[string]string{"year": "year or period_start and period_end are required"}}
	}

	property, err := s.propertyRepo.FindByID(ctx, input.PropertyID)
	if err != nil {
		return nil, notFound(err, "property")
	}
	if input.OwnerID != 0 && property.OwnerID != input.OwnerID {
		return nil, fmt.Errorf("property: %w", ErrNotFound)
	}

	statement := &models.OperatingCostStatement{
		PropertyID:  property.ID,
		Year:        input.Year,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      models.StatementStatusDraft,
		TotalCosts:  decimal.Zero,
	}
	if actor.UserID != 0 {
		uid := actor.UserID
		statement.CreatedBy = &uid
	}

	if err := s.repo.Create(ctx, statement); err != nil {
		if errors.Is(err, repository.ErrDuplicateStatement) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return nil, err
	}
	statement.Property = *property

	logger.Info("Statement created",
		slog.Uint64("statement_id", uint64(statement.ID)),
		slog.Uint64("property_id", uint64(property.ID)),
		slog.String("period_start", period.Start.Format(time.DateOnly)),
		slog.String("period_end", period.End.Format(time.DateOnly)))

	s.auditSvc.Record(ctx, actor, models.AuditActionCreate, models.AuditEntityStatement, statement.ID,
		fmt.Sprintf("Statement %s..%s for property %q", period.Start.Format(time.DateOnly), period.End.Format(time.DateOnly), property.Name))

	return statement, nil
}

// GetStatement returns a statement with its property and cost items
func (s *StatementService) GetStatement(ctx context.Context, id uint) (*models.OperatingCostStatement, error) {
	statement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "statement")
	}
	return statement, nil
}

// ListStatements lists statements filtered by property, status and year
func (s *StatementService) ListStatements(ctx context.Context, query *repository.ListQuery) ([]models.OperatingCostStatement, int64, error) {
	return s.repo.List(ctx, query)
}

// DeleteStatement removes a draft statement and its generated documents
func (s *StatementService) DeleteStatement(ctx context.Context, actor Actor, id uint) error {
	statement, err := s.GetStatement(ctx, id)
	if err != nil {
		return err
	}
	if !statement.MayDelete() {
		return fmt.Errorf("%w: statement in state %s cannot be deleted", ErrInvalidState, statement.Status)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.storage != nil {
		if err := s.storage.DeleteDir(statementDir(id)); err != nil {
			logger.Warn("Failed to remove statement documents",
				slog.Uint64("statement_id", uint64(id)),
				slog.String("error", err.Error()))
		}
	}

	s.auditSvc.Record(ctx, actor, models.AuditActionDelete, models.AuditEntityStatement, id, nil)
	return nil
}

// AddCostItem records a new expense on the statement
func (s *StatementService) AddCostItem(ctx context.Context, actor Actor, statementID uint, input CostItemInput) (*models.CostLineItem, error) {
	input.CostType = strings.TrimSpace(input.CostType)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	statement, err := s.editableStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}

	item := &models.CostLineItem{
		StatementID:   statementID,
		CostType:      input.CostType,
		AllocationKey: input.AllocationKey,
		Amount:        input.Amount,
		Note:          input.Note,
	}

	invalidated, err := s.applyCostEdit(ctx, statement, func(repo repository.StatementRepository) error {
		return repo.CreateCostItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.afterCostEdit(ctx, actor, statement, invalidated, models.AuditActionCreate, item)
	return item, nil
}

// UpdateCostItem changes an expense of the statement
func (s *StatementService) UpdateCostItem(ctx context.Context, actor Actor, statementID, itemID uint, input CostItemInput) (*models.CostLineItem, error) {
	input.CostType = strings.TrimSpace(input.CostType)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	statement, err := s.editableStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindCostItem(ctx, statementID, itemID)
	if err != nil {
		return nil, notFound(err, "cost item")
	}

	item.CostType = input.CostType
	item.AllocationKey = input.AllocationKey
	item.Amount = input.Amount
	item.Note = input.Note

	invalidated, err := s.applyCostEdit(ctx, statement, func(repo repository.StatementRepository) error {
		return repo.UpdateCostItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.afterCostEdit(ctx, actor, statement, invalidated, models.AuditActionUpdate, item)
	return item, nil
}

// DeleteCostItem removes an expense from the statement
func (s *StatementService) DeleteCostItem(ctx context.Context, actor Actor, statementID, itemID uint) error {
	statement, err := s.editableStatement(ctx, statementID)
	if err != nil {
		return err
	}
	item, err := s.repo.FindCostItem(ctx, statementID, itemID)
	if err != nil {
		return notFound(err, "cost item")
	}

	invalidated, err := s.applyCostEdit(ctx, statement, func(repo repository.StatementRepository) error {
		return repo.DeleteCostItem(ctx, item)
	})
	if err != nil {
		return err
	}

	s.afterCostEdit(ctx, actor, statement, invalidated, models.AuditActionDelete, item)
	return nil
}

func (s *StatementService) editableStatement(ctx context.Context, statementID uint) (*models.OperatingCostStatement, error) {
	statement, err := s.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if statement.IsFrozen() {
		return nil, fmt.Errorf("%w: statement was already sent, cost items are frozen", ErrInvalidState)
	}
	return statement, nil
}

// applyCostEdit runs a cost item change together with the total refresh and,
// for a released statement, the move back to draft.
func (s *StatementService) applyCostEdit(ctx context.Context, statement *models.OperatingCostStatement, edit func(repo repository.StatementRepository) error) (bool, error) {
	invalidated := false
	err := s.repo.Transaction(ctx, func(repo repository.StatementRepository) error {
		if err := edit(repo); err != nil {
			return err
		}
		total, err := repo.RefreshTotal(ctx, statement.ID)
		if err != nil {
			return err
		}
		statement.TotalCosts = total
		// stored results and documents no longer reflect the cost items
		statement.ResultsComputedAt = nil
		if err := repo.MarkDocumentsStale(ctx, statement.ID); err != nil {
			return err
		}

		if statement.MayInvalidate() {
			if err := statemachine.NewStatementFSM(statement).Invalidate(ctx); err != nil {
				return invalidState(err)
			}
			invalidated = true
		}
		return repo.Update(ctx, statement)
	})
	return invalidated, err
}

func (s *StatementService) afterCostEdit(ctx context.Context, actor Actor, statement *models.OperatingCostStatement, invalidated bool, action string, item *models.CostLineItem) {
	if invalidated {
		logger.Info("Statement returned to draft after cost edit",
			slog.Uint64("statement_id", uint64(statement.ID)))
		s.notificationSvc.NotifyLandlord(ctx, statement,
			"Abrechnung zurückgesetzt",
			fmt.Sprintf("Die Abrechnung %s wurde nach einer Kostenänderung auf Entwurf zurückgesetzt. Bitte neu berechnen.", periodLabel(statement)),
			models.NotificationTypeStatementInvalid)
	}
	s.auditSvc.Record(ctx, actor, action, models.AuditEntityCostItem, item.ID, map[string]any{
		"statement_id":   statement.ID,
		"cost_type":      item.CostType,
		"allocation_key": item.AllocationKey,
		"amount":         item.Amount.StringFixed(2),
	})
}

// ComputeResults runs the allocation for the statement and replaces its
// stored results. A sent statement returns its frozen results unchanged.
func (s *StatementService) ComputeResults(ctx context.Context, actor Actor, statementID uint) (*ComputeOutcome, error) {
	start := time.Now()

	var (
		statement *models.OperatingCostStatement
		input     allocation.Input
	)
	err := s.store.ReadSnapshot(ctx, func(store repository.CostRecordStore) error {
		var err error
		statement, err = store.GetStatement(ctx, statementID)
		if err != nil {
			return notFound(err, "statement")
		}
		if statement.IsFrozen() {
			return nil
		}
		input, err = s.loadInput(ctx, store, statement)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.ObserveCompute(err, time.Since(start))
		}
		return nil, err
	}

	if statement.IsFrozen() {
		results, err := s.store.ListResults(ctx, statementID)
		if err != nil {
			return nil, err
		}
		return &ComputeOutcome{
			Statement: statement,
			Results:   results,
			Warnings:  StoredWarnings(statement),
			Frozen:    true,
		}, nil
	}

	computation := s.engine.Compute(input)

	rows := make([]models.StatementResult, 0, len(computation.Results))
	for _, r := range computation.Results {
		rows = append(rows, models.NewStatementResult(statementID, r))
	}

	var warningsJSON *string
	if len(computation.Warnings) > 0 {
		b, err := json.Marshal(computation.Warnings)
		if err != nil {
			return nil, err
		}
		text := string(b)
		warningsJSON = &text
	}

	computedAt := s.now()
	if err := s.store.SaveResults(ctx, statementID, rows, warningsJSON, computedAt); err != nil {
		metrics.ObserveCompute(err, time.Since(start))
		logger.Error("Failed to store statement results",
			slog.Uint64("statement_id", uint64(statementID)),
			slog.String("error", err.Error()))
		return nil, err
	}
	statement.ResultsComputedAt = &computedAt
	statement.Warnings = warningsJSON

	results, err := s.store.ListResults(ctx, statementID)
	if err != nil {
		return nil, err
	}

	metrics.ObserveCompute(nil, time.Since(start))
	for _, w := range computation.Warnings {
		metrics.IncComputeWarning(string(w.Code))
		logger.Warn("Allocation warning",
			slog.Uint64("statement_id", uint64(statementID)),
			slog.String("code", string(w.Code)),
			slog.String("message", w.Message))
	}
	logger.Info("Statement computed",
		slog.Uint64("statement_id", uint64(statementID)),
		slog.Int("results", len(results)),
		slog.Int("warnings", len(computation.Warnings)),
		slog.Duration("duration", time.Since(start)))

	s.auditSvc.Record(ctx, actor, models.AuditActionCompute, models.AuditEntityStatement, statementID, map[string]any{
		"results":  len(results),
		"warnings": len(computation.Warnings),
	})

	if len(computation.Warnings) > 0 {
		s.notificationSvc.NotifyLandlord(ctx, statement,
			"Abrechnung mit Hinweisen berechnet",
			fmt.Sprintf("Die Abrechnung %s wurde mit %d Hinweis(en) berechnet.", periodLabel(statement), len(computation.Warnings)),
			models.NotificationTypeComputeWarnings)
	}

	warnings := computation.Warnings
	if warnings == nil {
		warnings = []allocation.Warning{}
	}
	return &ComputeOutcome{
		Statement: statement,
		Results:   results,
		Warnings:  warnings,
	}, nil
}

// loadInput reads the engine input through the snapshot store
func (s *StatementService) loadInput(ctx context.Context, store repository.CostRecordStore, statement *models.OperatingCostStatement) (allocation.Input, error) {
	period := statement.Period()

	items, err := store.ListCostLineItems(ctx, statement.ID)
	if err != nil {
		return allocation.Input{}, err
	}
	units, err := store.ListUnits(ctx, statement.PropertyID)
	if err != nil {
		return allocation.Input{}, err
	}
	contracts, err := store.ListTenanciesOverlapping(ctx, statement.PropertyID, period.Start, period.End)
	if err != nil {
		return allocation.Input{}, err
	}

	input := allocation.Input{
		Period:    period,
		Units:     make([]allocation.Unit, 0, len(units)),
		Items:     make([]allocation.CostLineItem, 0, len(items)),
		Tenancies: make([]allocation.Tenancy, 0, len(contracts)),
	}
	for _, u := range units {
		input.Units = append(input.Units, allocation.Unit{
			ID:      u.ID,
			Name:    u.Name,
			Area:    u.AreaSqm,
			Persons: u.Persons,
		})
	}
	for i := range items {
		input.Items = append(input.Items, items[i].ToAllocation())
	}
	for _, c := range contracts {
		overlap, ok := period.Overlap(c.StartDate, c.EndDate)
		if !ok {
			continue
		}
		prepayments, err := store.SumAdvancePayments(ctx, c.ID, overlap.Start, overlap.End)
		if err != nil {
			return allocation.Input{}, err
		}
		input.Tenancies = append(input.Tenancies, allocation.Tenancy{
			ContractID:  c.ID,
			TenantID:    c.TenantID,
			TenantName:  c.Tenant.FullName,
			UnitID:      c.UnitID,
			Start:       c.StartDate,
			End:         c.EndDate,
			Persons:     c.Persons,
			Prepayments: prepayments,
		})
	}
	return input, nil
}

// Results returns the stored results while they are current and recomputes otherwise
func (s *StatementService) Results(ctx context.Context, actor Actor, statementID uint) (*ComputeOutcome, error) {
	statement, err := s.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if statement.ResultsComputedAt == nil && !statement.IsFrozen() {
		return s.ComputeResults(ctx, actor, statementID)
	}
	results, err := s.repo.FindResults(ctx, statementID)
	if err != nil {
		return nil, err
	}
	return &ComputeOutcome{
		Statement: statement,
		Results:   results,
		Warnings:  StoredWarnings(statement),
		Frozen:    statement.IsFrozen(),
	}, nil
}

// MarkReady releases a computed statement for delivery
func (s *StatementService) MarkReady(ctx context.Context, actor Actor, statementID uint) (*models.OperatingCostStatement, error) {
	statement, err := s.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if statement.ResultsComputedAt == nil {
		return nil, fmt.Errorf("%w: statement has no current results, compute it first", ErrInvalidState)
	}
	results, err := s.repo.FindResults(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: statement has no results to release", ErrInvalidState)
	}

	if err := statemachine.NewStatementFSM(statement).MarkReady(ctx); err != nil {
		return nil, invalidState(err)
	}
	if err := s.repo.Update(ctx, statement); err != nil {
		return nil, err
	}

	logger.Info("Statement marked ready", slog.Uint64("statement_id", uint64(statementID)))
	s.auditSvc.Record(ctx, actor, models.AuditActionReady, models.AuditEntityStatement, statementID, nil)
	s.notificationSvc.NotifyLandlord(ctx, statement,
		"Abrechnung freigegeben",
		fmt.Sprintf("Die Abrechnung %s ist bereit zum Versand an %d Mieter.", periodLabel(statement), len(results)),
		models.NotificationTypeStatementReady)

	return statement, nil
}

// StoredWarnings decodes the warnings persisted with the last computation
func StoredWarnings(statement *models.OperatingCostStatement) []allocation.Warning {
	warnings := []allocation.Warning{}
	if statement.Warnings == nil || *statement.Warnings == "" {
		return warnings
	}
	if err := json.Unmarshal([]byte(*statement.Warnings), &warnings); err != nil {
		logger.Warn("Failed to decode stored warnings",
			slog.Uint64("statement_id", uint64(statement.ID)),
			slog.String("error", err.Error()))
		return []allocation.Warning{}
	}
	return warnings
}

// periodLabel renders the billing period for messages and file names
func periodLabel(statement *models.OperatingCostStatement) string {
	if statement.Year != nil {
		return strconv.Itoa(*statement.Year)
	}
	p := statement.Period()
	return p.Start.Format("02.01.2006") + " - " + p.End.Format("02.01.2006")
}
