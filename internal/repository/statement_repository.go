package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/models"
	"gorm.io/gorm"
)

// ErrDuplicateStatement is returned when a property already has a statement for the year
var ErrDuplicateStatement = errors.New("a statement for this property and year already exists")

// StatementRepository defines the interface for statement data access
type StatementRepository interface {
	FindByID(ctx context.Context, id uint) (*models.OperatingCostStatement, error)
	List(ctx context.Context, query *ListQuery) ([]models.OperatingCostStatement, int64, error)
	Create(ctx context.Context, statement *models.OperatingCostStatement) error
	Update(ctx context.Context, statement *models.OperatingCostStatement) error
	Delete(ctx context.Context, id uint) error

	FindCostItem(ctx context.Context, statementID, itemID uint) (*models.CostLineItem, error)
	CreateCostItem(ctx context.Context, item *models.CostLineItem) error
	UpdateCostItem(ctx context.Context, item *models.CostLineItem) error
	DeleteCostItem(ctx context.Context, item *models.CostLineItem) error
	RefreshTotal(ctx context.Context, statementID uint) (decimal.Decimal, error)

	FindResult(ctx context.Context, statementID, resultID uint) (*models.StatementResult, error)
	FindResults(ctx context.Context, statementID uint) ([]models.StatementResult, error)
	SetResultDocument(ctx context.Context, resultID uint, path string) error
	MarkDocumentsStale(ctx context.Context, statementID uint) error

	// Transaction runs fn with a repository bound to one write transaction
	Transaction(ctx context.Context, fn func(repo StatementRepository) error) error
}

type statementRepository struct {
	db *gorm.DB
}

// NewStatementRepository creates a new statement repository
func NewStatementRepository(db *gorm.DB) StatementRepository {
	return &statementRepository{db: db}
}

func (r *statementRepository) FindByID(ctx context.Context, id uint) (*models.OperatingCostStatement, error) {
	var statement models.OperatingCostStatement
	err := r.db.WithContext(ctx).
		Preload("Property").
		Preload("CostItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&statement, id).Error
	if err != nil {
		return nil, err
	}
	return &statement, nil
}

func (r *statementRepository) List(ctx context.Context, query *ListQuery) ([]models.OperatingCostStatement, int64, error) {
	var statements []models.OperatingCostStatement
	var total int64

	db := r.db.WithContext(ctx).Model(&models.OperatingCostStatement{})

	if v := query.Filters["property_id"]; v != "" {
		db = db.Where("property_id = ?", v)
	}
	if v := query.Filters["status"]; v != "" {
		db = db.Where("status = ?", strings.ToLower(v))
	}
	if v := query.Filters["year"]; v != "" {
		db = db.Where("year = ?", v)
	}
	if v := query.Filters["owner_id"]; v != "" {
		db = db.Where("property_id IN (?)", r.db.Model(&models.Property{}).Select("id").Where("owner_id = ?", v))
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply sorting
	switch query.SortBy {
	case "year", "status", "created_at", "total_costs":
		order := query.SortBy
		if query.SortDir == "desc" {
			order += " DESC"
		}
		db = db.Order(order)
	default:
		db = db.Order("period_start DESC, id DESC")
	}

	// Apply pagination
	if query.PerPage > 0 {
		db = db.Offset((query.Page - 1) * query.PerPage).Limit(query.PerPage)
	}

	err := db.Preload("Property").Find(&statements).Error
	return statements, total, err
}

func (r *statementRepository) Create(ctx context.Context, statement *models.OperatingCostStatement) error {
	if err := r.db.WithContext(ctx).Omit("Property").Create(statement).Error; err != nil {
		if isDuplicateKeyError(err, "idx_statement_property_year") {
			return ErrDuplicateStatement
		}
		return err
	}
	return nil
}

func isDuplicateKeyError(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraintName
	}
	// SQLite only reports the columns
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *statementRepository) Update(ctx context.Context, statement *models.OperatingCostStatement) error {
	return r.db.WithContext(ctx).Omit("Property", "CostItems", "Results").Save(statement).Error
}

// Delete removes the statement together with its items and results
func (r *statementRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resultIDs []uint
		if err := tx.Model(&models.StatementResult{}).Where("statement_id = ?", id).Pluck("id", &resultIDs).Error; err != nil {
			return err
		}
		if len(resultIDs) > 0 {
			if err := tx.Where("result_id IN ?", resultIDs).Delete(&models.StatementResultLine{}).Error; err != nil {
				return err
			}
		}
		for _, model := range []any{&models.StatementResult{}, &models.CostLineItem{}, &models.DeliveryLog{}} {
			if err := tx.Where("statement_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.OperatingCostStatement{}, id).Error
	})
}

func (r *statementRepository) FindCostItem(ctx context.Context, statementID, itemID uint) (*models.CostLineItem, error) {
	var item models.CostLineItem
	err := r.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		First(&item, itemID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *statementRepository) CreateCostItem(ctx context.Context, item *models.CostLineItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *statementRepository) UpdateCostItem(ctx context.Context, item *models.CostLineItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *statementRepository) DeleteCostItem(ctx context.Context, item *models.CostLineItem) error {
	return r.db.WithContext(ctx).Delete(item).Error
}

// RefreshTotal recomputes total_costs from the line items and stores it
func (r *statementRepository) RefreshTotal(ctx context.Context, statementID uint) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.CostLineItem{}).
		Where("statement_id = ?", statementID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	err = r.db.WithContext(ctx).
		Model(&models.OperatingCostStatement{}).
		Where("id = ?", statementID).
		Update("total_costs", total).Error
	return total, err
}

func (r *statementRepository) FindResult(ctx context.Context, statementID, resultID uint) (*models.StatementResult, error) {
	var result models.StatementResult
	err := r.db.WithContext(ctx).
		Preload("Tenant").
		Preload("Unit").
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("statement_id = ?", statementID).
		First(&result, resultID).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *statementRepository) FindResults(ctx context.Context, statementID uint) ([]models.StatementResult, error) {
	return findResults(ctx, r.db, statementID)
}

func (r *statementRepository) SetResultDocument(ctx context.Context, resultID uint, path string) error {
	return r.db.WithContext(ctx).
		Model(&models.StatementResult{}).
		Where("id = ?", resultID).
		Updates(map[string]any{
			"document_path":  path,
			"document_stale": false,
		}).Error
}

func (r *statementRepository) MarkDocumentsStale(ctx context.Context, statementID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.StatementResult{}).
		Where("statement_id = ? AND document_path IS NOT NULL", statementID).
		Update("document_stale", true).Error
}

func (r *statementRepository) Transaction(ctx context.Context, fn func(repo StatementRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&statementRepository{db: tx})
	})
}
