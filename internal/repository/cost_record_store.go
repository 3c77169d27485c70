package repository

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/models"
	"gorm.io/gorm"
)

// CostRecordStore is the data boundary of the allocation computation
type CostRecordStore interface {
	GetStatement(ctx context.Context, id uint) (*models.OperatingCostStatement, error)
	ListCostLineItems(ctx context.Context, statementID uint) ([]models.CostLineItem, error)
	ListUnits(ctx context.Context, propertyID uint) ([]models.Unit, error)
	ListTenanciesOverlapping(ctx context.Context, propertyID uint, start, end time.Time) ([]models.RentalContract, error)
	SumAdvancePayments(ctx context.Context, contractID uint, start, end time.Time) (decimal.Decimal, error)
	SaveResults(ctx context.Context, statementID uint, results []models.StatementResult, warnings *string, computedAt time.Time) error
	ListResults(ctx context.Context, statementID uint) ([]models.StatementResult, error)

	// ReadSnapshot runs fn against a store bound to a single read transaction
	ReadSnapshot(ctx context.Context, fn func(store CostRecordStore) error) error
}

type costRecordStore struct {
	db *gorm.DB
}

// NewCostRecordStore creates a new cost record store
func NewCostRecordStore(db *gorm.DB) CostRecordStore {
	return &costRecordStore{db: db}
}

// WithTx returns a store bound to the given transaction
func (r *costRecordStore) WithTx(tx *gorm.DB) CostRecordStore {
	return &costRecordStore{db: tx}
}

func (r *costRecordStore) GetStatement(ctx context.Context, id uint) (*models.OperatingCostStatement, error) {
	var statement models.OperatingCostStatement
	err := r.db.WithContext(ctx).
		Preload("Property").
		First(&statement, id).Error
	if err != nil {
		return nil, err
	}
	return &statement, nil
}

func (r *costRecordStore) ListCostLineItems(ctx context.Context, statementID uint) ([]models.CostLineItem, error) {
	var items []models.CostLineItem
	err := r.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *costRecordStore) ListUnits(ctx context.Context, propertyID uint) ([]models.Unit, error) {
	var units []models.Unit
	err := r.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("name ASC, id ASC").
		Find(&units).Error
	return units, err
}

func (r *costRecordStore) ListTenanciesOverlapping(ctx context.Context, propertyID uint, start, end time.Time) ([]models.RentalContract, error) {
	var contracts []models.RentalContract
	err := r.db.WithContext(ctx).
		Joins("JOIN units ON units.id = rental_contracts.unit_id").
		Where("units.property_id = ?", propertyID).
		Where("rental_contracts.start_date <= ?", end).
		Where("(rental_contracts.end_date IS NULL OR rental_contracts.end_date >= ?)", start).
		Preload("Tenant").
		Preload("Unit").
		Order("rental_contracts.id ASC").
		Find(&contracts).Error
	return contracts, err
}

// SumAdvancePayments adds up the prepayments received for a contract within
// [start, end]. Amounts are summed in Go so SQLite's float SUM never applies.
func (r *costRecordStore) SumAdvancePayments(ctx context.Context, contractID uint, start, end time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.AdvancePayment{}).
		Where("contract_id = ? AND paid_on >= ? AND paid_on <= ?", contractID, start, end).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}

// SaveResults replaces every stored result of the statement in one transaction
func (r *costRecordStore) SaveResults(ctx context.Context, statementID uint, results []models.StatementResult, warnings *string, computedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var oldIDs []uint
		if err := tx.Model(&models.StatementResult{}).Where("statement_id = ?", statementID).Pluck("id", &oldIDs).Error; err != nil {
			return err
		}
		if len(oldIDs) > 0 {
			if err := tx.Where("result_id IN ?", oldIDs).Delete(&models.StatementResultLine{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("statement_id = ?", statementID).Delete(&models.StatementResult{}).Error; err != nil {
			return err
		}
		if len(results) > 0 {
			if err := tx.Omit("Tenant", "Unit").Create(&results).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.OperatingCostStatement{}).
			Where("id = ?", statementID).
			Updates(map[string]any{
				"results_computed_at": computedAt,
				"warnings":            warnings,
			}).Error
	})
}

func (r *costRecordStore) ListResults(ctx context.Context, statementID uint) ([]models.StatementResult, error) {
	return findResults(ctx, r.db, statementID)
}

func (r *costRecordStore) ReadSnapshot(ctx context.Context, fn func(store CostRecordStore) error) error {
	var opts []*sql.TxOptions
	if r.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	}, opts...)
}

func findResults(ctx context.Context, db *gorm.DB, statementID uint) ([]models.StatementResult, error) {
	var results []models.StatementResult
	err := db.WithContext(ctx).
		Preload("Unit").
		Preload("Tenant").
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("statement_id = ?", statementID).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	sortResults(results)
	return results, nil
}

// sortResults orders results the way the engine emits them
func sortResults(results []models.StatementResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Unit.Name != b.Unit.Name {
			return a.Unit.Name < b.Unit.Name
		}
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		return a.TenantID < b.TenantID
	})
}
