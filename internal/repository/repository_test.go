package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/database"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	property  models.Property
	other     models.Property
	unitA     models.Unit
	unitB     models.Unit
	contractA models.RentalContract
	contractB models.RentalContract
	statement models.OperatingCostStatement
}

func seed(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	var f fixture

	owner := models.User{Email: "owner@example.com", FullName: "Owner"}
	require.NoError(t, db.Create(&owner).Error)

	f.property = models.Property{Name: "Lindenstraße 4", OwnerID: owner.ID}
	f.other = models.Property{Name: "Other", OwnerID: owner.ID}
	require.NoError(t, db.Create(&f.property).Error)
	require.NoError(t, db.Create(&f.other).Error)

	f.unitA = models.Unit{PropertyID: f.property.ID, Name: "A", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(60))}
	f.unitB = models.Unit{PropertyID: f.property.ID, Name: "B", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(40))}
	otherUnit := models.Unit{PropertyID: f.other.ID, Name: "X"}
	require.NoError(t, db.Create(&f.unitA).Error)
	require.NoError(t, db.Create(&f.unitB).Error)
	require.NoError(t, db.Create(&otherUnit).Error)

	tenants := []models.Tenant{{FullName: "Anna"}, {FullName: "Bernd"}, {FullName: "Carla"}, {FullName: "Dieter"}}
	require.NoError(t, db.Create(&tenants).Error)

	ended := day(2022, 12, 31)
	f.contractA = models.RentalContract{TenantID: tenants[0].ID, UnitID: f.unitA.ID, StartDate: day(2020, 1, 1)}
	f.contractB = models.RentalContract{TenantID: tenants[1].ID, UnitID: f.unitB.ID, StartDate: day(2023, 7, 1)}
	old := models.RentalContract{TenantID: tenants[2].ID, UnitID: f.unitB.ID, StartDate: day(2019, 1, 1), EndDate: &ended}
	elsewhere := models.RentalContract{TenantID: tenants[3].ID, UnitID: otherUnit.ID, StartDate: day(2020, 1, 1)}
	for _, c := range []*models.RentalContract{&f.contractA, &f.contractB, &old, &elsewhere} {
		require.NoError(t, db.Create(c).Error)
	}

	payments := []models.AdvancePayment{
		{ContractID: f.contractA.ID, TenantID: tenants[0].ID, PaidOn: day(2022, 12, 15), Amount: decimal.NewFromInt(300)},
		{ContractID: f.contractA.ID, TenantID: tenants[0].ID, PaidOn: day(2023, 1, 1), Amount: decimal.RequireFromString("325.50")},
		{ContractID: f.contractA.ID, TenantID: tenants[0].ID, PaidOn: day(2023, 12, 31), Amount: decimal.RequireFromString("324.50")},
	}
	require.NoError(t, db.Create(&payments).Error)

	year := 2023
	f.statement = models.OperatingCostStatement{PropertyID: f.property.ID, Year: &year, PeriodStart: day(2023, 1, 1), PeriodEnd: day(2023, 12, 31)}
	require.NoError(t, NewStatementRepository(db).Create(context.Background(), &f.statement))
	return f
}

func TestCostRecordStore_ReadsSnapshot(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	store := NewCostRecordStore(db)
	ctx := context.Background()

	err := store.ReadSnapshot(ctx, func(s CostRecordStore) error {
		statement, err := s.GetStatement(ctx, f.statement.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatementStatusDraft, statement.Status)
		assert.NotEmpty(t, statement.GUID)
		assert.Equal(t, "Lindenstraße 4", statement.Property.Name)

		units, err := s.ListUnits(ctx, f.property.ID)
		require.NoError(t, err)
		assert.Len(t, units, 2)

		contracts, err := s.ListTenanciesOverlapping(ctx, f.property.ID, day(2023, 1, 1), day(2023, 12, 31))
		require.NoError(t, err)
		require.Len(t, contracts, 2)
		assert.Equal(t, f.contractA.ID, contracts[0].ID)
		assert.Equal(t, "Anna", contracts[0].Tenant.FullName)
		assert.Equal(t, f.contractB.ID, contracts[1].ID)

		sum, err := s.SumAdvancePayments(ctx, f.contractA.ID, day(2023, 1, 1), day(2023, 12, 31))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(650).Equal(sum), "got %s", sum)
		return nil
	})
	require.NoError(t, err)
}

func TestCostRecordStore_GetStatementNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := NewCostRecordStore(db).GetStatement(context.Background(), 999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCostRecordStore_SaveResultsReplaces(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	store := NewCostRecordStore(db)
	ctx := context.Background()

	newResult := func(contract models.RentalContract, unit models.Unit, share int64) models.StatementResult {
		return models.StatementResult{
			StatementID:  f.statement.ID,
			TenantID:     contract.TenantID,
			UnitID:       unit.ID,
			ContractID:   contract.ID,
			PeriodStart:  day(2023, 1, 1),
			PeriodEnd:    day(2023, 12, 31),
			DaysInPeriod: 365,
			CostShare:    decimal.NewFromInt(share),
			Prepayments:  decimal.Zero,
			Balance:      decimal.NewFromInt(share),
			Lines: []models.StatementResultLine{
				{CostType: "Heizung", AllocationKey: "area", SourceAmount: decimal.NewFromInt(1000), Share: decimal.NewFromInt(share)},
			},
		}
	}

	first := []models.StatementResult{newResult(f.contractB, f.unitB, 400), newResult(f.contractA, f.unitA, 600)}
	require.NoError(t, store.SaveResults(ctx, f.statement.ID, first, nil, time.Now()))

	results, err := store.ListResults(ctx, f.statement.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Unit.Name)
	assert.Len(t, results[0].Lines, 1)

	second := []models.StatementResult{newResult(f.contractA, f.unitA, 1000)}
	warnings := `[{"code":"partial_data_gap"}]`
	require.NoError(t, store.SaveResults(ctx, f.statement.ID, second, &warnings, time.Now()))

	results, err = store.ListResults(ctx, f.statement.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(results[0].CostShare))

	var lineCount int64
	require.NoError(t, db.Model(&models.StatementResultLine{}).Count(&lineCount).Error)
	assert.Equal(t, int64(1), lineCount)

	statement, err := store.GetStatement(ctx, f.statement.ID)
	require.NoError(t, err)
	assert.NotNil(t, statement.ResultsComputedAt)
	require.NotNil(t, statement.Warnings)
	assert.Equal(t, warnings, *statement.Warnings)
}

func TestStatementRepository_CostItemsAndTotal(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	repo := NewStatementRepository(db)
	ctx := context.Background()

	heating := &models.CostLineItem{StatementID: f.statement.ID, CostType: "Heizung", AllocationKey: "area", Amount: decimal.RequireFromString("1000.10")}
	water := &models.CostLineItem{StatementID: f.statement.ID, CostType: "Wasser", AllocationKey: "persons", Amount: decimal.RequireFromString("200.20")}
	require.NoError(t, repo.CreateCostItem(ctx, heating))
	require.NoError(t, repo.CreateCostItem(ctx, water))

	total, err := repo.RefreshTotal(ctx, f.statement.ID)
	require.NoError(t, err)
	assert.Equal(t, "1200.3", total.String())

	require.NoError(t, repo.DeleteCostItem(ctx, water))
	total, err = repo.RefreshTotal(ctx, f.statement.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.1", total.String())

	statement, err := repo.FindByID(ctx, f.statement.ID)
	require.NoError(t, err)
	require.Len(t, statement.CostItems, 1)
	assert.Equal(t, "Heizung", statement.CostItems[0].CostType)

	_, err = repo.FindCostItem(ctx, f.statement.ID+1, heating.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStatementRepository_DuplicateYear(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	repo := NewStatementRepository(db)

	year := 2023
	dup := &models.OperatingCostStatement{PropertyID: f.property.ID, Year: &year, PeriodStart: day(2023, 1, 1), PeriodEnd: day(2023, 12, 31)}
	assert.ErrorIs(t, repo.Create(context.Background(), dup), ErrDuplicateStatement)

	otherYear := 2024
	next := &models.OperatingCostStatement{PropertyID: f.property.ID, Year: &otherYear, PeriodStart: day(2024, 1, 1), PeriodEnd: day(2024, 12, 31)}
	assert.NoError(t, repo.Create(context.Background(), next))
}

func TestStatementRepository_ListAndDelete(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	repo := NewStatementRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateCostItem(ctx, &models.CostLineItem{StatementID: f.statement.ID, CostType: "Müll", AllocationKey: "units", Amount: decimal.NewFromInt(90)}))

	query := NewListQuery()
	query.Filters["property_id"] = "1"
	query.Filters["status"] = "DRAFT"
	list, total, err := repo.List(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, f.statement.ID))
	_, err = repo.FindByID(ctx, f.statement.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var items int64
	require.NoError(t, db.Model(&models.CostLineItem{}).Count(&items).Error)
	assert.Zero(t, items)
}

func TestStatementRepository_Documents(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	repo := NewStatementRepository(db)
	ctx := context.Background()

	result := models.StatementResult{
		StatementID: f.statement.ID, TenantID: f.contractA.TenantID, UnitID: f.unitA.ID, ContractID: f.contractA.ID,
		PeriodStart: day(2023, 1, 1), PeriodEnd: day(2023, 12, 31), DaysInPeriod: 365,
		CostShare: decimal.NewFromInt(600), Prepayments: decimal.NewFromInt(650), Balance: decimal.NewFromInt(-50),
	}
	require.NoError(t, db.Create(&result).Error)

	require.NoError(t, repo.SetResultDocument(ctx, result.ID, "statements/1/1.pdf"))
	require.NoError(t, repo.MarkDocumentsStale(ctx, f.statement.ID))

	stored, err := repo.FindResult(ctx, f.statement.ID, result.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DocumentPath)
	assert.True(t, stored.DocumentStale)
	assert.True(t, stored.NeedsDocument())
	assert.Equal(t, "Anna", stored.Tenant.FullName)
	assert.Equal(t, "Guthaben", stored.BalanceLabel())
}

func TestDeliveryLogRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewDeliveryLogRepository(db)
	ctx := context.Background()

	errMsg := "mailbox unavailable"
	require.NoError(t, repo.Create(ctx, &models.DeliveryLog{StatementID: 1, ResultID: 1, TenantID: 1, Status: models.DeliveryStatusFailure, Error: &errMsg, AttemptedAt: time.Now()}))

	ok, err := repo.HasSuccess(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Create(ctx, &models.DeliveryLog{StatementID: 1, ResultID: 1, TenantID: 1, Status: models.DeliveryStatusSuccess, AttemptedAt: time.Now()}))
	ok, err = repo.HasSuccess(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	counts, err := repo.CountByStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.DeliveryStatusSuccess])
	assert.Equal(t, int64(1), counts[models.DeliveryStatusFailure])

	logs, err := repo.FindByStatement(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
