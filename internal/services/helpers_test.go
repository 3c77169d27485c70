package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/database"
	"github.com/sjperalta/opcost-api/internal/jobs"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/storage"
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

// fakeMailer records sent mails and fails for configured recipients
type fakeMailer struct {
	mu     sync.Mutex
	sent   []*StatementMail
	failTo map[string]bool
	delay  time.Duration
}

func (m *fakeMailer) SendStatement(ctx context.Context, mail *StatementMail) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[mail.To] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// syncQueue runs every job immediately
type syncQueue struct {
	names  []string
	errors []error
}

func (q *syncQueue) EnqueueNamed(name string, job jobs.Job) {
	q.names = append(q.names, name)
	if err := job(context.Background()); err != nil {
		q.errors = append(q.errors, err)
	}
}

type testEnv struct {
	db        *gorm.DB
	repos     *repository.Repositories
	statement *StatementService
	documents *DocumentService
	delivery  *DeliveryService
	mailer    *fakeMailer
	queue     *syncQueue
	storage   *storage.LocalStorage

	owner     models.User
	property  models.Property
	unitA     models.Unit
	unitB     models.Unit
	tenantA   models.Tenant
	tenantB   models.Tenant
	contractA models.RentalContract
	contractB models.RentalContract
}

// newTestEnv seeds a property with two units of 60 and 40 m², both let for
// the whole of 2023; tenant A paid 650.00 in advance.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		db:      db,
		repos:   repository.NewRepositories(db),
		mailer:  &fakeMailer{failTo: map[string]bool{}},
		queue:   &syncQueue{},
		storage: store,
	}

	notificationSvc := NewNotificationService(env.repos.Notification)
	auditSvc := NewAuditService(db)
	env.statement = NewStatementService(env.repos.Statement, env.repos.CostRecords, env.repos.Property, nil, notificationSvc, auditSvc, store)
	env.documents = NewDocumentService(env.repos.Statement, store, NewGoFPDFRenderer(), nil, "EUR")
	env.delivery = NewDeliveryService(env.repos.Statement, env.repos.Delivery, env.documents, env.mailer, notificationSvc, auditSvc, env.queue)

	env.owner = models.User{Email: "owner@example.com", FullName: "Olga Owner"}
	require.NoError(t, db.Create(&env.owner).Error)

	env.property = models.Property{Name: "Lindenstraße 4", OwnerID: env.owner.ID}
	require.NoError(t, db.Create(&env.property).Error)

	env.unitA = models.Unit{PropertyID: env.property.ID, Name: "A", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(60)), Persons: intPtr(2)}
	env.unitB = models.Unit{PropertyID: env.property.ID, Name: "B", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(40)), Persons: intPtr(1)}
	require.NoError(t, db.Create(&env.unitA).Error)
	require.NoError(t, db.Create(&env.unitB).Error)

	env.tenantA = models.Tenant{FullName: "Anna Schmidt", Email: "anna@example.com"}
	env.tenantB = models.Tenant{FullName: "Bernd Weber", Email: "bernd@example.com"}
	require.NoError(t, db.Create(&env.tenantA).Error)
	require.NoError(t, db.Create(&env.tenantB).Error)

	env.contractA = models.RentalContract{TenantID: env.tenantA.ID, UnitID: env.unitA.ID, StartDate: day(2020, 1, 1)}
	env.contractB = models.RentalContract{TenantID: env.tenantB.ID, UnitID: env.unitB.ID, StartDate: day(2021, 5, 1)}
	require.NoError(t, db.Create(&env.contractA).Error)
	require.NoError(t, db.Create(&env.contractB).Error)

	payment := models.AdvancePayment{ContractID: env.contractA.ID, TenantID: env.tenantA.ID, PaidOn: day(2023, 3, 1), Amount: decimal.NewFromInt(650)}
	require.NoError(t, db.Create(&payment).Error)

	return env
}

func intPtr(v int) *int { return &v }

// newStatement creates the 2023 statement with one insurance item of 1000.00 by area
func (e *testEnv) newStatement(t *testing.T) *models.OperatingCostStatement {
	t.Helper()
	ctx := context.Background()
	year := 2023
	statement, err := e.statement.CreateStatement(ctx, Actor{UserID: e.owner.ID}, CreateStatementInput{
		PropertyID: e.property.ID,
		Year:       &year,
	})
	require.NoError(t, err)

	_, err = e.statement.AddCostItem(ctx, Actor{UserID: e.owner.ID}, statement.ID, CostItemInput{
		CostType:      "Gebäudeversicherung",
		AllocationKey: "area",
		Amount:        decimal.RequireFromString("1000.00"),
	})
	require.NoError(t, err)
	return statement
}

// readyStatement computes the statement and releases it
func (e *testEnv) readyStatement(t *testing.T) *models.OperatingCostStatement {
	t.Helper()
	ctx := context.Background()
	statement := e.newStatement(t)
	_, err := e.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	statement, err = e.statement.MarkReady(ctx, Actor{UserID: e.owner.ID}, statement.ID)
	require.NoError(t, err)
	return statement
}

func (e *testEnv) notificationCount(t *testing.T, notifType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Notification{}).
		Where("user_id = ? AND notification_type = ?", e.owner.ID, notifType).
		Count(&count).Error)
	return count
}
