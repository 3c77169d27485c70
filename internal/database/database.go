package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/opcost-api/internal/models"
	pkgLogger "github.com/sjperalta/opcost-api/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite://"

// Options tune SQL logging
type Options struct {
	LogLevel      string
	SlowThreshold time.Duration
}

// Connect establishes a connection to the database. URLs starting with
// sqlite:// open a SQLite file (or :memory:), everything else is PostgreSQL.
func Connect(databaseURL string, opts Options) (*gorm.DB, error) {
	gormLogger := pkgLogger.NewGormLogger(pkgLogger.GormLevel(opts.LogLevel), opts.SlowThreshold)

	var dialector gorm.Dialector
	isSQLite := strings.HasPrefix(databaseURL, sqlitePrefix)
	if isSQLite {
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, sqlitePrefix))
	} else {
		dialector = postgres.Open(databaseURL)
	}

	// Open database connection
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true, // Improve performance
		PrepareStmt:            !isSQLite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQL database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	if isSQLite {
		// a single connection keeps :memory: databases alive and serializes writers
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Models lists every table managed by the service, parents first
func Models() []any {
	return []any{
		&models.User{},
		&models.Property{},
		&models.Unit{},
		&models.Tenant{},
		&models.RentalContract{},
		&models.AdvancePayment{},
		&models.OperatingCostStatement{},
		&models.CostLineItem{},
		&models.StatementResult{},
		&models.StatementResultLine{},
		&models.DeliveryLog{},
		&models.AuditLog{},
		&models.Notification{},
	}
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
