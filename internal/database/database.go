package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/klear-mf/internal/catalog"
	"github.com/ksred/klear-mf/internal/database/migrations"
	"github.com/ksred/klear-mf/internal/trading"
)

// NewDatabase opens the sqlite database at path and migrates every table.
// Use ":memory:" for a throwaway database.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the ordered migrations and auto-migrates the remaining models.
func Migrate(db *gorm.DB) error {
	if err := migrations.AddExchangeOrders(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddRoutingTables(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return db.AutoMigrate(
		&catalog.ProductRecord{},
		&trading.Submission{},
		&trading.IdempotencyRecord{},
	)
}
