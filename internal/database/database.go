package database

import (
	"fmt"

	"github.com/tallyr/holdings-api/internal/accounts"
	"github.com/tallyr/holdings-api/internal/corporate"
	"github.com/tallyr/holdings-api/internal/database/migrations"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/positions"
	"github.com/tallyr/holdings-api/internal/snapshot"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "holdings.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddMarketDataIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Instrument{},
		&accounts.Account{},
		&ledger.IdempotencyRecord{},
		&corporate.CorporateAction{},
		&corporate.ActionApplication{},
		&positions.Position{},
		&snapshot.PortfolioSnapshot{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
