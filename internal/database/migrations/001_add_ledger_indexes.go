package migrations

import (
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/gorm"
)

// AddLedgerIndexes creates the transaction and lot tables and the indexes
// the matching engine leans on.
func AddLedgerIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Transaction{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&lots.Lot{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&lots.RealizedGain{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Cursor streaming reads transactions by account in row-id order
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_id
		 ON transactions(account_id, id)`,

		// Trade-date replay ordering for rebuilds
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_trade_date
		 ON transactions(account_id, trade_date)`,

		// Open-lot scans filter on remaining quantity
		`CREATE INDEX IF NOT EXISTS idx_lots_account_symbol_open
		 ON lots(account_id, symbol, quantity_closed)`,

		// Realized gain listings by account and symbol
		`CREATE INDEX IF NOT EXISTS idx_realized_gains_account_symbol
		 ON realized_gains(account_id, symbol)`,

		// Dividend holding reconstruction reads gains by realization time
		`CREATE INDEX IF NOT EXISTS idx_realized_gains_realized_at
		 ON realized_gains(account_id, symbol, realized_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
