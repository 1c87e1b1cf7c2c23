package migrations

import (
	"github.com/tallyr/holdings-api/internal/pricing"
	"gorm.io/gorm"
)

// AddMarketDataIndexes creates the append-only price and FX tables and the
// at-or-before lookup indexes the resolver uses.
func AddMarketDataIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&pricing.PricePoint{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&pricing.FxRate{}); err != nil {
		return err
	}

	indexes := []string{
		// Latest-at-or-before price lookups
		`CREATE INDEX IF NOT EXISTS idx_price_points_symbol_timestamp
		 ON price_points(symbol, timestamp)`,

		// Latest-at-or-before FX lookups, by currency pair
		`CREATE INDEX IF NOT EXISTS idx_fx_rates_pair_timestamp
		 ON fx_rates(base_currency, quote_currency, timestamp)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
