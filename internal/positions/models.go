package positions

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position is the cached holding per (account, instrument). It has no
// independent existence: it is fully reconstructable from open lots plus
// the current price, and on any disagreement the recompute wins and the
// cache is overwritten, never the reverse.
type Position struct {
	gorm.Model     `json:"-"`
	AccountID      string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"account_id"`
	Symbol         string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"symbol"`
	Quantity       decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	AverageCost    decimal.Decimal `gorm:"type:numeric" json:"average_cost"`
	CostBasis      decimal.Decimal `gorm:"type:numeric" json:"cost_basis"`
	MarketValue    decimal.Decimal `gorm:"type:numeric" json:"market_value"`
	UnrealizedGain decimal.Decimal `gorm:"type:numeric" json:"unrealized_gain"`
	Currency       string          `json:"currency"`
	PriceStale     bool            `json:"price_stale"`
	LastUpdated    time.Time       `json:"last_updated"`
}
