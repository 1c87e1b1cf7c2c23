package pricing

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PricePoint is one observation in the append-only price time series. The
// series is owned by an external ingestion pipeline; the engine only reads
// it for valuation.
type PricePoint struct {
	gorm.Model `json:"-"`
	Symbol     string          `gorm:"index:idx_prices_symbol_ts" json:"symbol"`
	Price      decimal.Decimal `gorm:"type:numeric" json:"price"`
	Currency   string          `json:"currency"`
	Timestamp  time.Time       `gorm:"index:idx_prices_symbol_ts" json:"timestamp"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FxRate is one observation in the append-only FX time series, quoted as
// 1 base = rate quote.
type FxRate struct {
	gorm.Model    `json:"-"`
	BaseCurrency  string          `gorm:"index:idx_fx_pair_ts" json:"base_currency"`
	QuoteCurrency string          `gorm:"index:idx_fx_pair_ts" json:"quote_currency"`
	Rate          decimal.Decimal `gorm:"type:numeric" json:"rate"`
	Timestamp     time.Time       `gorm:"index:idx_fx_pair_ts" json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Quote is a resolved valuation price. Stale marks a price older than the
// staleness window relative to the requested as-of date; the caller gets a
// best-effort value rather than a failure.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
	Stale     bool            `json:"stale"`
}

// Conversion is the result of a currency conversion.
type Conversion struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Rate   decimal.Decimal `json:"rate"`
	Stale  bool            `json:"stale"`
}
