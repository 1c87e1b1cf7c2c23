package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction sides. DIVIDEND transactions are synthetic cash events emitted
// by the corporate action adjuster; they never touch lots.
const (
	SideBuy      = "BUY"
	SideSell     = "SELL"
	SideDividend = "DIVIDEND"
)

// Asset classes for instruments
const (
	AssetEquity     = "EQUITY"
	AssetETF        = "ETF"
	AssetMutualFund = "MUTUAL_FUND"
	AssetBond       = "BOND"
	AssetCash       = "CASH"
	AssetCrypto     = "CRYPTO"
	AssetCommodity  = "COMMODITY"
	AssetOther      = "OTHER"
)

// Transaction is an immutable trade fact. Rows are never updated or deleted;
// corrections are modeled as new, opposite-side transactions.
type Transaction struct {
	gorm.Model     `json:"-"`
	TransactionID  string          `gorm:"uniqueIndex" json:"transaction_id"`
	AccountID      string          `gorm:"index" json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"` // BUY, SELL, DIVIDEND
	Quantity       decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:numeric" json:"price"`
	Fee            decimal.Decimal `gorm:"type:numeric" json:"fee"`
	Currency       string          `json:"currency"`
	TradeDate      time.Time       `json:"trade_date"`
	SettlementDate *time.Time      `json:"settlement_date,omitempty"`
	// Strategy records the matching strategy a sell was processed with, so
	// a rebuild folds the ledger to bit-for-bit identical lot state.
	Strategy  string    `json:"strategy,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cursor returns the replay cursor for this transaction. Cursors are the
// monotonically increasing row ID, so a consumer can restart a stream from
// any transaction it has already seen.
func (t *Transaction) Cursor() uint64 {
	return uint64(t.ID)
}

// GrossAmount is quantity * price, before fees.
func (t *Transaction) GrossAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// CashDelta is the signed effect of the transaction on uninvested cash:
// buys consume cash including the fee, sells produce proceeds net of the
// fee, and dividends add straight cash income.
func (t *Transaction) CashDelta() decimal.Decimal {
	switch t.Side {
	case SideBuy:
		return t.GrossAmount().Add(t.Fee).Neg()
	case SideSell:
		return t.GrossAmount().Sub(t.Fee)
	case SideDividend:
		return t.GrossAmount().Sub(t.Fee)
	}
	return decimal.Zero
}

// Instrument identifies a tradable security by (symbol, exchange).
type Instrument struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"uniqueIndex:idx_instruments_symbol_exchange" json:"symbol"`
	Exchange   string    `gorm:"uniqueIndex:idx_instruments_symbol_exchange" json:"exchange"`
	Name       string    `json:"name"`
	AssetClass string    `json:"asset_class"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
}
