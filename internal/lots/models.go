package lots

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/gorm"
)

// Lot is the unit of tax accounting. A lot is created exactly once, by the
// buy (or spinoff) that establishes it, and mutated only by sell-side
// closures and corporate-action rescaling. Invariant:
// 0 <= quantity_closed <= quantity_open.
type Lot struct {
	gorm.Model     `json:"-"`
	LotID          string          `gorm:"uniqueIndex" json:"lot_id"`
	AccountID      string          `gorm:"index:idx_lots_account_symbol" json:"account_id"`
	Symbol         string          `gorm:"index:idx_lots_account_symbol" json:"symbol"`
	TransactionID  string          `json:"transaction_id"`
	SourceActionID *string         `json:"source_action_id,omitempty"`
	QuantityOpen   decimal.Decimal `gorm:"type:numeric" json:"quantity_open"`
	QuantityClosed decimal.Decimal `gorm:"type:numeric" json:"quantity_closed"`
	CostBasis      decimal.Decimal `gorm:"type:numeric" json:"cost_basis"`
	Currency       string          `json:"currency"`
	OpenDate       time.Time       `json:"open_date"`
	CloseDate      *time.Time      `json:"close_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining is the still-open quantity of the lot.
func (l *Lot) Remaining() decimal.Decimal {
	return l.QuantityOpen.Sub(l.QuantityClosed)
}

// IsOpen reports whether any quantity remains open.
func (l *Lot) IsOpen() bool {
	return l.QuantityClosed.LessThan(l.QuantityOpen)
}

// UnitCostBasis is cost_basis / quantity_open, after any corporate-action
// rescaling.
func (l *Lot) UnitCostBasis() decimal.Decimal {
	if l.QuantityOpen.IsZero() {
		return decimal.Zero
	}
	return l.CostBasis.Div(l.QuantityOpen)
}

// RemainingCostBasis prorates the lot's basis by its remaining fraction.
func (l *Lot) RemainingCostBasis() decimal.Decimal {
	if l.QuantityOpen.IsZero() {
		return decimal.Zero
	}
	return l.CostBasis.Mul(l.Remaining()).Div(l.QuantityOpen)
}

// RealizedGain is one sell allocation against one lot.
type RealizedGain struct {
	gorm.Model        `json:"-"`
	GainID            string          `gorm:"uniqueIndex" json:"gain_id"`
	AccountID         string          `gorm:"index" json:"account_id"`
	Symbol            string          `json:"symbol"`
	LotID             string          `json:"lot_id"`
	SellTransactionID string          `json:"sell_transaction_id"`
	Quantity          decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	Proceeds          decimal.Decimal `gorm:"type:numeric" json:"proceeds"`
	CostBasis         decimal.Decimal `gorm:"type:numeric" json:"cost_basis"`
	FeeShare          decimal.Decimal `gorm:"type:numeric" json:"fee_share"`
	Gain              decimal.Decimal `gorm:"type:numeric" json:"gain"`
	RealizedAt        time.Time       `json:"realized_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TradeResult is the outcome of recording one transaction: the appended
// ledger fact plus its lot-level effects.
type TradeResult struct {
	Transaction   *types.Transaction `json:"transaction"`
	Lot           *Lot               `json:"lot,omitempty"`
	RealizedGains []RealizedGain     `json:"realized_gains,omitempty"`
	TotalGain     decimal.Decimal    `json:"total_gain"`
	Duplicate     bool               `json:"duplicate"`
}
