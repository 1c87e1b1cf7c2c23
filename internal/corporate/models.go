package corporate

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Corporate action types
const (
	ActionSplit    = "SPLIT"
	ActionDividend = "DIVIDEND"
	ActionSpinoff  = "SPINOFF"
)

// Corporate action statuses
const (
	StatusPending = "PENDING"
	StatusApplied = "APPLIED"
)

// CorporateAction describes one instrument-level event. Field usage by
// type:
//   - SPLIT: Ratio is the share multiplier (2 for a 2:1 split)
//   - DIVIDEND: CashAmount is the cash paid per share held at ex-date
//   - SPINOFF: NewSymbol receives Ratio new shares per old share, carrying
//     BasisFraction of each lot's cost basis
type CorporateAction struct {
	gorm.Model    `json:"-"`
	ActionID      string          `gorm:"uniqueIndex" json:"action_id"`
	Symbol        string          `gorm:"index" json:"symbol"`
	ActionType    string          `json:"action_type"` // SPLIT, DIVIDEND, SPINOFF
	ExDate        time.Time       `json:"ex_date"`
	Ratio         decimal.Decimal `gorm:"type:numeric" json:"ratio"`
	CashAmount    decimal.Decimal `gorm:"type:numeric" json:"cash_amount"`
	NewSymbol     string          `json:"new_symbol,omitempty"`
	BasisFraction decimal.Decimal `gorm:"type:numeric" json:"basis_fraction"`
	Status        string          `json:"status"` // PENDING, APPLIED
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ActionApplication marks one (action, lot) pair as applied. The unique
// index is what makes replay idempotent: a second application of the same
// action to the same lot is skipped, logged, and not an error.
type ActionApplication struct {
	gorm.Model `json:"-"`
	ActionID   string    `gorm:"uniqueIndex:idx_action_applications_pair" json:"action_id"`
	LotID      string    `gorm:"uniqueIndex:idx_action_applications_pair" json:"lot_id"`
	AccountID  string    `gorm:"index" json:"account_id"`
	AppliedAt  time.Time `json:"applied_at"`
}

// ApplyResult summarizes one application run over an action.
type ApplyResult struct {
	ActionID         string `json:"action_id"`
	ActionType       string `json:"action_type"`
	Symbol           string `json:"symbol"`
	LotsAdjusted     int    `json:"lots_adjusted"`
	LotsSkipped      int    `json:"lots_skipped"`
	LotsCreated      int    `json:"lots_created"`
	DividendsEmitted int    `json:"dividends_emitted"`
	Status           string `json:"status"`
}

// RebuildResult summarizes a full rebuild of an account's derived state.
type RebuildResult struct {
	AccountID          string `json:"account_id"`
	TransactionsFolded int    `json:"transactions_folded"`
	ActionsReplayed    int    `json:"actions_replayed"`
	PositionsRefreshed int    `json:"positions_refreshed"`
}
