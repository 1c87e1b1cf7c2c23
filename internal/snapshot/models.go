package snapshot

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Snapshot statuses. A snapshot moves PENDING -> COMPUTING -> COMMITTED,
// or to FAILED when valuation inputs are missing. FAILED rows are retried
// by the background processor; COMMITTED rows are final for their date.
const (
	StatusPending   = "PENDING"
	StatusComputing = "COMPUTING"
	StatusCommitted = "COMMITTED"
	StatusFailed    = "FAILED"
)

// PortfolioSnapshot is one account's end-of-day valuation in its base
// currency. At most one row exists per (account, date); recomputation
// replaces the row's values rather than patching them.
type PortfolioSnapshot struct {
	gorm.Model     `json:"-"`
	SnapshotID     string           `gorm:"uniqueIndex" json:"snapshot_id"`
	AccountID      string           `gorm:"uniqueIndex:idx_snapshots_account_date" json:"account_id"`
	SnapshotDate   time.Time        `gorm:"uniqueIndex:idx_snapshots_account_date" json:"snapshot_date"`
	BaseCurrency   string           `json:"base_currency"`
	CashValue      decimal.Decimal  `gorm:"type:numeric" json:"cash_value"`
	PositionsValue decimal.Decimal  `gorm:"type:numeric" json:"positions_value"`
	TotalValue     decimal.Decimal  `gorm:"type:numeric" json:"total_value"`
	DailyReturn    *decimal.Decimal `gorm:"type:numeric" json:"daily_return"` // nil when no prior committed snapshot
	PriceStale     bool             `json:"price_stale"`
	Status         string           `json:"status"` // PENDING, COMPUTING, COMMITTED, FAILED
	FailureReason  string           `json:"failure_reason,omitempty"`
	ComputedAt     *time.Time       `json:"computed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
