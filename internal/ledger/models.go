package ledger

import (
	"time"

	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/gorm"
)

// IdempotencyRecord maps a caller-supplied idempotency key to the
// transaction it produced. Keys are globally unique and never expire: a
// retried submission must return the original transaction no matter how
// late it arrives.
type IdempotencyRecord struct {
	gorm.Model     `json:"-"`
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	TransactionID  string    `json:"transaction_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamPage is one batch of a replayable transaction stream. NextCursor
// restarts the stream after the last transaction in the page.
type StreamPage struct {
	Transactions []types.Transaction `json:"transactions"`
	NextCursor   uint64              `json:"next_cursor"`
}
