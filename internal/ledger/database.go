package ledger

import (
	"errors"
	"time"

	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying connection so callers composing a larger unit
// of work (ledger append + lot matching) can open one transaction across
// both.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// CreateTransactionTx appends a transaction within an existing gorm
// transaction.
func (d *Database) CreateTransactionTx(tx *gorm.DB, txn *types.Transaction) error {
	return tx.Create(txn).Error
}

// CreateIdempotencyRecordTx records an idempotency key within an existing
// gorm transaction.
func (d *Database) CreateIdempotencyRecordTx(tx *gorm.DB, key, transactionID string) error {
	record := IdempotencyRecord{
		IdempotencyKey: key,
		TransactionID:  transactionID,
		CreatedAt:      time.Now(),
	}
	return tx.Create(&record).Error
}

// CreateTransactionWithIdempotency appends a transaction and its
// idempotency record in a single gorm transaction.
func (d *Database) CreateTransactionWithIdempotency(txn *types.Transaction, idempotencyKey string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := d.CreateTransactionTx(tx, txn); err != nil {
			return err
		}
		if idempotencyKey != "" {
			return d.CreateIdempotencyRecordTx(tx, idempotencyKey, txn.TransactionID)
		}
		return nil
	})
}

// GetIdempotencyRecord retrieves an idempotency record by key. Returns nil
// when the key has never been seen.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetTransaction(transactionID string) (*types.Transaction, error) {
	var txn types.Transaction
	if err := d.db.Where("transaction_id = ?", transactionID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// GetTransactionsSince returns up to limit transactions for an account with
// row ID strictly greater than cursor, in row ID order. Row IDs are
// monotonic, which makes the stream finite, ordered, and restartable from
// any previously seen cursor.
func (d *Database) GetTransactionsSince(accountID string, cursor uint64, limit int) ([]types.Transaction, error) {
	var txns []types.Transaction
	if err := d.db.
		Where("account_id = ? AND id > ?", accountID, cursor).
		Order("id ASC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// GetTransactionsThrough returns all transactions for an account with trade
// date at or before asOf, in row ID order.
func (d *Database) GetTransactionsThrough(accountID string, asOf time.Time) ([]types.Transaction, error) {
	var txns []types.Transaction
	if err := d.db.
		Where("account_id = ? AND trade_date <= ?", accountID, asOf).
		Order("id ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// GetHoldingAccounts returns the distinct account IDs that have ever traded
// a symbol. Used by corporate action fan-out.
func (d *Database) GetHoldingAccounts(symbol string) ([]string, error) {
	var accountIDs []string
	if err := d.db.Model(&types.Transaction{}).
		Where("symbol = ?", symbol).
		Distinct().
		Pluck("account_id", &accountIDs).Error; err != nil {
		return nil, err
	}
	return accountIDs, nil
}
