package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Transaction{}, &IdempotencyRecord{}))
	return db
}

func buyTxn(accountID, symbol string, quantity, price float64) *types.Transaction {
	return &types.Transaction{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      types.SideBuy,
		Quantity:  decimal.NewFromFloat(quantity),
		Price:     decimal.NewFromFloat(price),
		Currency:  "USD",
		TradeDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	valid := buyTxn("acct-1", "AAPL", 10, 100)
	require.NoError(t, Validate(valid))

	t.Run("rejects unknown side", func(t *testing.T) {
		txn := buyTxn("acct-1", "AAPL", 10, 100)
		txn.Side = "SHORT"
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)
	})

	t.Run("rejects missing symbol", func(t *testing.T) {
		txn := buyTxn("acct-1", "", 10, 100)
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		txn := buyTxn("acct-1", "AAPL", 0, 100)
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)

		txn.Quantity = decimal.NewFromInt(-5)
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)
	})

	t.Run("rejects negative price and fee", func(t *testing.T) {
		txn := buyTxn("acct-1", "AAPL", 10, -1)
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)

		txn = buyTxn("acct-1", "AAPL", 10, 100)
		txn.Fee = decimal.NewFromInt(-1)
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)
	})

	t.Run("rejects zero trade date", func(t *testing.T) {
		txn := buyTxn("acct-1", "AAPL", 10, 100)
		txn.TradeDate = time.Time{}
		assert.ErrorIs(t, Validate(txn), types.ErrValidation)
	})

	t.Run("allows zero price for dividends", func(t *testing.T) {
		txn := buyTxn("acct-1", "AAPL", 10, 0)
		txn.Side = types.SideDividend
		assert.NoError(t, Validate(txn))
	})
}

func TestAppendIdempotency(t *testing.T) {
	service := NewService(newTestDB(t))

	first, err := service.Append(buyTxn("acct-1", "AAPL", 10, 100), "key-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.TransactionID)

	// Same key again: the original comes back, nothing new is written
	second, err := service.Append(buyTxn("acct-1", "AAPL", 99, 999), "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.Quantity.Equal(decimal.NewFromInt(10)))

	var count int64
	require.NoError(t, service.GetDB().DB().Model(&types.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// A different key records a distinct transaction
	third, err := service.Append(buyTxn("acct-1", "AAPL", 10, 100), "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, third.TransactionID)
}

func TestStreamSince(t *testing.T) {
	service := NewService(newTestDB(t))

	var appended []string
	for i := 0; i < 5; i++ {
		txn, err := service.Append(buyTxn("acct-1", "AAPL", float64(i+1), 100), fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		appended = append(appended, txn.TransactionID)
	}
	// Another account's transactions must not leak into the stream
	_, err := service.Append(buyTxn("acct-2", "MSFT", 7, 200), "other-key")
	require.NoError(t, err)

	page, err := service.StreamSince("acct-1", 0, 3)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	assert.Equal(t, appended[0], page.Transactions[0].TransactionID)
	assert.Equal(t, appended[2], page.Transactions[2].TransactionID)

	// Resuming from NextCursor yields exactly the remainder
	rest, err := service.StreamSince("acct-1", page.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, rest.Transactions, 2)
	assert.Equal(t, appended[3], rest.Transactions[0].TransactionID)
	assert.Equal(t, appended[4], rest.Transactions[1].TransactionID)

	// An exhausted stream returns an empty page with an unchanged cursor
	empty, err := service.StreamSince("acct-1", rest.NextCursor, 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Transactions)
	assert.Equal(t, rest.NextCursor, empty.NextCursor)
}

func TestCashBalance(t *testing.T) {
	service := NewService(newTestDB(t))

	buy := buyTxn("acct-1", "AAPL", 10, 100)
	buy.Fee = decimal.NewFromFloat(2)
	_, err := service.Append(buy, "b1")
	require.NoError(t, err)

	sell := buyTxn("acct-1", "AAPL", 4, 120)
	sell.Side = types.SideSell
	sell.Fee = decimal.NewFromFloat(1)
	sell.TradeDate = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err = service.Append(sell, "s1")
	require.NoError(t, err)

	dividend := buyTxn("acct-1", "AAPL", 10, 0.5)
	dividend.Side = types.SideDividend
	dividend.TradeDate = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err = service.Append(dividend, "d1")
	require.NoError(t, err)

	// -1002 + 479 + 5
	balance, err := service.CashBalance("acct-1", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-518)), "got %s", balance)

	// asOf before the sell sees only the buy
	early, err := service.CashBalance("acct-1", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, early.Equal(decimal.NewFromInt(-1002)), "got %s", early)
}
