package lots

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyr/holdings-api/internal/ledger"
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
	require.NoError(t, db.AutoMigrate(&types.Transaction{}, &ledger.IdempotencyRecord{}, &Lot{}, &RealizedGain{}))
	return db
}

func txn(side, symbol string, quantity, price, fee float64, tradeDate string) *types.Transaction {
	date, err := time.Parse("2006-01-02", tradeDate)
	if err != nil {
		panic(err)
	}
	return &types.Transaction{
		AccountID: "acct-1",
		Symbol:    symbol,
		Side:      side,
		Quantity:  decimal.NewFromFloat(quantity),
		Price:     decimal.NewFromFloat(price),
		Fee:       decimal.NewFromFloat(fee),
		Currency:  "USD",
		TradeDate: date,
	}
}

func TestBuyOpensSingleLot(t *testing.T) {
	service := NewService(newTestDB(t))

	result, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 1, "2024-01-10"), "b1", "")
	require.NoError(t, err)
	require.NotNil(t, result.Lot)

	lot := result.Lot
	assert.True(t, lot.QuantityOpen.Equal(decimal.NewFromInt(100)))
	assert.True(t, lot.QuantityClosed.IsZero())
	// basis = 100*50 + 1
	assert.True(t, lot.CostBasis.Equal(decimal.NewFromInt(5001)), "got %s", lot.CostBasis)
	assert.True(t, lot.UnitCostBasis().Equal(decimal.NewFromFloat(50.01)))
	assert.True(t, lot.IsOpen())
	assert.Nil(t, lot.CloseDate)
}

func TestFIFOPartialSell(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 1, "2024-01-10"), "b1", "")
	require.NoError(t, err)
	_, err = service.RecordTransaction(txn(types.SideBuy, "AAPL", 50, 55, 1, "2024-02-10"), "b2", "")
	require.NoError(t, err)

	result, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 40, 60, 0, "2024-03-01"), "s1", "")
	require.NoError(t, err)
	require.Len(t, result.RealizedGains, 1, "a 40-share sell fits inside the oldest lot")

	// 40 * (60 - 50.01) = 399.60 against the first lot
	gain := result.RealizedGains[0]
	assert.True(t, gain.Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, gain.Proceeds.Equal(decimal.NewFromInt(2400)))
	assert.True(t, gain.CostBasis.Equal(decimal.NewFromFloat(2000.4)), "got %s", gain.CostBasis)
	assert.True(t, gain.Gain.Equal(decimal.NewFromFloat(399.6)), "got %s", gain.Gain)
	assert.True(t, result.TotalGain.Equal(decimal.NewFromFloat(399.6)))

	// The oldest lot is partially closed, the newer one untouched
	open, err := service.GetOpenLots("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.True(t, open[0].Remaining().Equal(decimal.NewFromInt(60)))
	assert.True(t, open[1].Remaining().Equal(decimal.NewFromInt(50)))

	// Sells record the strategy they were folded with
	assert.Equal(t, StrategyFIFO, result.Transaction.Strategy)
}

func TestSellSpansMultipleLots(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 0, "2024-01-10"), "b1", "")
	require.NoError(t, err)
	_, err = service.RecordTransaction(txn(types.SideBuy, "AAPL", 50, 55, 0, "2024-02-10"), "b2", "")
	require.NoError(t, err)

	result, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 120, 60, 3, "2024-03-01"), "s1", "")
	require.NoError(t, err)
	require.Len(t, result.RealizedGains, 2)

	first, second := result.RealizedGains[0], result.RealizedGains[1]
	assert.True(t, first.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, second.Quantity.Equal(decimal.NewFromInt(20)))

	// The sell fee is prorated by allocated quantity: 3 * 100/120 and 3 * 20/120
	assert.True(t, first.FeeShare.Equal(decimal.NewFromFloat(2.5)), "got %s", first.FeeShare)
	assert.True(t, second.FeeShare.Equal(decimal.NewFromFloat(0.5)), "got %s", second.FeeShare)

	// Gains: 100*(60-50) - 2.5 and 20*(60-55) - 0.5
	assert.True(t, first.Gain.Equal(decimal.NewFromFloat(997.5)), "got %s", first.Gain)
	assert.True(t, second.Gain.Equal(decimal.NewFromFloat(99.5)), "got %s", second.Gain)

	// First lot is fully closed with a close date; 30 remain on the second
	open, err := service.GetOpenLots("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Remaining().Equal(decimal.NewFromInt(30)))

	all, err := service.GetDB().GetAccountLots("acct-1", "AAPL")
	require.NoError(t, err)
	for i := range all {
		if !all[i].IsOpen() {
			assert.NotNil(t, all[i].CloseDate)
		}
	}
}

func TestOversellRejectedAtomically(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 10, 50, 0, "2024-01-10"), "b1", "")
	require.NoError(t, err)

	_, err = service.RecordTransaction(txn(types.SideSell, "AAPL", 15, 60, 0, "2024-03-01"), "s1", "")
	require.ErrorIs(t, err, types.ErrInsufficientLots)

	// Nothing committed: no ledger append, no closures, lot untouched
	var txnCount int64
	require.NoError(t, service.GetDB().DB().Model(&types.Transaction{}).Count(&txnCount).Error)
	assert.Equal(t, int64(1), txnCount)

	gains, err := service.GetRealizedGains("acct-1", "AAPL")
	require.NoError(t, err)
	assert.Empty(t, gains)

	open, err := service.GetOpenLots("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Remaining().Equal(decimal.NewFromInt(10)))

	// The rejected key is not burned; a valid retry under it succeeds
	result, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 5, 60, 0, "2024-03-01"), "s1", "")
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
}

func TestLIFOAndHighestCostStrategies(t *testing.T) {
	t.Run("LIFO closes newest lot first", func(t *testing.T) {
		service := NewService(newTestDB(t))
		_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 0, "2024-01-10"), "b1", "")
		require.NoError(t, err)
		_, err = service.RecordTransaction(txn(types.SideBuy, "AAPL", 50, 55, 0, "2024-02-10"), "b2", "")
		require.NoError(t, err)

		result, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 40, 60, 0, "2024-03-01"), "s1", StrategyLIFO)
		require.NoError(t, err)
		require.Len(t, result.RealizedGains, 1)
		// Against the newer 55-cost lot: 40 * (60 - 55)
		assert.True(t, result.TotalGain.Equal(decimal.NewFromInt(200)), "got %s", result.TotalGain)
		assert.Equal(t, StrategyLIFO, result.Transaction.Strategy)
	})

	t.Run("HIGHEST_COST closes priciest basis first", func(t *testing.T) {
		service := NewService(newTestDB(t))
		_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 58, 0, "2024-01-10"), "b1", "")
		require.NoError(t, err)
		_, err = service.RecordTransaction(txn(types.SideBuy, "AAPL", 50, 55, 0, "2024-02-10"), "b2", "")
		require.NoError(t, err)

		result, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 40, 60, 0, "2024-03-01"), "s1", StrategyHighestCost)
		require.NoError(t, err)
		require.Len(t, result.RealizedGains, 1)
		// Against the 58-cost lot even though it is older: 40 * (60 - 58)
		assert.True(t, result.TotalGain.Equal(decimal.NewFromInt(80)), "got %s", result.TotalGain)
	})

	t.Run("unknown strategy is a validation error", func(t *testing.T) {
		service := NewService(newTestDB(t))
		_, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 1, 60, 0, "2024-03-01"), "s1", "CHEAPEST")
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestDuplicateSubmissionReturnsStoredResult(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 0, "2024-01-10"), "b1", "")
	require.NoError(t, err)

	first, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 40, 60, 0, "2024-03-01"), "s1", "")
	require.NoError(t, err)

	second, err := service.RecordTransaction(txn(types.SideSell, "AAPL", 40, 60, 0, "2024-03-01"), "s1", "")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.TransactionID, second.Transaction.TransactionID)
	require.Len(t, second.RealizedGains, 1)
	assert.True(t, second.TotalGain.Equal(first.TotalGain))

	// No double closure happened
	open, err := service.GetOpenLots("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Remaining().Equal(decimal.NewFromInt(60)))
}

func TestDividendLeavesLotsUntouched(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 0, "2024-01-10"), "b1", "")
	require.NoError(t, err)

	result, err := service.RecordTransaction(txn(types.SideDividend, "AAPL", 100, 0.25, 0, "2024-02-01"), "d1", "")
	require.NoError(t, err)
	assert.Nil(t, result.Lot)
	assert.Empty(t, result.RealizedGains)

	open, err := service.GetOpenLots("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Remaining().Equal(decimal.NewFromInt(100)))
}

func TestQuantityConservation(t *testing.T) {
	service := NewService(newTestDB(t))

	bought := decimal.Zero
	for i, q := range []float64{100, 50, 75} {
		_, err := service.RecordTransaction(
			txn(types.SideBuy, "AAPL", q, 50+float64(i), 0, fmt.Sprintf("2024-01-%02d", i+1)), fmt.Sprintf("b%d", i), "")
		require.NoError(t, err)
		bought = bought.Add(decimal.NewFromFloat(q))
	}

	sold := decimal.Zero
	for i, q := range []float64{30, 120} {
		_, err := service.RecordTransaction(
			txn(types.SideSell, "AAPL", q, 60, 0, fmt.Sprintf("2024-02-%02d", i+1)), fmt.Sprintf("s%d", i), "")
		require.NoError(t, err)
		sold = sold.Add(decimal.NewFromFloat(q))
	}

	// Sum of remaining plus sum of closed equals total bought
	all, err := service.GetDB().GetAccountLots("acct-1", "AAPL")
	require.NoError(t, err)
	remaining, closed := decimal.Zero, decimal.Zero
	for i := range all {
		remaining = remaining.Add(all[i].Remaining())
		closed = closed.Add(all[i].QuantityClosed)
	}
	assert.True(t, remaining.Add(closed).Equal(bought))
	assert.True(t, closed.Equal(sold))

	// Realized gain quantities match closed quantity
	gains, err := service.GetRealizedGains("acct-1", "AAPL")
	require.NoError(t, err)
	gainQty := decimal.Zero
	for i := range gains {
		gainQty = gainQty.Add(gains[i].Quantity)
	}
	assert.True(t, gainQty.Equal(sold))
}

func TestReplayMatchesLiveFold(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)

	_, err := service.RecordTransaction(txn(types.SideBuy, "AAPL", 100, 50, 1, "2024-01-10"), "b1", "")
	require.NoError(t, err)
	_, err = service.RecordTransaction(txn(types.SideBuy, "AAPL", 50, 55, 1, "2024-02-10"), "b2", "")
	require.NoError(t, err)
	_, err = service.RecordTransaction(txn(types.SideSell, "AAPL", 120, 60, 3, "2024-03-01"), "s1", StrategyLIFO)
	require.NoError(t, err)

	type lotState struct {
		remaining string
		basis     string
	}
	capture := func() []lotState {
		all, err := service.GetDB().GetAccountLots("acct-1", "AAPL")
		require.NoError(t, err)
		states := make([]lotState, 0, len(all))
		for i := range all {
			states = append(states, lotState{
				remaining: all[i].Remaining().String(),
				basis:     all[i].CostBasis.String(),
			})
		}
		return states
	}
	live := capture()

	// Wipe derived state and refold the ledger through the same code
	var txns []types.Transaction
	require.NoError(t, db.Where("account_id = ?", "acct-1").Order("id ASC").Find(&txns).Error)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return service.GetDB().DeleteAccountDerivedStateTx(tx, "acct-1")
	}))

	for i := range txns {
		strategy, err := ResolveStrategy(txns[i].Strategy)
		require.NoError(t, err)
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return service.ReplayTransactionTx(tx, &txns[i], strategy)
		}))
	}

	assert.Equal(t, live, capture(), "replayed lot state must match the live fold")
}
