package pricing

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

func newTestService(t *testing.T, window time.Duration) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&PricePoint{}, &FxRate{}))
	return NewService(db, window)
}

func ts(value string) time.Time {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPriceAtPicksLatestAtOrBefore(t *testing.T) {
	service := newTestService(t, 72*time.Hour)

	for _, obs := range []struct {
		price float64
		ts    string
	}{
		{100, "2024-03-01"},
		{105, "2024-03-05"},
		{110, "2024-03-10"},
	} {
		_, err := service.AddPrice("AAPL", decimal.NewFromFloat(obs.price), "USD", ts(obs.ts))
		require.NoError(t, err)
	}

	quote, err := service.PriceAt("AAPL", ts("2024-03-07"))
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(105)), "got %s", quote.Price)
	assert.False(t, quote.Stale)

	// Exact timestamp match counts as at-or-before
	quote, err = service.PriceAt("AAPL", ts("2024-03-05"))
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(105)))

	// Nothing observed yet at the asked date
	_, err = service.PriceAt("AAPL", ts("2024-02-01"))
	assert.ErrorIs(t, err, types.ErrNoPrice)

	// Unknown symbol has no series at all
	_, err = service.PriceAt("ZZZZ", ts("2024-03-07"))
	assert.ErrorIs(t, err, types.ErrNoPrice)
}

func TestPriceStaleness(t *testing.T) {
	service := newTestService(t, 72*time.Hour)

	_, err := service.AddPrice("AAPL", decimal.NewFromInt(100), "USD", ts("2024-03-01"))
	require.NoError(t, err)

	// Within the window: fresh
	quote, err := service.PriceAt("AAPL", ts("2024-03-03"))
	require.NoError(t, err)
	assert.False(t, quote.Stale)

	// Outside the window: still served, flagged stale
	quote, err = service.PriceAt("AAPL", ts("2024-03-20"))
	require.NoError(t, err)
	assert.True(t, quote.Stale)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(100)))
}

func TestConvert(t *testing.T) {
	service := newTestService(t, 72*time.Hour)

	_, err := service.AddFxRate("EUR", "USD", decimal.NewFromFloat(1.25), ts("2024-03-01"))
	require.NoError(t, err)

	t.Run("same currency is identity", func(t *testing.T) {
		conversion, err := service.Convert(decimal.NewFromInt(500), "USD", "USD", ts("2024-03-02"))
		require.NoError(t, err)
		assert.True(t, conversion.Amount.Equal(decimal.NewFromInt(500)))
		assert.True(t, conversion.Rate.Equal(decimal.NewFromInt(1)))
	})

	t.Run("direct pair", func(t *testing.T) {
		conversion, err := service.Convert(decimal.NewFromInt(100), "EUR", "USD", ts("2024-03-02"))
		require.NoError(t, err)
		assert.True(t, conversion.Amount.Equal(decimal.NewFromInt(125)), "got %s", conversion.Amount)
	})

	t.Run("inverse pair fallback", func(t *testing.T) {
		// Only EUR/USD is quoted; USD->EUR uses the reciprocal
		conversion, err := service.Convert(decimal.NewFromInt(125), "USD", "EUR", ts("2024-03-02"))
		require.NoError(t, err)
		assert.True(t, conversion.Amount.Equal(decimal.NewFromInt(100)), "got %s", conversion.Amount)
	})

	t.Run("unquoted pair fails", func(t *testing.T) {
		_, err := service.Convert(decimal.NewFromInt(100), "GBP", "JPY", ts("2024-03-02"))
		assert.ErrorIs(t, err, types.ErrNoPrice)
	})

	t.Run("old rate propagates staleness", func(t *testing.T) {
		conversion, err := service.Convert(decimal.NewFromInt(100), "EUR", "USD", ts("2024-04-01"))
		require.NoError(t, err)
		assert.True(t, conversion.Stale)
	})
}

func TestIngestionValidation(t *testing.T) {
	service := newTestService(t, 72*time.Hour)

	_, err := service.AddPrice("", decimal.NewFromInt(100), "USD", ts("2024-03-01"))
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = service.AddPrice("AAPL", decimal.NewFromInt(-1), "USD", ts("2024-03-01"))
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = service.AddFxRate("EUR", "", decimal.NewFromInt(1), ts("2024-03-01"))
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = service.AddFxRate("EUR", "USD", decimal.Zero, ts("2024-03-01"))
	assert.ErrorIs(t, err, types.ErrValidation)
}
