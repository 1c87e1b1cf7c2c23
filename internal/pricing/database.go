package pricing

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreatePricePoint(point *PricePoint) error {
	return d.db.Create(point).Error
}

func (d *Database) CreateFxRate(fxRate *FxRate) error {
	return d.db.Create(fxRate).Error
}

// GetLatestPriceAt returns the latest price for a symbol at or before asOf.
// Returns nil when no such observation exists.
func (d *Database) GetLatestPriceAt(symbol string, asOf time.Time) (*PricePoint, error) {
	var point PricePoint
	if err := d.db.
		Where("symbol = ? AND timestamp <= ?", symbol, asOf).
		Order("timestamp DESC").
		First(&point).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &point, nil
}

// GetLatestFxRateAt returns the latest rate for a currency pair at or
// before asOf. Returns nil when no such observation exists.
func (d *Database) GetLatestFxRateAt(base, quote string, asOf time.Time) (*FxRate, error) {
	var fxRate FxRate
	if err := d.db.
		Where("base_currency = ? AND quote_currency = ? AND timestamp <= ?", base, quote, asOf).
		Order("timestamp DESC").
		First(&fxRate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fxRate, nil
}
