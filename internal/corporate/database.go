package corporate

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

func (d *Database) CreateAction(action *CorporateAction) error {
	return d.db.Create(action).Error
}

func (d *Database) GetAction(actionID string) (*CorporateAction, error) {
	var action CorporateAction
	if err := d.db.Where("action_id = ?", actionID).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &action, nil
}

func (d *Database) UpdateAction(action *CorporateAction) error {
	return d.db.Save(action).Error
}

// GetActionsForSymbol returns a symbol's actions in ex-date order, ties
// broken by creation order. Application must follow this ordering.
func (d *Database) GetActionsForSymbol(symbol string) ([]CorporateAction, error) {
	var actions []CorporateAction
	if err := d.db.
		Where("symbol = ?", symbol).
		Order("ex_date ASC, id ASC").
		Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// HasEarlierPending reports whether the symbol has an unapplied action with
// an earlier ex-date than the given action.
func (d *Database) HasEarlierPending(action *CorporateAction) (bool, error) {
	var count int64
	if err := d.db.Model(&CorporateAction{}).
		Where("symbol = ? AND status = ? AND ex_date < ?", action.Symbol, StatusPending, action.ExDate).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetLotMutatingActionsThrough returns all split and spinoff actions with
// ex-date at or before asOf, across all symbols, in ex-date order.
// Dividends are excluded: their synthetic transactions are already in the
// ledger and replay through the transaction stream.
func (d *Database) GetLotMutatingActionsThrough(asOf time.Time) ([]CorporateAction, error) {
	var actions []CorporateAction
	if err := d.db.
		Where("action_type IN ? AND ex_date <= ?", []string{ActionSplit, ActionSpinoff}, asOf).
		Order("ex_date ASC, id ASC").
		Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// GetAppliedSplits returns the symbol's applied splits in ex-date order.
// Holding reconstruction uses them to convert quantities recorded at
// different dates into a common share unit.
func (d *Database) GetAppliedSplits(symbol string) ([]CorporateAction, error) {
	var actions []CorporateAction
	if err := d.db.
		Where("symbol = ? AND action_type = ? AND status = ?", symbol, ActionSplit, StatusApplied).
		Order("ex_date ASC, id ASC").
		Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// HasApplication reports whether the (action, lot) pair has already been
// applied.
func (d *Database) HasApplication(actionID, lotID string) (bool, error) {
	var count int64
	if err := d.db.Model(&ActionApplication{}).
		Where("action_id = ? AND lot_id = ?", actionID, lotID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *Database) CreateApplicationTx(tx *gorm.DB, actionID, lotID, accountID string) error {
	application := ActionApplication{
		ActionID:  actionID,
		LotID:     lotID,
		AccountID: accountID,
		AppliedAt: time.Now(),
	}
	return tx.Create(&application).Error
}

// DeleteAccountApplicationsTx removes all application records for an
// account's lots inside an existing transaction. Used only by rebuild.
func (d *Database) DeleteAccountApplicationsTx(tx *gorm.DB, accountID string) error {
	return tx.Unscoped().Where("account_id = ?", accountID).Delete(&ActionApplication{}).Error
}
