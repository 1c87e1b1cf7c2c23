package lots

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying connection for callers opening a transaction
// spanning the ledger and lot tables.
func (d *Database) DB() *gorm.DB {
	return d.db
}

func (d *Database) CreateLotTx(tx *gorm.DB, lot *Lot) error {
	return tx.Create(lot).Error
}

func (d *Database) SaveLotTx(tx *gorm.DB, lot *Lot) error {
	return tx.Save(lot).Error
}

func (d *Database) CreateGainTx(tx *gorm.DB, gain *RealizedGain) error {
	return tx.Create(gain).Error
}

func (d *Database) GetLot(lotID string) (*Lot, error) {
	var lot Lot
	if err := d.db.Where("lot_id = ?", lotID).First(&lot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lot, nil
}

// GetOpenLotsTx reads the open lots for (account, symbol) inside an
// existing transaction, in creation order. Strategy ordering is applied by
// the caller.
func (d *Database) GetOpenLotsTx(tx *gorm.DB, accountID, symbol string) ([]Lot, error) {
	var candidates []Lot
	if err := tx.
		Where("account_id = ? AND symbol = ? AND quantity_closed < quantity_open", accountID, symbol).
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

func (d *Database) GetOpenLots(accountID, symbol string) ([]Lot, error) {
	return d.GetOpenLotsTx(d.db, accountID, symbol)
}

// GetOpenSymbols returns the distinct symbols with at least one open lot in
// the account.
func (d *Database) GetOpenSymbols(accountID string) ([]string, error) {
	var symbols []string
	if err := d.db.Model(&Lot{}).
		Where("account_id = ? AND quantity_closed < quantity_open", accountID).
		Distinct().
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error; err != nil {
		return nil, err
	}
	return symbols, nil
}

// GetAccountSymbols returns the distinct symbols an account has ever held
// lots in, open or closed.
func (d *Database) GetAccountSymbols(accountID string) ([]string, error) {
	var symbols []string
	if err := d.db.Model(&Lot{}).
		Where("account_id = ?", accountID).
		Distinct().
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error; err != nil {
		return nil, err
	}
	return symbols, nil
}

// GetLotAccounts returns the distinct accounts with lots in a symbol, open
// or closed. Corporate actions fan out over this set.
func (d *Database) GetLotAccounts(symbol string) ([]string, error) {
	var accountIDs []string
	if err := d.db.Model(&Lot{}).
		Where("symbol = ?", symbol).
		Distinct().
		Order("account_id ASC").
		Pluck("account_id", &accountIDs).Error; err != nil {
		return nil, err
	}
	return accountIDs, nil
}

func (d *Database) GetAccountLots(accountID, symbol string) ([]Lot, error) {
	var all []Lot
	if err := d.db.
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Order("id ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	return all, nil
}

func (d *Database) GetRealizedGains(accountID, symbol string) ([]RealizedGain, error) {
	q := d.db.Where("account_id = ?", accountID)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var gains []RealizedGain
	if err := q.Order("id ASC").Find(&gains).Error; err != nil {
		return nil, err
	}
	return gains, nil
}

func (d *Database) GetGainsByTransaction(transactionID string) ([]RealizedGain, error) {
	var gains []RealizedGain
	if err := d.db.
		Where("sell_transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&gains).Error; err != nil {
		return nil, err
	}
	return gains, nil
}

// DeleteAccountDerivedStateTx removes all lots and realized gains for an
// account inside an existing transaction. Used only by rebuild, which
// refolds them from the ledger.
func (d *Database) DeleteAccountDerivedStateTx(tx *gorm.DB, accountID string) error {
	if err := tx.Unscoped().Where("account_id = ?", accountID).Delete(&Lot{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Where("account_id = ?", accountID).Delete(&RealizedGain{}).Error
}
