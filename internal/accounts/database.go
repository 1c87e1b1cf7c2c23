package accounts

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

func (d *Database) CreateAccount(account *Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountID string) (*Account, error) {
	var account Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetOwnerAccounts(ownerID string) ([]Account, error) {
	var accts []Account
	if err := d.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&accts).Error; err != nil {
		return nil, err
	}
	return accts, nil
}

func (d *Database) UpdateAccount(account *Account) error {
	return d.db.Save(account).Error
}

// GetActiveAccounts returns all accounts still accepting activity, for
// batch jobs that fan out across tenants.
func (d *Database) GetActiveAccounts() ([]Account, error) {
	var accts []Account
	if err := d.db.Where("active = ?", true).Order("account_id ASC").Find(&accts).Error; err != nil {
		return nil, err
	}
	return accts, nil
}
