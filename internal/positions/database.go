package positions

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

func (d *Database) GetPosition(accountID, symbol string) (*Position, error) {
	var position Position
	if err := d.db.Where("account_id = ? AND symbol = ?", accountID, symbol).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) GetAccountPositions(accountID string) ([]Position, error) {
	var all []Position
	if err := d.db.Where("account_id = ?", accountID).Order("symbol ASC").Find(&all).Error; err != nil {
		return nil, err
	}
	return all, nil
}

// UpsertPosition overwrites the cached row for (account, symbol) with the
// freshly recomputed values.
func (d *Database) UpsertPosition(position *Position) error {
	existing, err := d.GetPosition(position.AccountID, position.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		position.ID = existing.ID
		position.CreatedAt = existing.CreatedAt
	}
	return d.db.Save(position).Error
}
