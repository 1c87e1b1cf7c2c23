package snapshot

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

func (d *Database) CreateSnapshot(snapshot *PortfolioSnapshot) error {
	return d.db.Create(snapshot).Error
}

func (d *Database) SaveSnapshot(snapshot *PortfolioSnapshot) error {
	return d.db.Save(snapshot).Error
}

// GetSnapshot returns the snapshot for (account, date), or nil when none
// exists. Dates are normalized to UTC midnight before storage, so exact
// match is sufficient.
func (d *Database) GetSnapshot(accountID string, date time.Time) (*PortfolioSnapshot, error) {
	var snapshot PortfolioSnapshot
	if err := d.db.
		Where("account_id = ? AND snapshot_date = ?", accountID, date).
		First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// GetCommittedSnapshot returns the committed snapshot for (account, date)
// if one exists.
func (d *Database) GetCommittedSnapshot(accountID string, date time.Time) (*PortfolioSnapshot, error) {
	var snapshot PortfolioSnapshot
	if err := d.db.
		Where("account_id = ? AND snapshot_date = ? AND status = ?", accountID, date, StatusCommitted).
		First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// GetUncommittedSnapshots returns every snapshot still short of COMMITTED,
// oldest dates first, for the retry loop.
func (d *Database) GetUncommittedSnapshots() ([]PortfolioSnapshot, error) {
	var snapshots []PortfolioSnapshot
	if err := d.db.
		Where("status IN ?", []string{StatusPending, StatusComputing, StatusFailed}).
		Order("snapshot_date ASC, id ASC").
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetAccountSnapshots returns an account's snapshots, most recent first.
func (d *Database) GetAccountSnapshots(accountID string, limit int) ([]PortfolioSnapshot, error) {
	var snapshots []PortfolioSnapshot
	if err := d.db.
		Where("account_id = ?", accountID).
		Order("snapshot_date DESC").
		Limit(limit).
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
