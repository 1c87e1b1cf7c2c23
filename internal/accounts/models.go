package accounts

import (
	"time"

	"gorm.io/gorm"
)

// Account is a tenant-scoped container owning all downstream entities.
// Accounts are soft-deactivated, never hard-deleted, while transactions
// reference them.
type Account struct {
	gorm.Model    `json:"-"`
	AccountID     string     `gorm:"uniqueIndex" json:"account_id"`
	OwnerID       string     `gorm:"index" json:"owner_id"`
	Name          string     `json:"name"`
	BaseCurrency  string     `json:"base_currency"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
