package accounts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}))
	return NewService(db)
}

func TestCreateAndAuthorize(t *testing.T) {
	service := newTestService(t)

	account, err := service.CreateAccount("owner-1", "Retirement", "")
	require.NoError(t, err)
	assert.NotEmpty(t, account.AccountID)
	assert.Equal(t, "USD", account.BaseCurrency, "base currency defaults to USD")
	assert.True(t, account.Active)

	resolved, err := service.Authorize(account.AccountID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, account.AccountID, resolved.AccountID)

	// A foreign owner sees not-found, not forbidden: existence is not leaked
	_, err = service.Authorize(account.AccountID, "owner-2")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = service.Authorize("missing", "owner-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeactivation(t *testing.T) {
	service := newTestService(t)

	account, err := service.CreateAccount("owner-1", "Taxable", "EUR")
	require.NoError(t, err)

	deactivated, err := service.DeactivateAccount(account.AccountID, "owner-1")
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
	assert.NotNil(t, deactivated.DeactivatedAt)

	// Mutations are rejected, plain reads still resolve
	_, err = service.AuthorizeActive(account.AccountID, "owner-1")
	assert.ErrorIs(t, err, types.ErrAccountInactive)

	_, err = service.Authorize(account.AccountID, "owner-1")
	assert.NoError(t, err)

	// Deactivation is idempotent
	again, err := service.DeactivateAccount(account.AccountID, "owner-1")
	require.NoError(t, err)
	assert.False(t, again.Active)
}

func TestListAndActiveAccounts(t *testing.T) {
	service := newTestService(t)

	a, err := service.CreateAccount("owner-1", "A", "USD")
	require.NoError(t, err)
	_, err = service.CreateAccount("owner-1", "B", "USD")
	require.NoError(t, err)
	_, err = service.CreateAccount("owner-2", "C", "USD")
	require.NoError(t, err)

	mine, err := service.ListAccounts("owner-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = service.DeactivateAccount(a.AccountID, "owner-1")
	require.NoError(t, err)

	active, err := service.ActiveAccounts()
	require.NoError(t, err)
	assert.Len(t, active, 2, "deactivated accounts drop out of batch fan-out")
}
