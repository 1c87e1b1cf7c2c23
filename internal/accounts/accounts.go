package accounts

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service handles the account/tenant directory. Every account-scoped
// operation in the engine resolves ownership through this service rather
// than trusting a storage-layer policy.
type Service struct {
	db *Database
}

// NewService creates a new accounts service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateAccount creates a new active account owned by ownerID.
func (s *Service) CreateAccount(ownerID, name, baseCurrency string) (*Account, error) {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}

	account := &Account{
		AccountID:    uuid.New().String(),
		OwnerID:      ownerID,
		Name:         name,
		BaseCurrency: baseCurrency,
		Active:       true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "accounts").
		Str("account_id", account.AccountID).
		Str("owner_id", ownerID).
		Msg("account created")

	return account, nil
}

// Authorize resolves an account and verifies the caller owns it. Foreign
// accounts are reported as not found so their existence is not leaked.
func (s *Service) Authorize(accountID, ownerID string) (*Account, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
	}
	if account.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
	}
	return account, nil
}

// AuthorizeActive is Authorize plus a guard that the account still accepts
// mutations. Reads against deactivated accounts remain allowed.
func (s *Service) AuthorizeActive(accountID, ownerID string) (*Account, error) {
	account, err := s.Authorize(accountID, ownerID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, fmt.Errorf("account %s: %w", accountID, types.ErrAccountInactive)
	}
	return account, nil
}

// GetAccount resolves an account without an ownership check, for internal
// jobs that span owners.
func (s *Service) GetAccount(accountID string) (*Account, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
	}
	return account, nil
}

// ListAccounts returns all accounts belonging to an owner.
func (s *Service) ListAccounts(ownerID string) ([]Account, error) {
	return s.db.GetOwnerAccounts(ownerID)
}

// ActiveAccounts returns every active account across all owners, for
// internal batch jobs.
func (s *Service) ActiveAccounts() ([]Account, error) {
	return s.db.GetActiveAccounts()
}

// DeactivateAccount soft-deactivates an account. History stays readable;
// new transactions are rejected.
func (s *Service) DeactivateAccount(accountID, ownerID string) (*Account, error) {
	account, err := s.Authorize(accountID, ownerID)
	if err != nil {
		return nil, err
	}

	if account.Active {
		now := time.Now()
		account.Active = false
		account.DeactivatedAt = &now
		account.UpdatedAt = now
		if err := s.db.UpdateAccount(account); err != nil {
			return nil, err
		}
	}

	return account, nil
}

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for account endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateAccountHandler handles POST requests to open a new account
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}

		var req struct {
			Name         string `json:"name" binding:"required"`
			BaseCurrency string `json:"base_currency"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.CreateAccount(ownerID, req.Name, req.BaseCurrency)
		response.Handle(c, account, err)
	}
}

// ListAccountsHandler handles GET requests for the caller's accounts
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}

		accts, err := h.service.ListAccounts(ownerID)
		response.Handle(c, accts, err)
	}
}

// GetAccountHandler handles GET requests for a single account
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		account, err := h.service.Authorize(accountID, ownerID)
		response.Handle(c, account, err)
	}
}

// DeactivateAccountHandler handles POST requests to soft-deactivate an account
func (h *GinHandlers) DeactivateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		account, err := h.service.DeactivateAccount(accountID, ownerID)
		response.Handle(c, account, err)
	}
}
