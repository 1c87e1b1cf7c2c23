package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

const defaultStreamLimit = 200

// Service is the append-only transaction ledger, the engine's single
// source of truth. Transactions are never updated or deleted; corrections
// are new, opposite-side transactions.
type Service struct {
	db *Database
}

// NewService creates a new ledger service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetDB returns the package database for callers that compose ledger writes
// into a larger transaction.
func (s *Service) GetDB() *Database {
	return s.db
}

// Validate rejects malformed transactions before anything is persisted.
func Validate(txn *types.Transaction) error {
	switch txn.Side {
	case types.SideBuy, types.SideSell, types.SideDividend:
	default:
		return fmt.Errorf("%w: unknown side %q", types.ErrValidation, txn.Side)
	}
	if txn.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", types.ErrValidation)
	}
	if !txn.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", types.ErrValidation, txn.Quantity)
	}
	if txn.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative, got %s", types.ErrValidation, txn.Price)
	}
	if txn.Fee.IsNegative() {
		return fmt.Errorf("%w: fee must not be negative, got %s", types.ErrValidation, txn.Fee)
	}
	if txn.TradeDate.IsZero() {
		return fmt.Errorf("%w: trade date is required", types.ErrValidation)
	}
	return nil
}

// Append validates and persists a transaction. When idempotencyKey has been
// seen before, the previously stored transaction is returned and the
// duplicate submission is treated as success, not failure.
func (s *Service) Append(txn *types.Transaction, idempotencyKey string) (*types.Transaction, error) {
	if err := Validate(txn); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			return nil, err
		}
		if record != nil {
			existing, err := s.db.GetTransaction(record.TransactionID)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, fmt.Errorf("idempotency record %s: %w", idempotencyKey, types.ErrNotFound)
			}
			log.Debug().
				Str("service", "ledger").
				Str("idempotency_key", idempotencyKey).
				Str("transaction_id", existing.TransactionID).
				Msg("duplicate submission, returning original transaction")
			return existing, nil
		}
	}

	txn.TransactionID = uuid.New().String()
	txn.CreatedAt = time.Now()

	if err := s.db.CreateTransactionWithIdempotency(txn, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "ledger").
		Str("transaction_id", txn.TransactionID).
		Str("account_id", txn.AccountID).
		Str("symbol", txn.Symbol).
		Str("side", txn.Side).
		Str("quantity", txn.Quantity.String()).
		Str("price", txn.Price.String()).
		Msg("transaction appended")

	return txn, nil
}

// StreamSince produces one page of the account's transaction stream
// starting after cursor. The page's NextCursor restarts the stream exactly
// where it left off.
func (s *Service) StreamSince(accountID string, cursor uint64, limit int) (*StreamPage, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultStreamLimit
	}

	txns, err := s.db.GetTransactionsSince(accountID, cursor, limit)
	if err != nil {
		return nil, err
	}

	next := cursor
	if len(txns) > 0 {
		next = txns[len(txns)-1].Cursor()
	}

	return &StreamPage{
		Transactions: txns,
		NextCursor:   next,
	}, nil
}

// CashBalance folds the account's transactions through asOf into the
// uninvested cash balance: buys consume cash, sells and dividends add it.
func (s *Service) CashBalance(accountID string, asOf time.Time) (decimal.Decimal, error) {
	txns, err := s.db.GetTransactionsThrough(accountID, asOf)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for i := range txns {
		balance = balance.Add(txns[i].CashDelta())
	}
	return balance, nil
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
	// authorize resolves account ownership before any account-scoped read
	authorize func(accountID, ownerID string) error
}

// NewGinHandlers creates a new set of HTTP handlers for ledger endpoints
func NewGinHandlers(service *Service, authorize func(accountID, ownerID string) error) *GinHandlers {
	return &GinHandlers{
		service:   service,
		authorize: authorize,
	}
}

// StreamTransactionsHandler handles GET requests for a page of the
// account's transaction stream.
// Query parameters: cursor (default 0), limit (default 200)
func (h *GinHandlers) StreamTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		ownerID := c.GetString("clientID")

		if err := h.authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		cursor, err := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid cursor")
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}

		page, err := h.service.StreamSince(accountID, cursor, limit)
		response.Handle(c, page, err)
	}
}
