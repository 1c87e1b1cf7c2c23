package lots

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/accounts"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service is the lot matching engine. It is the single writer for lot state:
// every mutation runs under the owning account's lock and inside one gorm
// transaction with its ledger append, so two overlapping sells can never
// both pass the open-quantity check and jointly oversell.
type Service struct {
	db       *Database
	ledgerDB *ledger.Database

	mu           sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// NewService creates a new lot matching engine with the given database
// connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		ledgerDB:     ledger.NewDatabase(gormDB),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// GetDB returns the package database for collaborating services.
func (s *Service) GetDB() *Database {
	return s.db
}

func (s *Service) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.accountLocks[accountID]
	if !exists {
		l = &sync.Mutex{}
		s.accountLocks[accountID] = l
	}
	return l
}

// WithAccountLock runs fn while holding the account's exclusive lot-mutation
// lock. Snapshot computation and corporate-action application use this to
// serialize against in-flight trades on the same account.
func (s *Service) WithAccountLock(accountID string, fn func() error) error {
	l := s.lockFor(accountID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// RecordTransaction validates, appends, and lot-matches one transaction
// atomically. A previously seen idempotency key returns the original
// transaction as success without re-matching. Buys open exactly one lot;
// sells close open lots in strategy order; dividends are pure cash events.
func (s *Service) RecordTransaction(txn *types.Transaction, idempotencyKey, strategyName string) (*TradeResult, error) {
	if err := ledger.Validate(txn); err != nil {
		return nil, err
	}

	strategy, err := ResolveStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "lots").
		Str("account_id", txn.AccountID).
		Str("symbol", txn.Symbol).
		Str("side", txn.Side).
		Str("quantity", txn.Quantity.String()).
		Logger()

	var result *TradeResult
	err = s.WithAccountLock(txn.AccountID, func() error {
		// Duplicate submissions are success: return the stored outcome
		if idempotencyKey != "" {
			record, err := s.ledgerDB.GetIdempotencyRecord(idempotencyKey)
			if err != nil {
				return err
			}
			if record != nil {
				existing, err := s.ledgerDB.GetTransaction(record.TransactionID)
				if err != nil {
					return err
				}
				if existing == nil {
					return fmt.Errorf("idempotency record %s: %w", idempotencyKey, types.ErrNotFound)
				}
				gains, err := s.db.GetGainsByTransaction(existing.TransactionID)
				if err != nil {
					return err
				}
				logger.Debug().
					Str("idempotency_key", idempotencyKey).
					Str("transaction_id", existing.TransactionID).
					Msg("duplicate submission, returning original result")
				result = &TradeResult{
					Transaction:   existing,
					RealizedGains: gains,
					TotalGain:     sumGains(gains),
					Duplicate:     true,
				}
				return nil
			}
		}

		txn.TransactionID = uuid.New().String()
		txn.CreatedAt = time.Now()
		if txn.Side == types.SideSell {
			// Persist the strategy so a rebuild can refold this sell
			// identically
			txn.Strategy = strategy.Name()
		}

		result = &TradeResult{Transaction: txn, TotalGain: decimal.Zero}

		return s.db.DB().Transaction(func(tx *gorm.DB) error {
			if err := s.ledgerDB.CreateTransactionTx(tx, txn); err != nil {
				return err
			}
			if idempotencyKey != "" {
				if err := s.ledgerDB.CreateIdempotencyRecordTx(tx, idempotencyKey, txn.TransactionID); err != nil {
					return err
				}
			}

			switch txn.Side {
			case types.SideBuy:
				lot, err := s.applyBuyTx(tx, txn)
				if err != nil {
					return err
				}
				result.Lot = lot
			case types.SideSell:
				gains, err := s.applySellTx(tx, txn, strategy)
				if err != nil {
					return err
				}
				result.RealizedGains = gains
				result.TotalGain = sumGains(gains)
			case types.SideDividend:
				// Cash event only; lots are untouched
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		logger.Info().
			Str("transaction_id", result.Transaction.TransactionID).
			Str("total_gain", result.TotalGain.String()).
			Int("closures", len(result.RealizedGains)).
			Msg("transaction recorded")
	}

	return result, nil
}

// applyBuyTx opens exactly one new lot for the buy: full quantity open,
// cost basis quantity*price+fee, dated at the trade date.
func (s *Service) applyBuyTx(tx *gorm.DB, txn *types.Transaction) (*Lot, error) {
	lot := &Lot{
		LotID:          uuid.New().String(),
		AccountID:      txn.AccountID,
		Symbol:         txn.Symbol,
		TransactionID:  txn.TransactionID,
		QuantityOpen:   txn.Quantity,
		QuantityClosed: decimal.Zero,
		CostBasis:      txn.GrossAmount().Add(txn.Fee),
		Currency:       txn.Currency,
		OpenDate:       txn.TradeDate,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.CreateLotTx(tx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

// applySellTx closes open lots in strategy order. The oversell guard runs
// against the same transactional read the closures use, so a failure
// commits nothing.
func (s *Service) applySellTx(tx *gorm.DB, txn *types.Transaction, strategy Strategy) ([]RealizedGain, error) {
	candidates, err := s.db.GetOpenLotsTx(tx, txn.AccountID, txn.Symbol)
	if err != nil {
		return nil, err
	}

	totalOpen := decimal.Zero
	for i := range candidates {
		totalOpen = totalOpen.Add(candidates[i].Remaining())
	}
	if totalOpen.LessThan(txn.Quantity) {
		return nil, fmt.Errorf("%w: selling %s %s but only %s open",
			types.ErrInsufficientLots, txn.Quantity, txn.Symbol, totalOpen)
	}

	strategy.Order(candidates)

	remaining := txn.Quantity
	var gains []RealizedGain
	for i := range candidates {
		if remaining.IsZero() {
			break
		}
		lot := &candidates[i]

		allocated := decimal.Min(remaining, lot.Remaining())
		if allocated.IsZero() {
			continue
		}

		costClosed := lot.CostBasis.Mul(allocated).Div(lot.QuantityOpen)
		feeShare := txn.Fee.Mul(allocated).Div(txn.Quantity)
		proceeds := allocated.Mul(txn.Price)

		gain := RealizedGain{
			GainID:            uuid.New().String(),
			AccountID:         txn.AccountID,
			Symbol:            txn.Symbol,
			LotID:             lot.LotID,
			SellTransactionID: txn.TransactionID,
			Quantity:          allocated,
			Proceeds:          proceeds,
			CostBasis:         costClosed,
			FeeShare:          feeShare,
			Gain:              proceeds.Sub(costClosed).Sub(feeShare),
			RealizedAt:        txn.TradeDate,
			CreatedAt:         time.Now(),
		}

		lot.QuantityClosed = lot.QuantityClosed.Add(allocated)
		lot.UpdatedAt = time.Now()
		if !lot.IsOpen() {
			closeDate := txn.TradeDate
			lot.CloseDate = &closeDate
		}

		if err := s.db.SaveLotTx(tx, lot); err != nil {
			return nil, err
		}
		if err := s.db.CreateGainTx(tx, &gain); err != nil {
			return nil, err
		}

		gains = append(gains, gain)
		remaining = remaining.Sub(allocated)
	}

	return gains, nil
}

// ReplayTransactionTx re-applies a ledger transaction's lot effects inside
// an existing gorm transaction, without appending anything to the ledger.
// Rebuild refolds the ledger through this so the replayed state goes through
// exactly the code the live path uses.
func (s *Service) ReplayTransactionTx(tx *gorm.DB, txn *types.Transaction, strategy Strategy) error {
	switch txn.Side {
	case types.SideBuy:
		_, err := s.applyBuyTx(tx, txn)
		return err
	case types.SideSell:
		_, err := s.applySellTx(tx, txn, strategy)
		return err
	}
	return nil
}

// GetOpenLots returns the account's open lots for an instrument, oldest
// first.
func (s *Service) GetOpenLots(accountID, symbol string) ([]Lot, error) {
	open, err := s.db.GetOpenLots(accountID, symbol)
	if err != nil {
		return nil, err
	}
	fifoStrategy{}.Order(open)
	return open, nil
}

// GetRealizedGains returns the account's realized gains, optionally
// filtered by symbol.
func (s *Service) GetRealizedGains(accountID, symbol string) ([]RealizedGain, error) {
	return s.db.GetRealizedGains(accountID, symbol)
}

func sumGains(gains []RealizedGain) decimal.Decimal {
	total := decimal.Zero
	for i := range gains {
		total = total.Add(gains[i].Gain)
	}
	return total
}

// GinHandlers contains HTTP handlers for trade recording and lot reporting
type GinHandlers struct {
	service  *Service
	accounts *accounts.Service
}

// NewGinHandlers creates a new set of HTTP handlers for lot endpoints
func NewGinHandlers(service *Service, accountsService *accounts.Service) *GinHandlers {
	return &GinHandlers{
		service:  service,
		accounts: accountsService,
	}
}

type recordTransactionRequest struct {
	Symbol         string          `json:"symbol" binding:"required"`
	Side           string          `json:"side" binding:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	Currency       string          `json:"currency"`
	TradeDate      string          `json:"trade_date" binding:"required"`
	SettlementDate string          `json:"settlement_date"`
	Strategy       string          `json:"strategy"`
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// RecordTransactionHandler handles POST requests to record trades
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) RecordTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		account, err := h.accounts.AuthorizeActive(accountID, ownerID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		var req recordTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		tradeDate, err := parseDate(req.TradeDate)
		if err != nil {
			response.BadRequest(c, "invalid trade_date")
			return
		}

		currency := req.Currency
		if currency == "" {
			currency = account.BaseCurrency
		}

		txn := &types.Transaction{
			AccountID: accountID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Quantity:  req.Quantity,
			Price:     req.Price,
			Fee:       req.Fee,
			Currency:  currency,
			TradeDate: tradeDate,
		}
		if req.SettlementDate != "" {
			settlement, err := parseDate(req.SettlementDate)
			if err != nil {
				response.BadRequest(c, "invalid settlement_date")
				return
			}
			txn.SettlementDate = &settlement
		}

		result, err := h.service.RecordTransaction(txn, idempotencyKey, req.Strategy)
		response.Handle(c, result, err)
	}
}

// GetOpenLotsHandler handles GET requests for an account's open lots
func (h *GinHandlers) GetOpenLotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")
		symbol := c.Param("symbol")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		open, err := h.service.GetOpenLots(accountID, symbol)
		response.Handle(c, open, err)
	}
}

// GetRealizedGainsHandler handles GET requests for an account's realized
// gains
// Query parameter: symbol (optional filter)
func (h *GinHandlers) GetRealizedGainsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		gains, err := h.service.GetRealizedGains(accountID, c.Query("symbol"))
		response.Handle(c, gains, err)
	}
}
