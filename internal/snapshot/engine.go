package snapshot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/accounts"
	"github.com/tallyr/holdings-api/internal/corporate"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/pricing"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service materializes end-of-day portfolio valuations. A snapshot values
// the account's open lots at prices as of the snapshot date, converts each
// symbol into the account's base currency, and adds the cash balance folded
// from the ledger. Computation runs under the account lock so a snapshot
// never observes a half-applied trade or corporate action.
type Service struct {
	db        *Database
	accounts  *accounts.Service
	lots      *lots.Service
	ledger    *ledger.Service
	pricing   *pricing.Service
	corporate *corporate.Service
}

// NewService creates a new snapshot engine over the shared stores
func NewService(gormDB *gorm.DB, accountsService *accounts.Service, lotsService *lots.Service, ledgerService *ledger.Service, pricingService *pricing.Service, corporateService *corporate.Service) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		accounts:  accountsService,
		lots:      lotsService,
		ledger:    ledgerService,
		pricing:   pricingService,
		corporate: corporateService,
	}
}

// SnapshotDate normalizes a timestamp to its UTC calendar date.
func SnapshotDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Compute computes (or recomputes) the snapshot for one account and date.
// Recomputation replaces the stored values wholesale. A missing price or FX
// rate marks the snapshot FAILED and returns the error; the background
// processor retries failed snapshots until the inputs arrive.
func (s *Service) Compute(accountID string, date time.Time) (*PortfolioSnapshot, error) {
	date = SnapshotDate(date)
	if date.After(SnapshotDate(time.Now())) {
		return nil, fmt.Errorf("%w: snapshot date %s is in the future", types.ErrValidation, date.Format("2006-01-02"))
	}

	account, err := s.accounts.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.db.GetSnapshot(accountID, date)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		snapshot = &PortfolioSnapshot{
			SnapshotID:   uuid.New().String(),
			AccountID:    accountID,
			SnapshotDate: date,
			BaseCurrency: account.BaseCurrency,
			Status:       StatusPending,
			CreatedAt:    time.Now(),
		}
		if err := s.db.CreateSnapshot(snapshot); err != nil {
			return nil, err
		}
	}

	snapshot.Status = StatusComputing
	snapshot.FailureReason = ""
	snapshot.UpdatedAt = time.Now()
	if err := s.db.SaveSnapshot(snapshot); err != nil {
		return nil, err
	}

	// Value as of end of the snapshot day, so same-day trades and prices
	// are included.
	asOf := date.AddDate(0, 0, 1).Add(-time.Second)

	var positionsValue, cashValue decimal.Decimal
	var anyStale bool
	err = s.lots.WithAccountLock(accountID, func() error {
		var err error
		positionsValue, anyStale, err = s.valueHoldings(accountID, account.BaseCurrency, asOf)
		if err != nil {
			return err
		}
		cashValue, err = s.ledger.CashBalance(accountID, asOf)
		return err
	})
	if err != nil {
		snapshot.Status = StatusFailed
		snapshot.FailureReason = err.Error()
		snapshot.UpdatedAt = time.Now()
		if saveErr := s.db.SaveSnapshot(snapshot); saveErr != nil {
			return nil, saveErr
		}
		log.Warn().
			Str("service", "snapshot").
			Str("account_id", accountID).
			Str("snapshot_date", date.Format("2006-01-02")).
			Err(err).
			Msg("snapshot failed, will retry")
		return nil, err
	}

	now := time.Now()
	snapshot.CashValue = cashValue
	snapshot.PositionsValue = positionsValue
	snapshot.TotalValue = cashValue.Add(positionsValue)
	snapshot.PriceStale = anyStale
	snapshot.DailyReturn = nil
	snapshot.Status = StatusCommitted
	snapshot.ComputedAt = &now
	snapshot.UpdatedAt = now

	prior, err := s.db.GetCommittedSnapshot(accountID, date.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if prior != nil && !prior.TotalValue.IsZero() {
		ret := snapshot.TotalValue.Div(prior.TotalValue).Sub(decimal.NewFromInt(1))
		snapshot.DailyReturn = &ret
	}

	if err := s.db.SaveSnapshot(snapshot); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "snapshot").
		Str("account_id", accountID).
		Str("snapshot_date", date.Format("2006-01-02")).
		Str("total_value", snapshot.TotalValue.String()).
		Bool("price_stale", anyStale).
		Msg("snapshot committed")

	return snapshot, nil
}

// valueHoldings sums the market value of every symbol the account held at
// asOf, converted into the base currency at asOf. Holdings are
// reconstructed as of asOf rather than read from the currently open lots:
// a snapshot retried for a past date must not value trades made since, or
// it would disagree with the cash balance folded through the same instant.
func (s *Service) valueHoldings(accountID, baseCurrency string, asOf time.Time) (decimal.Decimal, bool, error) {
	symbols, err := s.lots.GetDB().GetAccountSymbols(accountID)
	if err != nil {
		return decimal.Zero, false, err
	}

	total := decimal.Zero
	anyStale := false
	for _, symbol := range symbols {
		quantity, _, err := s.corporate.HoldingAt(accountID, symbol, asOf)
		if err != nil {
			return decimal.Zero, false, err
		}
		if !quantity.IsPositive() {
			continue
		}

		quote, err := s.pricing.PriceAt(symbol, asOf)
		if err != nil {
			return decimal.Zero, false, err
		}
		value := quantity.Mul(quote.Price)
		anyStale = anyStale || quote.Stale

		conversion, err := s.pricing.Convert(value, quote.Currency, baseCurrency, asOf)
		if err != nil {
			return decimal.Zero, false, err
		}
		anyStale = anyStale || conversion.Stale
		total = total.Add(conversion.Amount)
	}

	return total, anyStale, nil
}

// GetSnapshot returns the stored snapshot for (account, date), or not
// found when none exists yet.
func (s *Service) GetSnapshot(accountID string, date time.Time) (*PortfolioSnapshot, error) {
	snapshot, err := s.db.GetSnapshot(accountID, SnapshotDate(date))
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", accountID, SnapshotDate(date).Format("2006-01-02"), types.ErrNotFound)
	}
	return snapshot, nil
}

// ListSnapshots returns an account's snapshot history, most recent first.
func (s *Service) ListSnapshots(accountID string, limit int) ([]PortfolioSnapshot, error) {
	if limit <= 0 || limit > 365 {
		limit = 90
	}
	return s.db.GetAccountSnapshots(accountID, limit)
}

// GinHandlers contains HTTP handlers for snapshot endpoints
type GinHandlers struct {
	service  *Service
	accounts *accounts.Service
}

// NewGinHandlers creates a new set of HTTP handlers for snapshot endpoints
func NewGinHandlers(service *Service, accountsService *accounts.Service) *GinHandlers {
	return &GinHandlers{
		service:  service,
		accounts: accountsService,
	}
}

// GetSnapshotHandler handles GET requests for one day's snapshot
// URL parameter: date (YYYY-MM-DD)
func (h *GinHandlers) GetSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		date, err := time.Parse("2006-01-02", c.Param("date"))
		if err != nil {
			response.BadRequest(c, "invalid date, expected YYYY-MM-DD")
			return
		}

		snapshot, err := h.service.GetSnapshot(accountID, date)
		response.Handle(c, snapshot, err)
	}
}

// ListSnapshotsHandler handles GET requests for an account's snapshot
// history. Query parameter: limit (default 90, max 365)
func (h *GinHandlers) ListSnapshotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		limit := 0
		if v := c.Query("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		snapshots, err := h.service.ListSnapshots(accountID, limit)
		response.Handle(c, snapshots, err)
	}
}

// ComputeSnapshotHandler handles internal POST requests to compute or
// recompute a snapshot. Body: {"date": "YYYY-MM-DD"}, default today.
func (h *GinHandlers) ComputeSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		var req struct {
			Date string `json:"date"`
		}
		_ = c.ShouldBindJSON(&req)

		date := time.Now()
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				response.BadRequest(c, "invalid date, expected YYYY-MM-DD")
				return
			}
			date = parsed
		}

		snapshot, err := h.service.Compute(accountID, date)
		response.Handle(c, snapshot, err)
	}
}
