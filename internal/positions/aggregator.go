package positions

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/accounts"
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/pricing"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service derives cached positions from open lots and the price resolver.
type Service struct {
	db      *Database
	lots    *lots.Service
	pricing *pricing.Service
}

// NewService creates a new position aggregator backed by the lot engine and
// price resolver
func NewService(gormDB *gorm.DB, lotsService *lots.Service, pricingService *pricing.Service) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		lots:    lotsService,
		pricing: pricingService,
	}
}

// Recompute rebuilds the position for (account, symbol) from open lots and
// the current price, and overwrites the cache with the result.
func (s *Service) Recompute(accountID, symbol string) (*Position, error) {
	open, err := s.lots.GetOpenLots(accountID, symbol)
	if err != nil {
		return nil, err
	}

	quantity := decimal.Zero
	remainingBasis := decimal.Zero
	currency := ""
	for i := range open {
		quantity = quantity.Add(open[i].Remaining())
		remainingBasis = remainingBasis.Add(open[i].RemainingCostBasis())
		if currency == "" {
			currency = open[i].Currency
		}
	}

	position := &Position{
		AccountID:   accountID,
		Symbol:      symbol,
		Quantity:    quantity,
		CostBasis:   remainingBasis,
		Currency:    currency,
		LastUpdated: time.Now(),
	}

	if quantity.IsPositive() {
		position.AverageCost = remainingBasis.Div(quantity)

		quote, err := s.pricing.PriceAt(symbol, time.Now())
		if err != nil {
			return nil, err
		}
		position.MarketValue = quantity.Mul(quote.Price)
		position.UnrealizedGain = position.MarketValue.Sub(remainingBasis)
		position.PriceStale = quote.Stale
		if position.Currency == "" {
			position.Currency = quote.Currency
		}
	} else {
		position.AverageCost = decimal.Zero
		position.MarketValue = decimal.Zero
		position.UnrealizedGain = decimal.Zero
	}

	if err := s.db.UpsertPosition(position); err != nil {
		return nil, err
	}

	log.Debug().
		Str("service", "positions").
		Str("account_id", accountID).
		Str("symbol", symbol).
		Str("quantity", position.Quantity.String()).
		Str("market_value", position.MarketValue.String()).
		Bool("price_stale", position.PriceStale).
		Msg("position recomputed")

	return position, nil
}

// GetPosition returns the position for (account, symbol), recomputing on a
// cache miss. The cache is a read accelerator only; callers needing
// authoritative numbers use Recompute directly.
func (s *Service) GetPosition(accountID, symbol string) (*Position, error) {
	position, err := s.db.GetPosition(accountID, symbol)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return s.Recompute(accountID, symbol)
	}
	return position, nil
}

// RecomputeAll recomputes every symbol with open lots in the account and
// returns the refreshed positions.
func (s *Service) RecomputeAll(accountID string) ([]Position, error) {
	symbols, err := s.lots.GetDB().GetOpenSymbols(accountID)
	if err != nil {
		return nil, err
	}

	refreshed := make([]Position, 0, len(symbols))
	for _, symbol := range symbols {
		position, err := s.Recompute(accountID, symbol)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, *position)
	}
	return refreshed, nil
}

// GinHandlers contains HTTP handlers for position endpoints
type GinHandlers struct {
	service  *Service
	accounts *accounts.Service
}

// NewGinHandlers creates a new set of HTTP handlers for position endpoints
func NewGinHandlers(service *Service, accountsService *accounts.Service) *GinHandlers {
	return &GinHandlers{
		service:  service,
		accounts: accountsService,
	}
}

// GetPositionHandler handles GET requests for one position
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")
		symbol := c.Param("symbol")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		position, err := h.service.GetPosition(accountID, symbol)
		response.Handle(c, position, err)
	}
}

// ListPositionsHandler handles GET requests for all of an account's
// positions, freshly recomputed
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		accountID := c.Param("account_id")

		if _, err := h.accounts.Authorize(accountID, ownerID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		refreshed, err := h.service.RecomputeAll(accountID)
		response.Handle(c, refreshed, err)
	}
}
