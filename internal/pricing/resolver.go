package pricing

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service resolves valuation prices and FX rates. Lookups are pure reads
// and safe to run concurrently. Valuation degrades gracefully: a price
// older than the staleness window is still returned, flagged stale, rather
// than blocking valuation entirely.
type Service struct {
	db              *Database
	stalenessWindow time.Duration
}

// NewService creates a new price resolver with the given database
// connection and staleness window
func NewService(gormDB *gorm.DB, stalenessWindow time.Duration) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		stalenessWindow: stalenessWindow,
	}
}

// PriceAt returns the latest price for a symbol at or before asOf. The
// quote is marked stale when the observation is older than the staleness
// window. No observation at all is an error: there is nothing to value
// with.
func (s *Service) PriceAt(symbol string, asOf time.Time) (*Quote, error) {
	point, err := s.db.GetLatestPriceAt(symbol, asOf)
	if err != nil {
		return nil, err
	}
	if point == nil {
		return nil, fmt.Errorf("%w: %s as of %s", types.ErrNoPrice, symbol, asOf.Format("2006-01-02"))
	}

	quote := &Quote{
		Symbol:    symbol,
		Price:     point.Price,
		Currency:  point.Currency,
		Timestamp: point.Timestamp,
		Stale:     asOf.Sub(point.Timestamp) > s.stalenessWindow,
	}

	if quote.Stale {
		log.Debug().
			Str("service", "pricing").
			Str("symbol", symbol).
			Time("as_of", asOf).
			Time("observed", point.Timestamp).
			Msg("serving stale price")
	}

	return quote, nil
}

// Convert converts an amount between currencies using the latest FX rate
// at or before asOf. Same-currency conversion is the identity with no
// lookup. When only the inverse pair is quoted, its reciprocal is used.
func (s *Service) Convert(amount decimal.Decimal, from, to string, asOf time.Time) (*Conversion, error) {
	if from == to {
		return &Conversion{
			Amount: amount,
			From:   from,
			To:     to,
			Rate:   decimal.NewFromInt(1),
		}, nil
	}

	fxRate, err := s.db.GetLatestFxRateAt(from, to, asOf)
	if err != nil {
		return nil, err
	}

	rate := decimal.Zero
	var observed time.Time
	if fxRate != nil {
		rate = fxRate.Rate
		observed = fxRate.Timestamp
	} else {
		inverse, err := s.db.GetLatestFxRateAt(to, from, asOf)
		if err != nil {
			return nil, err
		}
		if inverse == nil || inverse.Rate.IsZero() {
			return nil, fmt.Errorf("%w: fx %s/%s as of %s", types.ErrNoPrice, from, to, asOf.Format("2006-01-02"))
		}
		rate = decimal.NewFromInt(1).Div(inverse.Rate)
		observed = inverse.Timestamp
	}

	return &Conversion{
		Amount: amount.Mul(rate),
		From:   from,
		To:     to,
		Rate:   rate,
		Stale:  asOf.Sub(observed) > s.stalenessWindow,
	}, nil
}

// AddPrice appends a price observation. The series is append-only; nothing
// is ever rewritten.
func (s *Service) AddPrice(symbol string, price decimal.Decimal, currency string, timestamp time.Time) (*PricePoint, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", types.ErrValidation)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", types.ErrValidation)
	}
	if currency == "" {
		currency = "USD"
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	point := &PricePoint{
		Symbol:    symbol,
		Price:     price,
		Currency:  currency,
		Timestamp: timestamp,
		CreatedAt: time.Now(),
	}
	if err := s.db.CreatePricePoint(point); err != nil {
		return nil, err
	}
	return point, nil
}

// AddFxRate appends an FX observation.
func (s *Service) AddFxRate(base, quote string, rate decimal.Decimal, timestamp time.Time) (*FxRate, error) {
	if base == "" || quote == "" {
		return nil, fmt.Errorf("%w: both currencies are required", types.ErrValidation)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate must be positive", types.ErrValidation)
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	fxRate := &FxRate{
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Rate:          rate,
		Timestamp:     timestamp,
		CreatedAt:     time.Now(),
	}
	if err := s.db.CreateFxRate(fxRate); err != nil {
		return nil, err
	}
	return fxRate, nil
}

// GinHandlers contains HTTP handlers for price ingestion and lookup
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for pricing endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type addPriceRequest struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

// AddPriceHandler handles POST requests from the market-data pipeline
func (h *GinHandlers) AddPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addPriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		point, err := h.service.AddPrice(req.Symbol, req.Price, req.Currency, req.Timestamp)
		response.Handle(c, point, err)
	}
}

type addFxRateRequest struct {
	BaseCurrency  string          `json:"base_currency" binding:"required"`
	QuoteCurrency string          `json:"quote_currency" binding:"required"`
	Rate          decimal.Decimal `json:"rate"`
	Timestamp     time.Time       `json:"timestamp"`
}

// AddFxRateHandler handles POST requests from the FX pipeline
func (h *GinHandlers) AddFxRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addFxRateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		fxRate, err := h.service.AddFxRate(req.BaseCurrency, req.QuoteCurrency, req.Rate, req.Timestamp)
		response.Handle(c, fxRate, err)
	}
}

// GetPriceHandler handles GET requests for a valuation quote
// Query parameter: as_of (RFC3339 or date, default now)
func (h *GinHandlers) GetPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")

		asOf := time.Now()
		if v := c.Query("as_of"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				parsed, err = time.Parse(time.RFC3339, v)
			}
			if err != nil {
				response.BadRequest(c, "invalid as_of")
				return
			}
			asOf = parsed
		}

		quote, err := h.service.PriceAt(symbol, asOf)
		response.Handle(c, quote, err)
	}
}
