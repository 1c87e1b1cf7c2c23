package corporate

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/types"
	"github.com/tallyr/holdings-api/pkg/response"
	"gorm.io/gorm"
)

// Service applies corporate actions to lots without ever mutating the
// transaction ledger. Application for a given instrument is serialized
// across accounts so ex-date ordering cannot be violated by interleaving,
// and each (action, lot) pair commits on its own, making large replays
// resumable from wherever they stopped.
type Service struct {
	db       *Database
	lots     *lots.Service
	ledgerDB *ledger.Database

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex
}

// NewService creates a new corporate action adjuster backed by the lot
// engine
func NewService(gormDB *gorm.DB, lotsService *lots.Service) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		lots:        lotsService,
		ledgerDB:    ledger.NewDatabase(gormDB),
		symbolLocks: make(map[string]*sync.Mutex),
	}
}

// GetDB returns the package database for collaborating services.
func (s *Service) GetDB() *Database {
	return s.db
}

func (s *Service) lockFor(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.symbolLocks[symbol]
	if !exists {
		l = &sync.Mutex{}
		s.symbolLocks[symbol] = l
	}
	return l
}

// CreateAction validates and registers a pending corporate action.
func (s *Service) CreateAction(action *CorporateAction) (*CorporateAction, error) {
	if action.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", types.ErrValidation)
	}
	if action.ExDate.IsZero() {
		return nil, fmt.Errorf("%w: ex_date is required", types.ErrValidation)
	}

	switch action.ActionType {
	case ActionSplit:
		if !action.Ratio.IsPositive() {
			return nil, fmt.Errorf("%w: split ratio must be positive", types.ErrValidation)
		}
	case ActionDividend:
		if !action.CashAmount.IsPositive() {
			return nil, fmt.Errorf("%w: dividend cash amount must be positive", types.ErrValidation)
		}
	case ActionSpinoff:
		if action.NewSymbol == "" {
			return nil, fmt.Errorf("%w: spinoff requires new_symbol", types.ErrValidation)
		}
		if !action.Ratio.IsPositive() {
			return nil, fmt.Errorf("%w: spinoff share ratio must be positive", types.ErrValidation)
		}
		one := decimal.NewFromInt(1)
		if !action.BasisFraction.IsPositive() || action.BasisFraction.GreaterThanOrEqual(one) {
			return nil, fmt.Errorf("%w: basis_fraction must be in (0, 1)", types.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", types.ErrValidation, action.ActionType)
	}

	action.ActionID = uuid.New().String()
	action.Status = StatusPending
	action.CreatedAt = time.Now()
	action.UpdatedAt = time.Now()

	if err := s.db.CreateAction(action); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "corporate").
		Str("action_id", action.ActionID).
		Str("symbol", action.Symbol).
		Str("action_type", action.ActionType).
		Time("ex_date", action.ExDate).
		Msg("corporate action registered")

	return action, nil
}

// GetAction retrieves a corporate action by ID.
func (s *Service) GetAction(actionID string) (*CorporateAction, error) {
	action, err := s.db.GetAction(actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("corporate action %s: %w", actionID, types.ErrNotFound)
	}
	return action, nil
}

// Apply runs one corporate action against every affected lot. Applying the
// same action twice is a no-op: pairs already on record are skipped and
// logged. Actions on a symbol must be applied in ex-date order; an earlier
// pending action blocks a later one.
func (s *Service) Apply(actionID string) (*ApplyResult, error) {
	action, err := s.GetAction(actionID)
	if err != nil {
		return nil, err
	}

	l := s.lockFor(action.Symbol)
	l.Lock()
	defer l.Unlock()

	earlier, err := s.db.HasEarlierPending(action)
	if err != nil {
		return nil, err
	}
	if earlier {
		return nil, fmt.Errorf("%w: symbol %s has an earlier pending action; apply in ex_date order",
			types.ErrValidation, action.Symbol)
	}

	logger := log.With().
		Str("service", "corporate").
		Str("action_id", action.ActionID).
		Str("symbol", action.Symbol).
		Str("action_type", action.ActionType).
		Logger()

	result := &ApplyResult{
		ActionID:   action.ActionID,
		ActionType: action.ActionType,
		Symbol:     action.Symbol,
	}

	switch action.ActionType {
	case ActionSplit:
		err = s.applySplit(action, result)
	case ActionDividend:
		err = s.applyDividend(action, result)
	case ActionSpinoff:
		err = s.applySpinoff(action, result)
	}
	if err != nil {
		return nil, err
	}

	if action.Status != StatusApplied {
		action.Status = StatusApplied
		action.UpdatedAt = time.Now()
		if err := s.db.UpdateAction(action); err != nil {
			return nil, err
		}
	}
	result.Status = action.Status

	logger.Info().
		Int("lots_adjusted", result.LotsAdjusted).
		Int("lots_skipped", result.LotsSkipped).
		Int("lots_created", result.LotsCreated).
		Int("dividends_emitted", result.DividendsEmitted).
		Msg("corporate action applied")

	return result, nil
}

// applySplit rescales quantity_open and quantity_closed of every affected
// lot (open_date before ex_date) by the split ratio. Cost basis is
// untouched: total dollar basis is conserved, per-share basis scales by the
// inverse ratio. Lots are read inside the account lock; a copy taken
// before the lock could lose a closure a concurrent sell commits in the
// meantime.
func (s *Service) applySplit(action *CorporateAction, result *ApplyResult) error {
	accountIDs, err := s.lots.GetDB().GetLotAccounts(action.Symbol)
	if err != nil {
		return err
	}

	gormDB := s.lots.GetDB().DB()
	for _, accountID := range accountIDs {
		err := s.lots.WithAccountLock(accountID, func() error {
			accountLots, err := s.lots.GetDB().GetAccountLots(accountID, action.Symbol)
			if err != nil {
				return err
			}
			for i := range accountLots {
				lot := &accountLots[i]
				if !lot.OpenDate.Before(action.ExDate) {
					continue
				}

				applied, err := s.db.HasApplication(action.ActionID, lot.LotID)
				if err != nil {
					return err
				}
				if applied {
					result.LotsSkipped++
					log.Debug().
						Str("service", "corporate").
						Str("action_id", action.ActionID).
						Str("lot_id", lot.LotID).
						Msg("action already applied to lot, skipping")
					continue
				}

				lot.QuantityOpen = lot.QuantityOpen.Mul(action.Ratio)
				lot.QuantityClosed = lot.QuantityClosed.Mul(action.Ratio)
				lot.UpdatedAt = time.Now()

				// One commit per lot keeps a large replay resumable
				err = gormDB.Transaction(func(tx *gorm.DB) error {
					if err := s.lots.GetDB().SaveLotTx(tx, lot); err != nil {
						return err
					}
					return s.db.CreateApplicationTx(tx, action.ActionID, lot.LotID, lot.AccountID)
				})
				if err != nil {
					return err
				}
				result.LotsAdjusted++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// HoldingAt reconstructs the quantity of a symbol an account held at a
// date, expressed in the share units of that date: open quantity of lots
// dated before it, minus closures realized before it.
//
// The two sides are stored in different units. Splits rescale lot
// quantities in place, so a lot's quantity_open is in the units of the
// latest applied split; realized gain rows are never rescaled and keep the
// units of their sale date. Both are converted through the applied split
// history before they are combined: a lot is divided back down by splits
// with ex-date after asOf, and a gain is multiplied up by splits with
// ex-date between its sale date and asOf.
func (s *Service) HoldingAt(accountID, symbol string, asOf time.Time) (decimal.Decimal, string, error) {
	splits, err := s.db.GetAppliedSplits(symbol)
	if err != nil {
		return decimal.Zero, "", err
	}

	accountLots, err := s.lots.GetDB().GetAccountLots(accountID, symbol)
	if err != nil {
		return decimal.Zero, "", err
	}

	held := decimal.Zero
	currency := ""
	for i := range accountLots {
		lot := &accountLots[i]
		if !lot.OpenDate.Before(asOf) {
			continue
		}
		quantity := lot.QuantityOpen
		for j := range splits {
			if splits[j].ExDate.After(asOf) && splits[j].ExDate.After(lot.OpenDate) {
				quantity = quantity.Div(splits[j].Ratio)
			}
		}
		held = held.Add(quantity)
		if currency == "" {
			currency = lot.Currency
		}
	}

	gains, err := s.lots.GetDB().GetRealizedGains(accountID, symbol)
	if err != nil {
		return decimal.Zero, "", err
	}
	for i := range gains {
		if !gains[i].RealizedAt.Before(asOf) {
			continue
		}
		quantity := gains[i].Quantity
		for j := range splits {
			if splits[j].ExDate.After(gains[i].RealizedAt) && !splits[j].ExDate.After(asOf) {
				quantity = quantity.Mul(splits[j].Ratio)
			}
		}
		held = held.Sub(quantity)
	}

	return held, currency, nil
}

// applyDividend emits one synthetic cash transaction per holding account:
// dividend income is economically a transaction, not a lot mutation. The
// emission rides the ledger's idempotent append, so re-applying the action
// cannot double-book.
func (s *Service) applyDividend(action *CorporateAction, result *ApplyResult) error {
	accountIDs, err := s.ledgerDB.GetHoldingAccounts(action.Symbol)
	if err != nil {
		return err
	}

	for _, accountID := range accountIDs {
		held, currency, err := s.HoldingAt(accountID, action.Symbol, action.ExDate)
		if err != nil {
			return err
		}
		if !held.IsPositive() {
			continue
		}

		txn := &types.Transaction{
			AccountID: accountID,
			Symbol:    action.Symbol,
			Side:      types.SideDividend,
			Quantity:  held,
			Price:     action.CashAmount,
			Fee:       decimal.Zero,
			Currency:  currency,
			TradeDate: action.ExDate,
		}

		idempotencyKey := fmt.Sprintf("ca:%s:%s", action.ActionID, accountID)
		recorded, err := s.lots.RecordTransaction(txn, idempotencyKey, "")
		if err != nil {
			return err
		}
		if recorded.Duplicate {
			result.LotsSkipped++
			continue
		}
		result.DividendsEmitted++
	}
	return nil
}

// applySpinoff carves basis_fraction of each open lot's remaining basis
// into a new lot of the spun-off instrument, dated at ex_date, with ratio
// new shares per old share. Total basis across both instruments is
// conserved exactly.
func (s *Service) applySpinoff(action *CorporateAction, result *ApplyResult) error {
	accountIDs, err := s.lots.GetDB().GetLotAccounts(action.Symbol)
	if err != nil {
		return err
	}

	gormDB := s.lots.GetDB().DB()
	for _, accountID := range accountIDs {
		err := s.lots.WithAccountLock(accountID, func() error {
			accountLots, err := s.lots.GetDB().GetAccountLots(accountID, action.Symbol)
			if err != nil {
				return err
			}
			for i := range accountLots {
				lot := &accountLots[i]
				if !lot.OpenDate.Before(action.ExDate) || !lot.IsOpen() {
					continue
				}

				applied, err := s.db.HasApplication(action.ActionID, lot.LotID)
				if err != nil {
					return err
				}
				if applied {
					result.LotsSkipped++
					log.Debug().
						Str("service", "corporate").
						Str("action_id", action.ActionID).
						Str("lot_id", lot.LotID).
						Msg("action already applied to lot, skipping")
					continue
				}

				movedBasis := lot.RemainingCostBasis().Mul(action.BasisFraction)
				actionID := action.ActionID
				spun := &lots.Lot{
					LotID:          uuid.New().String(),
					AccountID:      lot.AccountID,
					Symbol:         action.NewSymbol,
					SourceActionID: &actionID,
					QuantityOpen:   lot.Remaining().Mul(action.Ratio),
					QuantityClosed: decimal.Zero,
					CostBasis:      movedBasis,
					Currency:       lot.Currency,
					OpenDate:       action.ExDate,
					CreatedAt:      time.Now(),
					UpdatedAt:      time.Now(),
				}

				lot.CostBasis = lot.CostBasis.Sub(movedBasis)
				lot.UpdatedAt = time.Now()

				err = gormDB.Transaction(func(tx *gorm.DB) error {
					if err := s.lots.GetDB().SaveLotTx(tx, lot); err != nil {
						return err
					}
					if err := s.lots.GetDB().CreateLotTx(tx, spun); err != nil {
						return err
					}
					return s.db.CreateApplicationTx(tx, action.ActionID, lot.LotID, lot.AccountID)
				})
				if err != nil {
					return err
				}
				result.LotsAdjusted++
				result.LotsCreated++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GinHandlers contains HTTP handlers for corporate action and rebuild
// endpoints
type GinHandlers struct {
	service   *Service
	rebuilder *Rebuilder
}

// NewGinHandlers creates a new set of HTTP handlers for corporate action
// endpoints
func NewGinHandlers(service *Service, rebuilder *Rebuilder) *GinHandlers {
	return &GinHandlers{
		service:   service,
		rebuilder: rebuilder,
	}
}

type createActionRequest struct {
	Symbol        string          `json:"symbol" binding:"required"`
	ActionType    string          `json:"action_type" binding:"required"`
	ExDate        string          `json:"ex_date" binding:"required"`
	Ratio         decimal.Decimal `json:"ratio"`
	CashAmount    decimal.Decimal `json:"cash_amount"`
	NewSymbol     string          `json:"new_symbol"`
	BasisFraction decimal.Decimal `json:"basis_fraction"`
}

// CreateActionHandler handles POST requests to register corporate actions
// Requires internal authentication
func (h *GinHandlers) CreateActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		exDate, err := time.Parse("2006-01-02", req.ExDate)
		if err != nil {
			exDate, err = time.Parse(time.RFC3339, req.ExDate)
		}
		if err != nil {
			response.BadRequest(c, "invalid ex_date")
			return
		}

		action, err := h.service.CreateAction(&CorporateAction{
			Symbol:        req.Symbol,
			ActionType:    req.ActionType,
			ExDate:        exDate,
			Ratio:         req.Ratio,
			CashAmount:    req.CashAmount,
			NewSymbol:     req.NewSymbol,
			BasisFraction: req.BasisFraction,
		})
		response.Handle(c, action, err)
	}
}

// ApplyActionHandler handles POST requests to apply a registered action
// Requires internal authentication; invoked by the scheduled job once the
// ex_date has passed
// URL parameter: action_id
func (h *GinHandlers) ApplyActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actionID := c.Param("action_id")

		result, err := h.service.Apply(actionID)
		response.Handle(c, result, err)
	}
}

// GetActionHandler handles GET requests for a corporate action
func (h *GinHandlers) GetActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actionID := c.Param("action_id")

		action, err := h.service.GetAction(actionID)
		response.Handle(c, action, err)
	}
}

// RebuildAccountHandler handles POST requests to rebuild an account's
// derived state from the ledger
// Requires internal authentication
// URL parameter: account_id
func (h *GinHandlers) RebuildAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		result, err := h.rebuilder.RebuildAccount(accountID)
		response.Handle(c, result, err)
	}
}
