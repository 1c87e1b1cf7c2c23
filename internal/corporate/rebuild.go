package corporate

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/positions"
	"github.com/tallyr/holdings-api/internal/types"
	"gorm.io/gorm"
)

// Rebuilder refolds an account's derived state (lots, realized gains,
// positions) from the raw transaction and corporate-action logs. It is the
// primary disaster-recovery mechanism: after a bug fix, derived state is
// wiped and rebuilt through the same matching code the live path uses, and
// must come out identical to the incrementally maintained version.
type Rebuilder struct {
	db        *Database
	lots      *lots.Service
	ledgerDB  *ledger.Database
	positions *positions.Service
}

// NewRebuilder creates a rebuilder over the same stores the live engine
// uses
func NewRebuilder(gormDB *gorm.DB, lotsService *lots.Service, positionsService *positions.Service) *Rebuilder {
	return &Rebuilder{
		db:        NewDatabase(gormDB),
		lots:      lotsService,
		ledgerDB:  ledger.NewDatabase(gormDB),
		positions: positionsService,
	}
}

// RebuildAccount wipes and refolds one account. Events are replayed in
// date order: a lot-mutating corporate action takes effect before the
// first transaction dated on or after its ex-date, which is how holders of
// record experience it. Each replayed event commits on its own, so an
// interrupted rebuild reruns deterministically from the wipe.
func (r *Rebuilder) RebuildAccount(accountID string) (*RebuildResult, error) {
	logger := log.With().
		Str("service", "corporate").
		Str("component", "rebuild").
		Str("account_id", accountID).
		Logger()

	logger.Info().Msg("starting full rebuild from ledger")

	result := &RebuildResult{AccountID: accountID}

	err := r.lots.WithAccountLock(accountID, func() error {
		// Collect the full event history up front
		var txns []types.Transaction
		cursor := uint64(0)
		for {
			batch, err := r.ledgerDB.GetTransactionsSince(accountID, cursor, 500)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			txns = append(txns, batch...)
			cursor = batch[len(batch)-1].Cursor()
		}
		sort.SliceStable(txns, func(i, j int) bool {
			if !txns[i].TradeDate.Equal(txns[j].TradeDate) {
				return txns[i].TradeDate.Before(txns[j].TradeDate)
			}
			return txns[i].ID < txns[j].ID
		})

		actions, err := r.db.GetLotMutatingActionsThrough(time.Now())
		if err != nil {
			return err
		}
		// Only actions that have actually been applied belong in the fold
		applied := actions[:0]
		for i := range actions {
			if actions[i].Status == StatusApplied {
				applied = append(applied, actions[i])
			}
		}
		actions = applied

		gormDB := r.lots.GetDB().DB()
		err = gormDB.Transaction(func(tx *gorm.DB) error {
			if err := r.lots.GetDB().DeleteAccountDerivedStateTx(tx, accountID); err != nil {
				return err
			}
			return r.db.DeleteAccountApplicationsTx(tx, accountID)
		})
		if err != nil {
			return err
		}

		nextAction := 0
		replayActionsThrough := func(date time.Time) error {
			for nextAction < len(actions) && !actions[nextAction].ExDate.After(date) {
				if err := r.replayActionForAccount(&actions[nextAction], accountID); err != nil {
					return err
				}
				result.ActionsReplayed++
				nextAction++
			}
			return nil
		}

		for i := range txns {
			txn := txns[i]
			if err := replayActionsThrough(txn.TradeDate); err != nil {
				return err
			}

			strategy, err := lots.ResolveStrategy(txn.Strategy)
			if err != nil {
				return err
			}
			err = gormDB.Transaction(func(tx *gorm.DB) error {
				return r.lots.ReplayTransactionTx(tx, &txn, strategy)
			})
			if err != nil {
				return err
			}
			result.TransactionsFolded++
		}

		return replayActionsThrough(time.Now())
	})
	if err != nil {
		return nil, err
	}

	// Refresh the position cache best-effort; a missing price leaves the
	// symbol for the next recompute rather than failing the rebuild
	symbols, err := r.lots.GetDB().GetOpenSymbols(accountID)
	if err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		if _, err := r.positions.Recompute(accountID, symbol); err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("position refresh failed during rebuild")
			continue
		}
		result.PositionsRefreshed++
	}

	logger.Info().
		Int("transactions_folded", result.TransactionsFolded).
		Int("actions_replayed", result.ActionsReplayed).
		Int("positions_refreshed", result.PositionsRefreshed).
		Msg("rebuild completed")

	return result, nil
}

// replayActionForAccount re-applies a split or spinoff to one account's
// lots. The caller already holds the account lock, so these helpers touch
// lot state directly.
func (r *Rebuilder) replayActionForAccount(action *CorporateAction, accountID string) error {
	accountLots, err := r.lots.GetDB().GetAccountLots(accountID, action.Symbol)
	if err != nil {
		return err
	}

	gormDB := r.lots.GetDB().DB()
	for i := range accountLots {
		lot := &accountLots[i]
		if !lot.OpenDate.Before(action.ExDate) {
			continue
		}

		switch action.ActionType {
		case ActionSplit:
			lot.QuantityOpen = lot.QuantityOpen.Mul(action.Ratio)
			lot.QuantityClosed = lot.QuantityClosed.Mul(action.Ratio)
			lot.UpdatedAt = time.Now()
			err = gormDB.Transaction(func(tx *gorm.DB) error {
				if err := r.lots.GetDB().SaveLotTx(tx, lot); err != nil {
					return err
				}
				return r.db.CreateApplicationTx(tx, action.ActionID, lot.LotID, lot.AccountID)
			})
			if err != nil {
				return err
			}

		case ActionSpinoff:
			if !lot.IsOpen() {
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
				if err := r.lots.GetDB().SaveLotTx(tx, lot); err != nil {
					return err
				}
				if err := r.lots.GetDB().CreateLotTx(tx, spun); err != nil {
					return err
				}
				return r.db.CreateApplicationTx(tx, action.ActionID, lot.LotID, lot.AccountID)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
