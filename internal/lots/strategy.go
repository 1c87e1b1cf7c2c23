package lots

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tallyr/holdings-api/internal/types"
)

// Matching strategy names
const (
	StrategyFIFO        = "FIFO"
	StrategyLIFO        = "LIFO"
	StrategyHighestCost = "HIGHEST_COST"
)

// Strategy decides the order in which open lots are closed by a sell. The
// engine is otherwise strategy-agnostic, which leaves room for policies
// like wash-sale aware matching without touching the closure code.
type Strategy interface {
	Name() string
	// Order sorts candidate lots into closure order. It must be
	// deterministic: equal inputs produce identical orderings.
	Order(candidates []Lot)
}

type fifoStrategy struct{}

func (fifoStrategy) Name() string { return StrategyFIFO }

// Order sorts oldest open date first, ties broken by lot creation order.
func (fifoStrategy) Order(candidates []Lot) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].OpenDate.Equal(candidates[j].OpenDate) {
			return candidates[i].OpenDate.Before(candidates[j].OpenDate)
		}
		return candidates[i].ID < candidates[j].ID
	})
}

type lifoStrategy struct{}

func (lifoStrategy) Name() string { return StrategyLIFO }

// Order sorts newest open date first, ties broken by newest creation order.
func (lifoStrategy) Order(candidates []Lot) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].OpenDate.Equal(candidates[j].OpenDate) {
			return candidates[i].OpenDate.After(candidates[j].OpenDate)
		}
		return candidates[i].ID > candidates[j].ID
	})
}

type highestCostStrategy struct{}

func (highestCostStrategy) Name() string { return StrategyHighestCost }

// Order sorts highest unit cost basis first, ties broken by creation order.
func (highestCostStrategy) Order(candidates []Lot) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].UnitCostBasis(), candidates[j].UnitCostBasis()
		if !ci.Equal(cj) {
			return ci.GreaterThan(cj)
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// ResolveStrategy maps a strategy name to its implementation. An empty name
// selects FIFO.
func ResolveStrategy(name string) (Strategy, error) {
	switch strings.ToUpper(name) {
	case "", StrategyFIFO:
		return fifoStrategy{}, nil
	case StrategyLIFO:
		return lifoStrategy{}, nil
	case StrategyHighestCost:
		return highestCostStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown matching strategy %q", types.ErrValidation, name)
	}
}
