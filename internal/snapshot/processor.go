package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tallyr/holdings-api/internal/accounts"
)

// Processor drives daily snapshot computation in the background. Each tick
// it ensures every active account has a committed snapshot for today and
// retries any earlier snapshot stuck short of COMMITTED, so a price that
// arrives late heals the affected days without operator action.
type Processor struct {
	service      *Service
	accounts     *accounts.Service
	processDelay time.Duration
}

func NewProcessor(service *Service, accountsService *accounts.Service, processDelay time.Duration) *Processor {
	if processDelay <= 0 {
		processDelay = 5 * time.Minute
	}
	return &Processor{
		service:      service,
		accounts:     accountsService,
		processDelay: processDelay,
	}
}

// Start begins the snapshot processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "snapshot_processor").Logger()
	logger.Info().Msg("starting snapshot processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down snapshot processor")
			return
		case <-ticker.C:
			if err := p.processSnapshots(); err != nil {
				logger.Error().Err(err).Msg("failed to process snapshots")
			}
		}
	}
}

func (p *Processor) processSnapshots() error {
	logger := log.With().Str("component", "snapshot_processor").Logger()
	today := SnapshotDate(time.Now())

	// Retry anything stuck from earlier runs first, oldest dates first, so
	// daily returns chain off committed predecessors.
	stuck, err := p.service.db.GetUncommittedSnapshots()
	if err != nil {
		return err
	}
	for i := range stuck {
		if stuck[i].SnapshotDate.Equal(today) {
			continue // handled by the daily pass below
		}
		if _, err := p.service.Compute(stuck[i].AccountID, stuck[i].SnapshotDate); err != nil {
			logger.Warn().
				Err(err).
				Str("account_id", stuck[i].AccountID).
				Str("snapshot_date", stuck[i].SnapshotDate.Format("2006-01-02")).
				Msg("snapshot retry failed")
		}
	}

	accts, err := p.accounts.ActiveAccounts()
	if err != nil {
		return err
	}

	// Today's snapshot is recomputed every tick so it tracks intraday
	// activity; once the day rolls over the last recomputation stands.
	for i := range accts {
		if _, err := p.service.Compute(accts[i].AccountID, today); err != nil {
			logger.Warn().
				Err(err).
				Str("account_id", accts[i].AccountID).
				Msg("daily snapshot failed")
		}
	}

	return nil
}
