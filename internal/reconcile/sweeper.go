package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"paysync/internal/domain/paymentsrepo"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SweeperConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration // only PENDING payments older than this are polled
	Batch       int
	Concurrency int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Sweeper periodically syncs PENDING payments whose webhooks never arrived.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig
	logger *zap.SugaredLogger
}

func NewSweeper(engine *Engine, cfg SweeperConfig, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = engine.logger
	}
	return &Sweeper{engine: engine, cfg: cfg.withDefaults(), logger: logger}
}

type SweepStats struct {
	Scanned int
	Changed int
	Failed  int
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		stats, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.Errorw("pending sweep failed", "error", err)
		} else if stats.Scanned > 0 {
			s.logger.Infow("pending sweep finished", "scanned", stats.Scanned, "changed", stats.Changed, "failed", stats.Failed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce syncs one batch of stale PENDING payments. A failure on one
// payment is counted and logged; it does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	cutoff := s.engine.now().Add(-s.cfg.StaleAfter)
	stale, err := s.engine.store.ListStalePending(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return SweepStats{}, err
	}

	var changed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, p := range stale {
		p := p
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			synced, err := s.engine.GetPayment(ctx, p.ID)
			if err != nil {
				failed.Add(1)
				s.logger.Warnw("sweeping payment failed", "payment_id", p.ID, "error", err)
				return nil
			}
			if synced.Status != paymentsrepo.StatusPending {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.Add("sweeps", 1)
	return SweepStats{
		Scanned: len(stale),
		Changed: int(changed.Load()),
		Failed:  int(failed.Load()),
	}, nil
}
