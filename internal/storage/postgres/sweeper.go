package postgres

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes expired rows so the table does not grow without
// bound. Reads never depend on it; expired rows are already invisible.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
//
// Precondition: store and logger must be non-nil; interval must be > 0.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
//
// Postcondition: Returns ctx.Err() once ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep and logs the outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	start := time.Now()
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Warn("sweeping expired items", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("swept expired items",
			zap.Int64("rows", n),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
