package sched

import (
	"context"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/infra/logging"

	"github.com/rs/zerolog"
)

// StalledRecoverer forces a transition on runs idle since staleBefore and
// reports how many it moved.
type StalledRecoverer interface {
	RecoverStalled(ctx context.Context, staleBefore time.Time) (int, error)
}

// SweepLock lets one replica sweep at a time when several share a store.
type SweepLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

const sweepLockKey = "lock:watchdog:sweep"

// Watchdog periodically reclaims runs that stopped making progress.
type Watchdog struct {
	runs       StalledRecoverer
	lock       SweepLock
	clock      clock.Clock
	interval   time.Duration // how often to sweep
	staleAfter time.Duration // how long a run may go untouched
	log        *zerolog.Logger
}

func NewWatchdog(runs StalledRecoverer, clk clock.Clock, interval, staleAfter time.Duration, logger *zerolog.Logger) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Watchdog{
		runs:       runs,
		clock:      clk,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logging.Component(logger, "Watchdog"),
	}
}

// Run sweeps every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting watchdog")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping watchdog")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// WithLock makes every sweep take lock first; sweeps that lose are skipped.
func (w *Watchdog) WithLock(lock SweepLock) *Watchdog {
	w.lock = lock
	return w
}

// Sweep is a single pass. It returns the number of recovered runs.
func (w *Watchdog) Sweep(ctx context.Context) int {
	if w.lock != nil {
		token, err := w.lock.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			w.log.Debug().Err(err).Msg("sweep skipped, lock not acquired")
			return 0
		}
		defer func() {
			if err := w.lock.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}
	cutoff := w.clock.Now().Add(-w.staleAfter)
	n, err := w.runs.RecoverStalled(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("watchdog sweep error")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Time("cutoff", cutoff).Msg("stalled runs recovered")
	}
	return n
}
