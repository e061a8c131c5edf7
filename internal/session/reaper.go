package session

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 5 * time.Minute

// Reaper periodically sweeps expired sessions out of a Store. It only ever
// removes entries.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(removed int)
}

func NewReaper(store *Store, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{store: store, interval: interval, logger: logger}
}

// OnSweep registers a callback invoked after each sweep, e.g. for metrics.
func (r *Reaper) OnSweep(fn func(removed int)) {
	r.onSweep = fn
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("session reaper started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return nil
		case <-ticker.C:
			removed := r.store.Sweep()
			if r.onSweep != nil {
				r.onSweep(removed)
			}
		}
	}
}
