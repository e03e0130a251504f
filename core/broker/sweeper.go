package broker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// Sweeper drives the periodic lifecycle pass over a Store. Each tick drops
// retention-expired messages and removes idle channels. A pass that cannot
// free enough memory is not an error; publishers keep seeing ErrOutOfMemory
// until a later pass succeeds.
type Sweeper struct {
	store *Store
	clock clock.Clock
	log   *slog.Logger

	sweepsRun atomic.Int64
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger for sweep reporting.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(sw *Sweeper) {
		if logger != nil {
			sw.log = logger
		}
	}
}

// WithSweeperClock injects the clock driving the sweep ticker.
func WithSweeperClock(c clock.Clock) SweeperOption {
	return func(sw *Sweeper) {
		if c != nil {
			sw.clock = c
		}
	}
}

// NewSweeper creates a Sweeper for the given store. The interval comes from
// the store's configuration and follows it across reloads.
func NewSweeper(store *Store, opts ...SweeperOption) *Sweeper {
	sw := &Sweeper{
		store: store,
		clock: clock.New(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Run blocks, sweeping at the configured interval until the context is
// canceled. It always returns nil so an errgroup treats cancellation as a
// clean stop.
func (sw *Sweeper) Run(ctx context.Context) error {
	interval := sw.store.config().SweepInterval
	ticker := sw.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired, removed := sw.store.Sweep()
			sw.sweepsRun.Add(1)
			if expired > 0 || removed > 0 {
				sw.log.Debug("sweep completed",
					slog.Int("messages_expired", expired),
					slog.Int("channels_removed", removed))
			}
			// The interval is reloadable; pick up changes between ticks.
			if next := sw.store.config().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Sweeps returns the number of completed passes.
func (sw *Sweeper) Sweeps() int64 { return sw.sweepsRun.Load() }
