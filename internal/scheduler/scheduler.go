// Package scheduler polls for due sources and fans their scrape cycles out.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gecwatch/gecwatch/internal/store"
)

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to poll for due sources. Default: 5 minutes.
	CheckInterval time.Duration
	// MaxFailures skips sources with this many consecutive failures.
	// Default: 5.
	MaxFailures int
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
}

// RunFunc executes one scrape cycle for one source. Errors are the cycle's
// own business; the scheduler only logs them.
type RunFunc func(ctx context.Context, src *store.Source) error

// Scheduler periodically queries for due sources and runs each one's cycle
// in its own goroutine. One source's failure never delays or cancels its
// siblings; the tick waits for all cycles before the next poll.
type Scheduler struct {
	store  *store.Store
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(st *store.Store, run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: st, run: run, config: cfg, logger: logger}
}

// Run polls on a ticker. Blocks until ctx is cancelled. The first poll
// happens immediately on start.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one poll: every due source's cycle is launched concurrently
// and the call returns once all of them finish. Returns the number of
// sources run.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.store.DueSources(ctx, s.config.MaxFailures)
	if err != nil {
		s.logger.Error("scheduler: query due sources", "error", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	s.logger.Info("scheduler: tick", "due_sources", len(due))

	var wg sync.WaitGroup
	for _, src := range due {
		wg.Add(1)
		go func(src *store.Source) {
			defer wg.Done()
			if err := s.run(ctx, src); err != nil {
				s.logger.Warn("scheduler: cycle failed",
					"source_id", src.ID, "error", err)
			}
		}(src)
	}
	wg.Wait()
	return len(due)
}
