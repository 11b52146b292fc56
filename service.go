// Package gecwatch monitors Chinese power-exchange tender portals for green
// electricity certificate procurement announcements and stores the extracted
// tender records.
package gecwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gecwatch/gecwatch/idgen"
	"github.com/gecwatch/gecwatch/internal/extract"
	"github.com/gecwatch/gecwatch/internal/fetch"
	"github.com/gecwatch/gecwatch/internal/normalize"
	"github.com/gecwatch/gecwatch/internal/notify"
	"github.com/gecwatch/gecwatch/internal/pipeline"
	"github.com/gecwatch/gecwatch/internal/scheduler"
	"github.com/gecwatch/gecwatch/internal/store"
)

// Service is the main gecwatch orchestrator.
type Service struct {
	store     *store.Store
	fetcher   *fetch.Fetcher
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	config    *Config
	newID     idgen.Generator
}

// New creates a Service on an already-opened store.
func New(st *store.Store, cfg *Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	f := fetch.New(cfg.fetchConfig())
	ex := extract.New(cfg.llm())

	notifiers := []notify.Notifier{notify.NewStoreNotifier(st)}
	if cfg.Email.Enabled {
		notifiers = append(notifiers, notify.NewEmailNotifier(cfg.Email))
	}
	fanout := notify.NewFanout(logger, notifiers...)

	p := pipeline.New(f, normalize.New(), ex, st, fanout, logger, cfg.pipelineConfig())

	svc := &Service{
		store:    st,
		fetcher:  f,
		pipeline: p,
		logger:   logger,
		config:   cfg,
		newID:    idgen.Source,
	}
	svc.scheduler = scheduler.New(st, p.Run, cfg.schedulerConfig(), logger)
	return svc
}

// Open opens the configured database, applies the schema and returns a
// ready Service with the config's seed sources registered.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc := New(st, cfg, logger)
	if err := svc.seedSources(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the database.
func (s *Service) Close() error {
	return s.store.Close()
}

// Run blocks polling for due sources until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.scheduler.Run(ctx)
}

// seedSources registers config-declared sources. A seed whose normalized
// URL is already known leaves the stored row untouched.
func (s *Service) seedSources(ctx context.Context) error {
	for _, seed := range s.config.Sources {
		src := &store.Source{
			OwnerID:       seed.OwnerID,
			Name:          seed.Name,
			URL:           seed.URL,
			Kind:          seed.Kind,
			Defended:      seed.Defended,
			IntervalHours: seed.IntervalHours,
			MinBodyBytes:  seed.MinBodyBytes,
		}
		_, err := s.AddSource(ctx, src)
		if err == ErrDuplicateSource {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed source %q: %w", seed.URL, err)
		}
	}
	return nil
}

// AddSource registers a new monitored page. The URL is normalized before
// the duplicate check so trivially different spellings collapse.
func (s *Service) AddSource(ctx context.Context, src *store.Source) (*store.Source, error) {
	if src.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	normalized, err := NormalizeSourceURL(src.URL)
	if err != nil {
		return nil, err
	}
	src.URL = normalized

	if src.Kind == "" {
		src.Kind = "listing"
	}
	if src.Kind != "listing" && src.Kind != "single" {
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, src.Kind)
	}

	existing, err := s.store.GetSourceByURL(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrDuplicateSource
	}

	src.ID = s.newID()
	src.Enabled = true
	if err := s.store.InsertSource(ctx, src); err != nil {
		return nil, err
	}
	s.logger.Info("source added", "source_id", src.ID, "url", src.URL, "kind", src.Kind)
	return src, nil
}

// GetSource returns one source.
func (s *Service) GetSource(ctx context.Context, id string) (*store.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return src, nil
}

// ListSources returns all sources.
func (s *Service) ListSources(ctx context.Context) ([]*store.Source, error) {
	return s.store.ListSources(ctx)
}

// UpdateSource updates a source's mutable fields.
func (s *Service) UpdateSource(ctx context.Context, src *store.Source) error {
	if _, err := s.GetSource(ctx, src.ID); err != nil {
		return err
	}
	normalized, err := NormalizeSourceURL(src.URL)
	if err != nil {
		return err
	}
	src.URL = normalized
	return s.store.UpdateSource(ctx, src)
}

// DeleteSource removes a source. Its stored records and logs remain.
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	if _, err := s.GetSource(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteSource(ctx, id)
}

// RunSource scrapes one source immediately, outside the schedule.
func (s *Service) RunSource(ctx context.Context, id string) error {
	src, err := s.GetSource(ctx, id)
	if err != nil {
		return err
	}
	return s.pipeline.Run(ctx, src)
}

// RunAll scrapes every enabled source concurrently. Per-source failures
// are isolated; the first error is returned after all sources finish.
func (s *Service) RunAll(ctx context.Context) error {
	sources, err := s.store.EnabledSources(ctx)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, src := range sources {
		wg.Add(1)
		go func(src *store.Source) {
			defer wg.Done()
			if err := s.pipeline.Run(ctx, src); err != nil {
				s.logger.Error("scrape failed", "source_id", src.ID, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(src)
	}
	wg.Wait()
	return firstErr
}

// Transactions returns stored tender records, newest first. An empty
// sourceID lists across all sources.
func (s *Service) Transactions(ctx context.Context, sourceID string, limit int) ([]*store.Transaction, error) {
	return s.store.ListTransactions(ctx, sourceID, limit)
}

// RunLogs returns cycle outcomes, newest first.
func (s *Service) RunLogs(ctx context.Context, sourceID string, limit int) ([]*store.RunLog, error) {
	return s.store.ListRunLogs(ctx, sourceID, limit)
}

// Notifications returns stored pipeline events, newest first.
func (s *Service) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]*store.Notification, error) {
	return s.store.ListNotifications(ctx, unreadOnly, limit)
}

// MarkNotificationRead flips the read flag on one notification.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.store.MarkNotificationRead(ctx, id)
}

// Stats returns aggregate row counts.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}
