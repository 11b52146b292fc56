// Package pipeline runs one scrape cycle per source.
//
// A cycle walks a fixed state machine: fetch, change detection, extract,
// dedupe, persist, log, notify. Each source kind has a handler for the
// fetch/extract half; the surrounding bookkeeping is shared. Every cycle
// writes exactly one run log, and the source's content hash only advances
// after its records are safely stored.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gecwatch/gecwatch/idgen"
	"github.com/gecwatch/gecwatch/internal/dedupe"
	"github.com/gecwatch/gecwatch/internal/discover"
	"github.com/gecwatch/gecwatch/internal/extract"
	"github.com/gecwatch/gecwatch/internal/fetch"
	"github.com/gecwatch/gecwatch/internal/normalize"
	"github.com/gecwatch/gecwatch/internal/notify"
	"github.com/gecwatch/gecwatch/internal/store"
)

// Config tunes cycle behavior shared by all sources.
type Config struct {
	// DetailDelayMin/Max bound the jittered pause between successive
	// detail-page fetches of one listing source.
	// Defaults: 500ms and 2s.
	DetailDelayMin time.Duration
	DetailDelayMax time.Duration
	// MaxDetailLinks caps detail pages fetched per listing cycle.
	// Default: 20.
	MaxDetailLinks int
	// Discover carries the operator's link allow/deny patterns.
	Discover discover.Config
	// PageParam enables listing pagination when non-empty.
	PageParam string
	// MaxPages caps the pagination walk. Default: 10.
	MaxPages int
}

func (c *Config) defaults() {
	if c.DetailDelayMin <= 0 {
		c.DetailDelayMin = 500 * time.Millisecond
	}
	if c.DetailDelayMax <= c.DetailDelayMin {
		c.DetailDelayMax = 2 * time.Second
	}
	if c.MaxDetailLinks <= 0 {
		c.MaxDetailLinks = 20
	}
}

// result is what a handler hands back to the shared cycle bookkeeping.
type result struct {
	ContentHash string
	Unchanged   bool
	Candidates  []*extract.Candidate
	Strategy    string
	LinksSeen   int
	LinksFailed int
}

// SourceHandler runs the fetch/extract half of a cycle for one source kind.
type SourceHandler interface {
	Handle(ctx context.Context, src *store.Source, p *Pipeline) (*result, error)
}

// Pipeline executes scrape cycles.
type Pipeline struct {
	fetcher    *fetch.Fetcher
	normalizer *normalize.Normalizer
	extractor  *extract.Extractor
	store      *store.Store
	notifier   notify.Notifier
	logger     *slog.Logger
	cfg        Config

	handlers map[string]SourceHandler

	newLogID idgen.Generator
	newTxnID idgen.Generator
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	// rateLimit is the 429 retry schedule for detail links.
	rateLimit fetch.Policy
}

// New creates a Pipeline. notifier may be nil; cycles then skip the
// notify step.
func New(fetcher *fetch.Fetcher, normalizer *normalize.Normalizer, extractor *extract.Extractor, st *store.Store, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	p := &Pipeline{
		fetcher:    fetcher,
		normalizer: normalizer,
		extractor:  extractor,
		store:      st,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		newLogID:   idgen.RunLog,
		newTxnID:   idgen.Transaction,
		now:        time.Now,
		sleep:      sleepCtx,
		rateLimit:  fetch.RateLimitPolicy,
	}
	p.handlers = map[string]SourceHandler{
		"single":  &SingleHandler{},
		"listing": &ListingHandler{},
	}
	return p
}

// Run executes one cycle for src. Exactly one run log is written whatever
// happens; the returned error reflects the cycle outcome.
func (p *Pipeline) Run(ctx context.Context, src *store.Source) error {
	start := p.now()
	log := p.logger.With("source_id", src.ID, "url", src.URL)

	handler, ok := p.handlers[src.Kind]
	if !ok {
		handler = p.handlers["single"]
		log.Debug("pipeline: unknown source kind, using single handler", "kind", src.Kind)
	}

	res, err := handler.Handle(ctx, src, p)
	if err != nil {
		return p.finishError(ctx, src, start, err, log)
	}

	if res.Unchanged {
		log.Debug("pipeline: content unchanged")
		if err := p.store.RecordRunUnchanged(ctx, src.ID); err != nil {
			return p.finishError(ctx, src, start, fmt.Errorf("record unchanged: %w", err), log)
		}
		p.writeRunLog(ctx, src, &store.RunLog{
			Status:     "unchanged",
			DurationMs: p.sinceMs(start),
		}, log)
		return nil
	}

	ded, err := dedupe.Dedupe(ctx, p.store, src.ID, src.OwnerID, res.Candidates, p.now().UnixMilli(), p.newTxnID)
	if err != nil {
		return p.finishError(ctx, src, start, err, log)
	}

	inserted := 0
	if len(ded.New) > 0 {
		inserted, err = p.store.InsertTransactions(ctx, ded.New)
		if err != nil {
			return p.finishError(ctx, src, start, fmt.Errorf("persist transactions: %w", err), log)
		}
		// Rows lost to the unique index raced another writer; they are
		// duplicates, not failures.
		ded.Duplicates += len(ded.New) - inserted
	}

	// The content hash advances only now, after persist, so a crash
	// between extract and insert re-processes the page next cycle.
	if err := p.store.RecordRunSuccess(ctx, src.ID, res.ContentHash, inserted); err != nil {
		return p.finishError(ctx, src, start, fmt.Errorf("record success: %w", err), log)
	}

	status := "success"
	if res.LinksFailed > 0 {
		status = "partial"
	}
	p.writeRunLog(ctx, src, &store.RunLog{
		Status:           status,
		RecordsSeen:      len(res.Candidates),
		NewRecords:       inserted,
		DuplicateRecords: ded.Duplicates,
		DurationMs:       p.sinceMs(start),
	}, log)

	log.Info("pipeline: cycle complete",
		"strategy", res.Strategy,
		"candidates", len(res.Candidates),
		"new_records", inserted,
		"duplicates", ded.Duplicates,
		"links_seen", res.LinksSeen,
		"links_failed", res.LinksFailed)

	if inserted > 0 && p.notifier != nil {
		_ = p.notifier.Notify(ctx, &notify.Event{
			OwnerID:    src.OwnerID,
			SourceID:   src.ID,
			SourceName: src.Name,
			Kind:       notify.KindNewData,
			NewRecords: inserted,
			Duplicates: ded.Duplicates,
			Link:       src.URL,
		})
	}
	return nil
}

// finishError records the failed cycle: source counters, run log, and the
// error notification.
func (p *Pipeline) finishError(ctx context.Context, src *store.Source, start time.Time, cause error, log *slog.Logger) error {
	log.Error("pipeline: cycle failed", "error", cause)

	if err := p.store.RecordRunError(ctx, src.ID, cause.Error()); err != nil {
		log.Error("pipeline: record error state", "error", err)
	}
	p.writeRunLog(ctx, src, &store.RunLog{
		Status:      "error",
		ErrorDetail: cause.Error(),
		DurationMs:  p.sinceMs(start),
	}, log)

	if p.notifier != nil {
		_ = p.notifier.Notify(ctx, &notify.Event{
			OwnerID:    src.OwnerID,
			SourceID:   src.ID,
			SourceName: src.Name,
			Kind:       notify.KindScrapeError,
			ErrDetail:  cause.Error(),
			Link:       src.URL,
		})
	}
	return fmt.Errorf("pipeline: source %s: %w", src.ID, cause)
}

func (p *Pipeline) writeRunLog(ctx context.Context, src *store.Source, rl *store.RunLog, log *slog.Logger) {
	rl.ID = p.newLogID()
	rl.SourceID = src.ID
	rl.OwnerID = src.OwnerID
	rl.CreatedAt = p.now().UnixMilli()
	if err := p.store.InsertRunLog(ctx, rl); err != nil {
		log.Error("pipeline: write run log", "error", err)
	}
}

// fetchPage fetches one page and returns it with its structural hash.
func (p *Pipeline) fetchPage(ctx context.Context, url string, src *store.Source) (*fetch.Result, string, error) {
	res, err := p.fetcher.Fetch(ctx, url, fetch.Options{
		Defended:     src.Defended,
		MinBodyBytes: src.MinBodyBytes,
	})
	if err != nil {
		return nil, "", err
	}
	skeleton := p.normalizer.Structural(string(res.Content))
	sum := sha256.Sum256([]byte(skeleton))
	return res, hex.EncodeToString(sum[:]), nil
}

// fetchDetail fetches one detail link, retrying rate-limited responses on
// the 5s/10s/20s schedule. Non-429 failures are returned immediately.
func (p *Pipeline) fetchDetail(ctx context.Context, url string, src *store.Source) (*fetch.Result, error) {
	var last error
	for attempt := 0; attempt < p.rateLimit.MaxAttempts; attempt++ {
		res, err := p.fetcher.Fetch(ctx, url, fetch.Options{
			Defended:     src.Defended,
			MinBodyBytes: src.MinBodyBytes,
		})
		if err == nil {
			return res, nil
		}
		if !fetch.IsRateLimited(err) {
			return nil, err
		}
		last = err
		if attempt == p.rateLimit.MaxAttempts-1 {
			break
		}
		if serr := p.sleep(ctx, p.rateLimit.Delay(attempt)); serr != nil {
			return nil, serr
		}
	}
	return nil, last
}

// extractFrom runs the strategy chain on one fetched page. Irrelevant or
// structureless pages yield zero candidates without failing.
func (p *Pipeline) extractFrom(ctx context.Context, raw []byte, pageURL string) ([]*extract.Candidate, string, error) {
	in := extract.Input{
		Text:      p.normalizer.Text(string(raw)),
		Markdown:  p.normalizer.Markdown(string(raw), pageURL),
		DetailURL: pageURL,
	}
	cands, strategy, err := p.extractor.Extract(ctx, in)
	if err != nil {
		if errors.Is(err, extract.ErrNotRelevant) || errors.Is(err, extract.ErrNoCandidates) {
			return nil, strategy, nil
		}
		return nil, strategy, err
	}
	return cands, strategy, nil
}

// detailDelay returns the jittered pause between detail fetches.
func (p *Pipeline) detailDelay() time.Duration {
	window := p.cfg.DetailDelayMax - p.cfg.DetailDelayMin
	return p.cfg.DetailDelayMin + time.Duration(rand.Int63n(int64(window)))
}

func (p *Pipeline) sinceMs(start time.Time) int64 {
	return p.now().Sub(start).Milliseconds()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
