package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gecwatch/gecwatch/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertSource(t *testing.T, st *store.Store, src *store.Source) {
	t.Helper()
	if err := st.InsertSource(context.Background(), src); err != nil {
		t.Fatalf("insert source: %v", err)
	}
}

// WHAT: a tick runs every due source concurrently, waits for all of them,
// and isolates one cycle's failure from its siblings.
func TestTickFanOut(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().Add(-48 * time.Hour).UnixMilli()
	for _, id := range []string{"src_a", "src_b", "src_c"} {
		insertSource(t, st, &store.Source{
			ID: id, Name: id, URL: "https://example.cn/" + id,
			Enabled: true, IntervalHours: 24, LastScrapedAt: &past,
		})
	}

	var mu sync.Mutex
	ran := map[string]bool{}
	run := func(ctx context.Context, src *store.Source) error {
		mu.Lock()
		ran[src.ID] = true
		mu.Unlock()
		if src.ID == "src_b" {
			return errors.New("cycle failed")
		}
		return nil
	}

	s := New(st, run, Config{}, slog.New(slog.DiscardHandler))
	if n := s.Tick(context.Background()); n != 3 {
		t.Errorf("Tick ran %d sources, want 3", n)
	}
	if len(ran) != 3 {
		t.Errorf("ran = %v, want all three despite src_b failing", ran)
	}
}

// WHAT: never-scraped sources are due immediately; freshly scraped ones
// are not; chronically failing ones are skipped.
func TestTickDueSelection(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UnixMilli()

	insertSource(t, st, &store.Source{
		ID: "src_new", Name: "new", URL: "https://example.cn/new", Enabled: true, IntervalHours: 24,
	})
	insertSource(t, st, &store.Source{
		ID: "src_fresh", Name: "fresh", URL: "https://example.cn/fresh",
		Enabled: true, IntervalHours: 24, LastScrapedAt: &now,
	})
	failing := &store.Source{
		ID: "src_dead", Name: "dead", URL: "https://example.cn/dead",
		Enabled: true, IntervalHours: 24,
	}
	insertSource(t, st, failing)
	for i := 0; i < 6; i++ {
		if err := st.RecordRunError(context.Background(), "src_dead", "boom"); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}
	// Age the failing source so the failure cap, not recency, excludes it.
	past := time.Now().Add(-48 * time.Hour).UnixMilli()
	if _, err := st.DB.Exec(`UPDATE sources SET last_scraped_at = ? WHERE id = 'src_dead'`, past); err != nil {
		t.Fatalf("age source: %v", err)
	}

	var mu sync.Mutex
	var ran []string
	run := func(ctx context.Context, src *store.Source) error {
		mu.Lock()
		ran = append(ran, src.ID)
		mu.Unlock()
		return nil
	}

	s := New(st, run, Config{MaxFailures: 5}, slog.New(slog.DiscardHandler))
	s.Tick(context.Background())

	if len(ran) != 1 || ran[0] != "src_new" {
		t.Errorf("ran = %v, want only src_new", ran)
	}
}

// WHAT: Run polls immediately, then stops when the context is cancelled.
func TestRunStopsOnCancel(t *testing.T) {
	st := openTestStore(t)
	insertSource(t, st, &store.Source{
		ID: "src_a", Name: "a", URL: "https://example.cn/a", Enabled: true, IntervalHours: 24,
	})

	ticks := make(chan string, 10)
	run := func(ctx context.Context, src *store.Source) error {
		ticks <- src.ID
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s := New(st, run, Config{CheckInterval: time.Hour}, slog.New(slog.DiscardHandler))
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("no immediate tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
