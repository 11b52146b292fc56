package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gecwatch/gecwatch/internal/extract"
	"github.com/gecwatch/gecwatch/internal/fetch"
	"github.com/gecwatch/gecwatch/internal/normalize"
	"github.com/gecwatch/gecwatch/internal/notify"
	"github.com/gecwatch/gecwatch/internal/store"
)

// announcementHTML renders a minimal procurement announcement page.
func announcementHTML(number, name, overview string) string {
	return fmt.Sprintf(`<html><body>
<p>采购编号：%s</p>
<p>1.1.项目名称：%s</p>
<p>1.3.项目概况：%s</p>
<p>1.4.采购人：南方电网</p>
<p>本次采购为跨省绿证交易。</p>
</body></html>`, number, name, overview)
}

const defaultOverview = "本次采购2480张绿证，单张限价为6.5元，共计16120元。"

type recordingNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, ev *notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testRig struct {
	pipeline *Pipeline
	store    *store.Store
	notifier *recordingNotifier
	slept    []time.Duration
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rig := &testRig{store: st, notifier: &recordingNotifier{}}
	fetcher := fetch.New(fetch.Config{
		Timeout:      5 * time.Second,
		ProxyBase:    "http://proxy.invalid",
		Retry:        fetch.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, JitterWindow: time.Millisecond},
		URLValidator: func(string) error { return nil },
	})
	rig.pipeline = New(fetcher, normalize.New(), extract.New(nil), st, rig.notifier, nil, cfg)
	rig.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		rig.slept = append(rig.slept, d)
		return nil
	}
	return rig
}

func (r *testRig) addSource(t *testing.T, src *store.Source) *store.Source {
	t.Helper()
	if err := r.store.InsertSource(context.Background(), src); err != nil {
		t.Fatalf("insert source: %v", err)
	}
	return src
}

func (r *testRig) reload(t *testing.T, id string) *store.Source {
	t.Helper()
	src, err := r.store.GetSource(context.Background(), id)
	if err != nil || src == nil {
		t.Fatalf("reload source: %v", err)
	}
	return src
}

// WHAT: a full single-source cycle stores the extracted record, advances
// the content hash, writes a success run log, and emits one new-data
// notification; re-running against unchanged content short-circuits with
// an unchanged log and no notification.
func TestRunSingleSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, announcementHTML("ABC123", "2025年绿证采购", defaultOverview))
	}))
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "采购公告", URL: srv.URL, Kind: "single", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	txns, err := rig.store.ListTransactions(ctx, "src_1", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txns))
	}
	txn := txns[0]
	if txn.ProjectName != "2025年绿证采购" {
		t.Errorf("ProjectName = %q", txn.ProjectName)
	}
	if txn.TotalPrice == nil || *txn.TotalPrice != 16120 {
		t.Errorf("TotalPrice = %v, want 16120", txn.TotalPrice)
	}
	if txn.Quantity == nil || *txn.Quantity != 2480 {
		t.Errorf("Quantity = %v, want 2480", txn.Quantity)
	}
	if txn.ProcurementNumber == nil || *txn.ProcurementNumber != "ABC123" {
		t.Errorf("ProcurementNumber = %v", txn.ProcurementNumber)
	}

	after := rig.reload(t, "src_1")
	if after.LastContentHash == "" || after.LastStatus != "success" || after.TotalNewRecords != 1 {
		t.Errorf("source after run = hash %q status %q new %d",
			after.LastContentHash, after.LastStatus, after.TotalNewRecords)
	}

	logs, err := rig.store.ListRunLogs(ctx, "src_1", 10)
	if err != nil {
		t.Fatalf("list run logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != "success" || logs[0].NewRecords != 1 {
		t.Errorf("run log = %+v", logs[0])
	}
	if kinds := rig.notifier.kinds(); len(kinds) != 1 || kinds[0] != notify.KindNewData {
		t.Errorf("notifications = %v, want one new_data", kinds)
	}

	// Second cycle: identical content short-circuits.
	if err := rig.pipeline.Run(ctx, rig.reload(t, "src_1")); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	logs, _ = rig.store.ListRunLogs(ctx, "src_1", 10)
	if len(logs) != 2 || logs[0].Status != "unchanged" {
		t.Errorf("second run log = %+v", logs[0])
	}
	if kinds := rig.notifier.kinds(); len(kinds) != 1 {
		t.Errorf("notifications after unchanged run = %v, want still one", kinds)
	}
}

// WHAT: content that changed without producing new records writes a
// success log with zero new records and stays silent.
// WHY: notification fires on new data, not on page noise.
func TestRunRevisedContentNoNewRecords(t *testing.T) {
	suffix := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, announcementHTML("ABC123", "2025年绿证采购", defaultOverview))
		fmt.Fprint(w, suffix)
	}))
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "采购公告", URL: srv.URL, Kind: "single", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	suffix = "<p>页面其他位置的无关修订</p>"
	if err := rig.pipeline.Run(ctx, rig.reload(t, "src_1")); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	txns, _ := rig.store.ListTransactions(ctx, "src_1", 10)
	if len(txns) != 1 {
		t.Errorf("transactions = %d, want still 1", len(txns))
	}
	logs, _ := rig.store.ListRunLogs(ctx, "src_1", 10)
	if logs[0].Status != "success" || logs[0].NewRecords != 0 || logs[0].DuplicateRecords != 1 {
		t.Errorf("second run log = %+v", logs[0])
	}
	if kinds := rig.notifier.kinds(); len(kinds) != 1 {
		t.Errorf("notifications = %v, want only the first run's", kinds)
	}
}

// WHAT: a failing fetch records the error on the source, writes an error
// run log, emits a scrape-error notification, and keeps the prior hash.
func TestRunFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "采购公告", URL: srv.URL, Kind: "single", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err == nil {
		t.Fatal("expected cycle error")
	}

	after := rig.reload(t, "src_1")
	if after.LastStatus != "error" || after.ConsecFailures != 1 || after.LastContentHash != "" {
		t.Errorf("source after failed run = %+v", after)
	}
	logs, _ := rig.store.ListRunLogs(ctx, "src_1", 10)
	if len(logs) != 1 || logs[0].Status != "error" || logs[0].ErrorDetail == "" {
		t.Errorf("run log = %+v", logs[0])
	}
	if kinds := rig.notifier.kinds(); len(kinds) != 1 || kinds[0] != notify.KindScrapeError {
		t.Errorf("notifications = %v, want one scrape_error", kinds)
	}
}

// WHAT: a listing cycle discovers detail links, fetches them sequentially
// with a jittered pause, and stores one record per announcement.
func TestRunListingSource(t *testing.T) {
	mux := http.NewServeMux()
	var detailHits []string
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<body>绿证采购公告列表
<a href="/detail/10000001.html">公告一</a>
<a href="/detail/10000002.html">公告二</a>
</body>`)
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, r *http.Request) {
		detailHits = append(detailHits, r.URL.Path)
		switch r.URL.Path {
		case "/detail/10000001.html":
			fmt.Fprint(w, announcementHTML("AAA111", "2024年绿证采购一期", defaultOverview))
		default:
			fmt.Fprint(w, announcementHTML("BBB222", "2024年绿证采购二期", "本次采购1000张绿证，共计6500元。"))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "公告列表", URL: srv.URL + "/list", Kind: "listing", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(detailHits) != 2 || detailHits[0] != "/detail/10000001.html" {
		t.Errorf("detail fetch order = %v", detailHits)
	}
	// One pause between the two detail fetches, inside the jitter window.
	if len(rig.slept) != 1 {
		t.Fatalf("pauses = %d, want 1", len(rig.slept))
	}
	if d := rig.slept[0]; d < 500*time.Millisecond || d > 2*time.Second {
		t.Errorf("pause = %v, want within 500ms..2s", d)
	}

	txns, _ := rig.store.ListTransactions(ctx, "src_1", 10)
	if len(txns) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txns))
	}
	logs, _ := rig.store.ListRunLogs(ctx, "src_1", 10)
	if logs[0].Status != "success" || logs[0].NewRecords != 2 {
		t.Errorf("run log = %+v", logs[0])
	}
}

// WHAT: one dead detail link degrades the cycle to partial; the healthy
// links still produce records.
// WHY: per-link isolation is the listing contract — one 404 must not
// discard a page of good announcements.
func TestRunListingPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<body>绿证公告
<a href="/detail/10000001.html">好公告</a>
<a href="/detail/10000002.html">坏公告</a>
</body>`)
	})
	mux.HandleFunc("/detail/10000001.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, announcementHTML("AAA111", "2024年绿证采购", defaultOverview))
	})
	mux.HandleFunc("/detail/10000002.html", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "公告列表", URL: srv.URL + "/list", Kind: "listing", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	txns, _ := rig.store.ListTransactions(ctx, "src_1", 10)
	if len(txns) != 1 {
		t.Errorf("transactions = %d, want 1 from the healthy link", len(txns))
	}
	logs, _ := rig.store.ListRunLogs(ctx, "src_1", 10)
	if logs[0].Status != "partial" {
		t.Errorf("run log status = %q, want partial", logs[0].Status)
	}
}

// WHAT: a detail link answering 429 is retried on the 5s/10s/20s schedule
// and then marked failed while the cycle continues.
func TestRunListingRateLimitedLink(t *testing.T) {
	var rlHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<body>绿证公告
<a href="/detail/10000001.html">被限流</a>
<a href="/detail/10000002.html">正常</a>
</body>`)
	})
	mux.HandleFunc("/detail/10000001.html", func(w http.ResponseWriter, r *http.Request) {
		rlHits++
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/detail/10000002.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, announcementHTML("AAA111", "2024年绿证采购", defaultOverview))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rig := newTestRig(t, Config{})
	src := rig.addSource(t, &store.Source{
		ID: "src_1", OwnerID: "owner_1", Name: "公告列表", URL: srv.URL + "/list", Kind: "listing", Enabled: true,
	})
	ctx := context.Background()

	if err := rig.pipeline.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Three backoff pauses for the throttled link, strictly increasing
	// near 5s/10s/20s, plus the inter-link pause.
	var backoffs []time.Duration
	for _, d := range rig.slept {
		if d >= 4*time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 3 {
		t.Fatalf("backoff pauses = %v, want 3", backoffs)
	}
	for i := 1; i < len(backoffs); i++ {
		if backoffs[i] <= backoffs[i-1] {
			t.Errorf("backoffs not increasing: %v", backoffs)
		}
	}

	txns, _ := rig.store.ListTransactions(ctx, "src_1", 10)
	if len(txns) != 1 {
		t.Errorf("transactions = %d, want 1 from the healthy link", len(txns))
	}
	logs, _ := rig.store.ListRunLogs(ctx, "src_1", 10)
	if logs[0].Status != "partial" {
		t.Errorf("run log status = %q, want partial", logs[0].Status)
	}

	// Each of the four channel walks is one attempt against the server
	// per channel; the exact count depends on the channel list, but the
	// link must have been tried more than once overall.
	if rlHits < 4 {
		t.Errorf("rate-limited link hits = %d, want the retry schedule applied", rlHits)
	}
}
