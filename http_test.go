package gecwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/gecwatch/gecwatch/internal/store"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// WHAT: the source endpoints cover the full lifecycle: create, list, get,
// update, delete, with a conflict status on duplicate URLs.
func TestHTTPSourceLifecycle(t *testing.T) {
	svc := newTestService(t, &Config{})
	router := svc.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sources", map[string]any{
		"name": "南网招标", "url": "https://bidding.csg.cn/moudle/zbgg.html", "kind": "listing",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created store.Source
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created source has no id")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sources", map[string]any{
		"name": "再来一次", "url": "https://bidding.csg.cn/moudle/zbgg.html",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []*store.Source
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("listed %d sources, want 1", len(listed))
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sources/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	created.Name = "改名"
	rec = doJSON(t, router, http.MethodPut, "/api/v1/sources/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/sources/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/sources/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

// WHAT: bad bodies and bad ids map to 400 and 404, not 500.
func TestHTTPErrorMapping(t *testing.T) {
	svc := newTestService(t, &Config{})
	router := svc.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sources", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sources", map[string]any{
		"name": "x", "url": "ftp://example.cn/a",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad scheme status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sources/src_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing source status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sources/src_missing/scrape", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("scrape missing source status = %d, want 404", rec.Code)
	}
}

// WHAT: read endpoints return empty JSON arrays, never null, and stats
// reflects stored rows.
func TestHTTPReadEndpoints(t *testing.T) {
	svc := newTestService(t, &Config{})
	router := svc.Router()

	for _, path := range []string{
		"/api/v1/transactions",
		"/api/v1/logs",
		"/api/v1/notifications",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
			continue
		}
		if got := rec.Body.String(); got == "null\n" {
			t.Errorf("GET %s returned null, want []", path)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	ctx := context.Background()
	if err := svc.store.InsertSource(ctx, &store.Source{
		ID: "src_1", Name: "a", URL: "https://example.cn/a", Enabled: true,
	}); err != nil {
		t.Fatalf("insert source: %v", err)
	}
	if _, err := svc.store.InsertTransactions(ctx, []*store.Transaction{
		{ID: "txn_1", SourceID: "src_1", ProjectName: "2025年绿证采购", DataHash: "h1"},
	}); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("global transactions status = %d", rec.Code)
	}
	var txns []*store.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txns); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txns) != 1 || txns[0].ID != "txn_1" {
		t.Errorf("global listing = %+v, want txn_1", txns)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Sources != 1 || stats.Transactions != 1 {
		t.Errorf("stats = %+v, want 1 source and 1 transaction", stats)
	}
}

// WHAT: notifications written by the pipeline can be listed and acknowledged.
func TestHTTPNotifications(t *testing.T) {
	svc := newTestService(t, &Config{})
	router := svc.Router()

	n := &store.Notification{ID: "ntf_1", Kind: "new_data", Title: "发现新数据", Message: "m"}
	if err := svc.store.InsertNotification(context.Background(), n); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/notifications?unread=true", nil)
	var notes []*store.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "ntf_1" {
		t.Fatalf("unread list = %+v, want ntf_1", notes)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/notifications/ntf_1/read", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/notifications?unread=true", nil)
	notes = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("unread after ack = %d, want 0", len(notes))
	}
}
