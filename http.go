package gecwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gecwatch/gecwatch/internal/store"
)

// Router returns the HTTP API for the service.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)

	r.Route("/api/v1/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleAddSource)
		r.Get("/{id}", s.handleGetSource)
		r.Put("/{id}", s.handleUpdateSource)
		r.Delete("/{id}", s.handleDeleteSource)
		r.Post("/{id}/scrape", s.handleScrapeSource)
		r.Get("/{id}/transactions", s.handleListTransactions)
		r.Get("/{id}/logs", s.handleListRunLogs)
	})

	r.Post("/api/v1/scrape", s.handleScrapeAll)
	r.Get("/api/v1/transactions", s.handleListTransactions)
	r.Get("/api/v1/logs", s.handleListRunLogs)
	r.Get("/api/v1/notifications", s.handleListNotifications)
	r.Post("/api/v1/notifications/{id}/read", s.handleMarkNotificationRead)

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ListSources(r.Context())
	if err != nil {
		s.serveError(w, err)
		return
	}
	if sources == nil {
		sources = []*store.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Service) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var src store.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.AddSource(r.Context(), &src)
	if errors.Is(err, ErrDuplicateSource) {
		writeJSON(w, http.StatusConflict, created)
		return
	}
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Service) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Service) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var src store.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	src.ID = chi.URLParam(r, "id")
	if err := s.UpdateSource(r.Context(), &src); err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &src)
}

func (s *Service) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteSource(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScrapeSource runs one source synchronously. Long defended chains
// can take a while; clients should set a generous timeout.
func (s *Service) handleScrapeSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.RunSource(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.serveError(w, err)
			return
		}
		// The cycle itself recorded the failure; report it to the caller.
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"source_id": id,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source_id": id, "status": "done"})
}

func (s *Service) handleScrapeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.RunAll(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

func (s *Service) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.Transactions(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	if txns == nil {
		txns = []*store.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Service) handleListRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.RunLogs(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	if logs == nil {
		logs = []*store.RunLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Service) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	notes, err := s.Notifications(r.Context(), unread, queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	if notes == nil {
		notes = []*store.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Service) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.MarkNotificationRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
