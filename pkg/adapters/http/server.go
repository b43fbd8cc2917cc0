package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider is the session pipeline exposed over HTTP.
type Provider interface {
	CreateNewStoreData(timeout time.Duration) *domain.Record
	CreateUninitializedItem(ctx context.Context, id string, timeout time.Duration) error
	GetItem(ctx context.Context, id string) (*domain.GetItemResult, error)
	GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error)
	SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error
	ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error
	ResetItemTimeout(ctx context.Context, id string) error
	RemoveItem(ctx context.Context, id string, lockID domain.LockID) error
	Expirations() <-chan domain.ExpiredSession
	Version() string
}

// SessionView is the JSON representation of a session.
type SessionView struct {
	ID      string         `json:"id"`
	Timeout string         `json:"timeout"`
	Keys    []string       `json:"keys"`
	Items   map[string]any `json:"items"`
}

func newView(id string, rec *domain.Record) SessionView {
	keys := rec.Items.Keys()
	if keys == nil {
		keys = []string{}
	}
	return SessionView{
		ID:      id,
		Timeout: rec.Timeout.String(),
		Keys:    keys,
		Items:   rec.Items.All(),
	}
}

// Server routes session requests to a Provider.
type Server struct {
	Provider Provider
	Streams  *StreamManager

	router   chi.Router
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer exposes g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewHandler creates the HTTP handler for provider.
func NewHandler(provider Provider, opts ...Option) *Server {
	s := &Server{
		Provider: provider,
		Streams:  NewStreamManager(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger

	r := chi.NewRouter()
	r.Use(enableCORS)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Get("/", s.GetSession)
		r.Delete("/", s.RemoveSession)
		r.Post("/touch", s.TouchSession)
		r.Put("/items/{key}", s.SetItem)
		r.Delete("/items/{key}", s.DeleteItem)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Pump forwards session ends from the provider to event subscribers until ctx ends.
// Calling it subscribes the provider to expirations.
func (s *Server) Pump(ctx context.Context) {
	events := s.Provider.Expirations()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.logger.Info("Session expired", "session_id", ev.ID)
			var view SessionView
			if ev.Record != nil {
				view = newView(ev.ID, ev.Record)
			} else {
				view = SessionView{ID: ev.ID}
			}
			if data, err := json.Marshal(view); err == nil {
				s.Streams.Broadcast(string(data))
			}
		}
	}
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateSession handles POST /sessions/{id}?timeout=20m.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	if err := s.Provider.CreateUninitializedItem(r.Context(), id, timeout); err != nil {
		s.fail(w, "CreateSession", id, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.Provider.GetItem(r.Context(), id)
	if err != nil {
		s.fail(w, "GetSession", id, err)
		return
	}
	if res.Locked {
		http.Error(w, "Session is locked", http.StatusLocked)
		return
	}
	if res.Record == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newView(id, res.Record))
}

// SetItem handles PUT /sessions/{id}/items/{key}. Missing sessions are created.
func (s *Server) SetItem(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "key")
	s.update(w, r, func(items *domain.Items) { items.Set(key, value) })
}

// DeleteItem handles DELETE /sessions/{id}/items/{key}.
func (s *Server) DeleteItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.update(w, r, func(items *domain.Items) { items.Delete(key) })
}

// update runs mutate under the session lock and writes the result back.
func (s *Server) update(w http.ResponseWriter, r *http.Request, mutate func(*domain.Items)) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	res, err := s.Provider.GetItemExclusive(ctx, id)
	if err != nil {
		s.fail(w, "GetItemExclusive", id, err)
		return
	}
	if res.Locked {
		http.Error(w, "Session is locked", http.StatusLocked)
		return
	}

	rec, newItem := res.Record, res.Record == nil
	if newItem {
		rec = s.Provider.CreateNewStoreData(0)
	}
	mutate(rec.Items)

	if err := s.Provider.SetAndReleaseItemExclusive(ctx, id, rec, res.LockID, newItem); err != nil {
		s.fail(w, "SetAndReleaseItemExclusive", id, err)
		return
	}
	writeJSON(w, http.StatusOK, newView(id, rec))
}

// RemoveSession handles DELETE /sessions/{id}.
func (s *Server) RemoveSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	res, err := s.Provider.GetItemExclusive(ctx, id)
	if err != nil {
		s.fail(w, "GetItemExclusive", id, err)
		return
	}
	if res.Locked {
		http.Error(w, "Session is locked", http.StatusLocked)
		return
	}
	if res.Record == nil {
		_ = s.Provider.ReleaseItemExclusive(ctx, id, res.LockID)
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err := s.Provider.RemoveItem(ctx, id, res.LockID); err != nil {
		s.fail(w, "RemoveItem", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TouchSession handles POST /sessions/{id}/touch.
func (s *Server) TouchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Provider.ResetItemTimeout(r.Context(), id); err != nil {
		s.fail(w, "ResetItemTimeout", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":             "sessionstate-http",
		"session_version": s.Provider.Version(),
	})
}

// SubscribeEvents handles the GET /events request (SSE of session ends).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: expired\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrLockNotHeld):
		http.Error(w, "Session lock lost", http.StatusConflict)
	case errors.Is(err, domain.ErrStoreUnavailable):
		http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
	s.logger.Error(op+" failed", "session_id", id, "err", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
