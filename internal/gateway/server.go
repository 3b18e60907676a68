// Package gateway exposes generation sessions over HTTP and WebSocket.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/gateway/ws"
	"github.com/dohr-michael/decoded/internal/metrics"
	"github.com/dohr-michael/decoded/internal/sessions"
)

// Server is the decoded gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      *sessions.MemoryStore
	ctrl       *Controller

	sessionTimeout time.Duration
	addr           string
	started        time.Time
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, store *sessions.MemoryStore, providers ProviderLister, cfg config.GatewayConfig) *Server {
	ctrl := NewController(store, providers)
	hub := ws.NewHub(bus, ctrl)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:            hub,
		bus:            bus,
		store:          store,
		ctrl:           ctrl,
		sessionTimeout: cfg.SessionTimeout.Duration(),
		started:        time.Now(),
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/providers", s.handleProviders)
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Post("/manual", s.handleManual)
			r.Post("/choose", s.handleChoose)
			r.Post("/continue", s.handleContinue)
			r.Post("/simulate", s.handleSimulate)
			r.Post("/stream", s.handleStream)
			r.Post("/stop", s.handleStop)
			r.Post("/reset", s.handleReset)
			r.Put("/sampling", s.handleSampling)
		})
	})

	s.addr = cfg.Addr()
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	return s
}

// Handler returns the HTTP handler; used by tests and embedding callers.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and reaping idle sessions. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	slog.Info("decoded gateway listening", "addr", s.addr)

	go s.reapLoop(s.ctrl.ctx)
	return s.httpServer.Serve(ln)
}

// Shutdown stops background runs, closes every session and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ctrl.Shutdown()
	s.store.CloseAll("shutdown")
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) reapLoop(ctx context.Context) {
	if s.sessionTimeout <= 0 {
		return
	}
	interval := s.sessionTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.store.Reap(s.sessionTimeout)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sessions":       s.store.Len(),
		"ws_clients":     s.hub.Clients(),
		"events_dropped": s.bus.Dropped(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// metricsHandler samples the bus drop count on every scrape.
func (s *Server) metricsHandler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.EventsDropped.Set(float64(s.bus.Dropped()))
		h.ServeHTTP(w, r)
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, &paramsError{err: errInvalidLimit})
			return
		}
		limit = n
	}

	history := s.bus.History(limit)
	sessionID := r.URL.Query().Get("session_id")

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, 0, len(history))
	for _, e := range history {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		result = append(result, eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Providers())
}
