package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/metrics"
	"github.com/dohr-michael/decoded/internal/models"
)

// Backends resolves providers for new sessions. *models.Registry implements it.
type Backends interface {
	Resolve(ctx context.Context, name string) (*models.Backend, error)
	Generation() config.GenerationConfig
}

// MemoryStore keeps sessions in memory. Nothing outlives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	backends Backends
	bus      events.Publisher
	logger   *slog.Logger
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithPublisher routes engine and lifecycle events to p.
func WithPublisher(p events.Publisher) StoreOption {
	return func(s *MemoryStore) { s.bus = p }
}

// WithLogger sets the logger handed to each engine.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(backends Backends, opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		backends: backends,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a session on provider, or on the default provider when provider is empty.
func (s *MemoryStore) Create(ctx context.Context, provider string) (*Session, error) {
	backend, err := s.backends.Resolve(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	id := generateSessionID()
	opts := backend.EngineOptions(s.backends.Generation())
	opts = append(opts,
		generation.WithSession(id),
		generation.WithLogger(s.logger.With("session", id, "provider", backend.Name)),
	)
	if s.bus != nil {
		opts = append(opts, generation.WithEvents(s.bus))
	}

	sess := &Session{
		ID:        id,
		Provider:  backend.Name,
		Model:     backend.Model,
		Streaming: backend.CanStream(),
		CreatedAt: time.Now(),
		Engine:    generation.NewEngine(backend.Source, opts...),
	}
	sess.Touch()

	s.mu.Lock()
	s.sessions[id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	s.publish(id, events.SessionCreatedPayload{Provider: backend.Name, Model: backend.Model})
	slog.Info("session created", "session", id, "provider", backend.Name, "model", backend.Model)
	return sess, nil
}

// Get returns a live session and marks it as used.
func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Touch()
	return sess, nil
}

// List returns the live sessions, most recently created first.
func (s *MemoryStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the session's engine and forgets it.
func (s *MemoryStore) Close(id, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.shutdown(sess, reason)
	metrics.ActiveSessions.Set(float64(n))
	return nil
}

// Reap closes sessions idle for longer than maxIdle. Sessions with an operation in
// flight are never reaped. Returns the number of closed sessions.
func (s *MemoryStore) Reap(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	var idle []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) && !sess.Busy() {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range idle {
		s.shutdown(sess, "idle")
	}
	if len(idle) > 0 {
		metrics.ActiveSessions.Set(float64(n))
		slog.Info("idle sessions reaped", "count", len(idle), "remaining", n)
	}
	return len(idle)
}

// CloseAll closes every session; used on shutdown.
func (s *MemoryStore) CloseAll(reason string) {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		s.shutdown(sess, reason)
	}
	metrics.ActiveSessions.Set(0)
}

func (s *MemoryStore) shutdown(sess *Session, reason string) {
	sess.status.Store(SessionClosed)
	sess.Engine.Stop()
	s.publish(sess.ID, events.SessionClosedPayload{Reason: reason})
	slog.Debug("session closed", "session", sess.ID, "reason", reason)
}

func (s *MemoryStore) publish(sessionID string, p events.EventPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewTypedEventWithSession(events.SourceGateway, p, sessionID))
}
