// Package sessions keeps the live generation sessions of a gateway.
package sessions

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/decoded/internal/generation"
)

// ErrNotFound is returned for unknown or closed session IDs.
var ErrNotFound = errors.New("session not found")

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session binds one generation engine to the provider it was created with.
type Session struct {
	ID        string
	Provider  string
	Model     string
	Streaming bool
	CreatedAt time.Time
	Engine    *generation.Engine

	lastActive atomic.Int64
	status     atomic.Value
}

// Info is the wire view of a session.
type Info struct {
	ID         string              `json:"id"`
	Provider   string              `json:"provider"`
	Model      string              `json:"model,omitempty"`
	Streaming  bool                `json:"streaming"`
	Status     SessionStatus       `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	LastActive time.Time           `json:"last_active"`
	State      generation.Snapshot `json:"state"`
}

// Touch marks the session as used now.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the last time the session was used.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Status returns the lifecycle state.
func (s *Session) Status() SessionStatus {
	if v, ok := s.status.Load().(SessionStatus); ok {
		return v
	}
	return SessionActive
}

// Busy reports whether an operation is driving the engine.
func (s *Session) Busy() bool {
	switch s.Engine.Mode() {
	case generation.ModeSimulating, generation.ModeStreaming:
		return true
	}
	return s.Engine.Snapshot().Fetching
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		Provider:   s.Provider,
		Model:      s.Model,
		Streaming:  s.Streaming,
		Status:     s.Status(),
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		State:      s.Engine.Snapshot(),
	}
}

// Store defines the session registry.
type Store interface {
	Create(ctx context.Context, provider string) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Close(id, reason string) error
	Reap(maxIdle time.Duration) int
	Len() int
}

func generateSessionID() string {
	u := uuid.New().String()
	return "sess_" + strings.ReplaceAll(u[:8], "-", "")
}
