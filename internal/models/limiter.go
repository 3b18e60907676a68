package models

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/generation"
)

// slots bounds in-flight upstream requests for one provider. A stream holds its slot
// until its body is closed.
type slots struct {
	provider string
	ch       chan struct{}
}

func newSlots(provider string, n int) *slots {
	if n <= 0 {
		n = 1
	}
	return &slots{provider: provider, ch: make(chan struct{}, n)}
}

func (s *slots) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		slog.Debug("provider slot acquired", "provider", s.provider,
			"session", events.SessionIDFromContext(ctx), "in_use", len(s.ch))
		return nil
	case <-ctx.Done():
		return completion.WrapTransport(ctx, "acquire "+s.provider+" slot", ctx.Err())
	}
}

func (s *slots) release() { <-s.ch }

// InUse returns the number of held slots.
func (s *slots) InUse() int { return len(s.ch) }

type limitedSource struct {
	inner generation.CandidateSource
	slots *slots
}

func (l *limitedSource) FetchCandidates(ctx context.Context, prompt string, params generation.SamplingParameters) ([]generation.Candidate, error) {
	if err := l.slots.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.slots.release()
	return l.inner.FetchCandidates(ctx, prompt, params)
}

type limitedStreamer struct {
	inner generation.StreamOpener
	slots *slots
}

func (l *limitedStreamer) OpenStream(ctx context.Context, prompt string, params generation.SamplingParameters, maxTokens int) (io.ReadCloser, error) {
	if err := l.slots.acquire(ctx); err != nil {
		return nil, err
	}
	body, err := l.inner.OpenStream(ctx, prompt, params, maxTokens)
	if err != nil {
		l.slots.release()
		return nil, err
	}
	return &slotBody{ReadCloser: body, release: l.slots.release}, nil
}

type slotBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *slotBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
