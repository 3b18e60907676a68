package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dohr-michael/decoded/internal/gateway/ws"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/models"
	"github.com/dohr-michael/decoded/internal/sessions"
)

// Request parameters shared by the REST handlers and WS request frames.
type (
	SessionParams struct {
		SessionID string `json:"session_id"`
	}

	CreateParams struct {
		Provider string `json:"provider"`
	}

	ManualParams struct {
		SessionID string `json:"session_id"`
		Seed      string `json:"seed"`
	}

	ChooseParams struct {
		SessionID string `json:"session_id"`
		Index     *int   `json:"index"`
	}

	StreamParams struct {
		SessionID string `json:"session_id"`
		Seed      string `json:"seed"`
		MaxTokens int    `json:"max_tokens"`
	}

	SamplingParams struct {
		SessionID   string   `json:"session_id"`
		Model       *string  `json:"model"`
		Temperature *float64 `json:"temperature"`
		TopP        *float64 `json:"top_p"`
	}
)

// ProviderLister lists configured providers. *models.Registry implements it.
type ProviderLister interface {
	List() []models.ProviderInfo
}

// Controller runs session operations. Manual operations block the caller; simulate
// and stream are started in the background, bound to the controller's lifetime.
type Controller struct {
	store     *sessions.MemoryStore
	providers ProviderLister

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller over store.
func NewController(store *sessions.MemoryStore, providers ProviderLister) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{store: store, providers: providers, ctx: ctx, cancel: cancel}
}

// Shutdown cancels background runs and waits for them to return.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// Create opens a new session.
func (c *Controller) Create(ctx context.Context, p CreateParams) (sessions.Info, error) {
	sess, err := c.store.Create(ctx, p.Provider)
	if err != nil {
		return sessions.Info{}, err
	}
	return sess.Info(), nil
}

// Get returns the session state.
func (c *Controller) Get(p SessionParams) (sessions.Info, error) {
	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		return sessions.Info{}, err
	}
	return sess.Info(), nil
}

// List returns every live session.
func (c *Controller) List() []sessions.Info {
	list := c.store.List()
	out := make([]sessions.Info, len(list))
	for i, s := range list {
		out[i] = s.Info()
	}
	return out
}

// Close stops and forgets a session.
func (c *Controller) Close(p SessionParams) error {
	return c.store.Close(p.SessionID, "closed by client")
}

// Manual starts manual stepping from a seed and waits for the first candidates.
func (c *Controller) Manual(ctx context.Context, p ManualParams) (sessions.Info, error) {
	return c.run(p.SessionID, func(s *sessions.Session) error {
		return s.Engine.StartManual(ctx, p.Seed)
	})
}

// Choose accepts a candidate and waits for the next ones.
func (c *Controller) Choose(ctx context.Context, p ChooseParams) (sessions.Info, error) {
	if p.Index == nil {
		return sessions.Info{}, fmt.Errorf("%w: missing index", generation.ErrInvalidChoice)
	}
	return c.run(p.SessionID, func(s *sessions.Session) error {
		return s.Engine.Choose(ctx, *p.Index)
	})
}

// Continue refreshes candidates for the current text without clearing it.
func (c *Controller) Continue(ctx context.Context, p SessionParams) (sessions.Info, error) {
	return c.run(p.SessionID, func(s *sessions.Session) error {
		return s.Engine.Continue(ctx)
	})
}

// Simulate starts auto-simulation in the background.
func (c *Controller) Simulate(p SessionParams) (sessions.Info, error) {
	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		return sessions.Info{}, err
	}
	if sess.Engine.Snapshot().Seed == "" {
		return sessions.Info{}, generation.ErrNoSeed
	}
	c.background(sess, "simulate", func(ctx context.Context) error {
		return sess.Engine.Simulate(ctx)
	})
	return sess.Info(), nil
}

// Stream starts a streaming run in the background.
func (c *Controller) Stream(p StreamParams) (sessions.Info, error) {
	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		return sessions.Info{}, err
	}
	if !sess.Streaming {
		return sessions.Info{}, generation.ErrStreamingUnsupported
	}
	if strings.TrimSpace(p.Seed) == "" {
		return sessions.Info{}, generation.ErrNoSeed
	}
	c.background(sess, "stream", func(ctx context.Context) error {
		return sess.Engine.Stream(ctx, p.Seed, p.MaxTokens)
	})
	return sess.Info(), nil
}

// Stop cancels whatever the session is running.
func (c *Controller) Stop(p SessionParams) (sessions.Info, error) {
	return c.run(p.SessionID, func(s *sessions.Session) error {
		s.Engine.Stop()
		return nil
	})
}

// Reset clears the accepted tokens, keeping the seed.
func (c *Controller) Reset(p SessionParams) (sessions.Info, error) {
	return c.run(p.SessionID, func(s *sessions.Session) error {
		s.Engine.Reset()
		return nil
	})
}

// SetSampling updates the session's sampling parameters. Omitted fields keep their
// current value.
func (c *Controller) SetSampling(p SamplingParams) (sessions.Info, error) {
	return c.run(p.SessionID, func(s *sessions.Session) error {
		params := s.Engine.Sampling()
		if p.Model != nil {
			params.Model = *p.Model
		}
		if p.Temperature != nil {
			params.Temperature = *p.Temperature
		}
		if p.TopP != nil {
			params.TopP = *p.TopP
		}
		return s.Engine.SetSampling(params)
	})
}

// Providers lists the configured providers.
func (c *Controller) Providers() []models.ProviderInfo {
	if c.providers == nil {
		return []models.ProviderInfo{}
	}
	return c.providers.List()
}

// Dispatch implements ws.Dispatcher.
func (c *Controller) Dispatch(ctx context.Context, method ws.Method, raw json.RawMessage) (any, error) {
	switch method {
	case ws.MethodCreateSession:
		var p CreateParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Create(ctx, p)
	case ws.MethodGetSession:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Get(p)
	case ws.MethodListSessions:
		return c.List(), nil
	case ws.MethodCloseSession:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := c.Close(p); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed"}, nil
	case ws.MethodManual:
		var p ManualParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Manual(ctx, p)
	case ws.MethodChoose:
		var p ChooseParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Choose(ctx, p)
	case ws.MethodContinue:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Continue(ctx, p)
	case ws.MethodSimulate:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Simulate(p)
	case ws.MethodStream:
		var p StreamParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Stream(p)
	case ws.MethodStop:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Stop(p)
	case ws.MethodReset:
		var p SessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.Reset(p)
	case ws.MethodSetSampling:
		var p SamplingParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return c.SetSampling(p)
	case ws.MethodListProviders:
		return c.Providers(), nil
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

// run executes op on a live session and returns its state afterwards. Upstream errors
// are rewritten for display.
func (c *Controller) run(id string, op func(*sessions.Session) error) (sessions.Info, error) {
	sess, err := c.store.Get(id)
	if err != nil {
		return sessions.Info{}, err
	}
	if err := op(sess); err != nil {
		return sess.Info(), models.HandleError(err)
	}
	return sess.Info(), nil
}

func (c *Controller) background(sess *sessions.Session, op string, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.ctx); err != nil {
			slog.Warn("background run failed", "op", op, "session", sess.ID, "error", models.HandleError(err))
		}
	}()
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &paramsError{err: err}
	}
	return nil
}

// paramsError reports a request body that could not be decoded.
type paramsError struct{ err error }

func (e *paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }
