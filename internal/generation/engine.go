// Package generation implements the token generation engine: manual stepping,
// auto-simulation and streaming over one shared session.
package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/metrics"
)

// Mode is the engine state.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeManual     Mode = "manual"
	ModeSimulating Mode = "simulating"
	ModeStreaming  Mode = "streaming"
	ModeDone       Mode = "done"
)

// Completion reasons.
const (
	ReasonSim  = "sim"
	ReasonAuto = "auto"
)

// Engine defaults.
const (
	DefaultMaxSteps        = 15
	DefaultStepDelay       = 1200 * time.Millisecond
	DefaultStreamMaxTokens = 150
)

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Seed             string             `json:"seed"`
	AcceptedTokens   []string           `json:"accepted_tokens"`
	Candidates       []Candidate        `json:"candidates"`
	Mode             Mode               `json:"mode"`
	StepCount        int                `json:"step_count"`
	MaxSteps         int                `json:"max_steps"`
	Fetching         bool               `json:"fetching"`
	CompletionReason string             `json:"completion_reason,omitempty"`
	LastError        string             `json:"last_error,omitempty"`
	Sampling         SamplingParameters `json:"sampling"`
	Text             string             `json:"text"`
}

// owner identifies the operation currently driving the session. Commits from an owner
// that is no longer current are dropped.
type owner struct {
	mode   Mode
	cancel context.CancelFunc
}

// Engine runs one generation session. All methods are safe for concurrent use; the
// blocking operations (StartManual, Choose, Continue, Simulate, Stream) return when
// their work ends or is superseded.
type Engine struct {
	source   CandidateSource
	streamer StreamOpener

	maxSteps        int
	stepDelay       time.Duration
	topK            int
	streamMaxTokens int
	sessionID       string
	provider        string
	logger          *slog.Logger
	publisher       events.Publisher

	mu         sync.Mutex
	seed       string
	accepted   []string
	candidates []Candidate
	mode       Mode
	stepCount  int
	fetching   bool
	reason     string
	lastErr    error
	sampling   SamplingParameters
	owner      *owner
}

// Option configures an Engine.
type Option func(*Engine)

// WithStreamer enables Stream. Without it Stream returns ErrStreamingUnsupported.
func WithStreamer(s StreamOpener) Option {
	return func(e *Engine) { e.streamer = s }
}

func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithStepDelay sets the pause between simulated steps. Zero disables it.
func WithStepDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.stepDelay = d
		}
	}
}

// WithTopK bounds the live candidate list built from streamed log-probabilities.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

func WithStreamMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.streamMaxTokens = n
		}
	}
}

func WithSampling(p SamplingParameters) Option {
	return func(e *Engine) { e.sampling = p }
}

// WithSession tags events and upstream requests with a session ID.
func WithSession(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// WithProvider sets the provider label used in metrics.
func WithProvider(name string) Option {
	return func(e *Engine) { e.provider = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvents publishes state changes to p.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// NewEngine creates an idle engine fetching candidates from source.
func NewEngine(source CandidateSource, opts ...Option) *Engine {
	e := &Engine{
		source:          source,
		maxSteps:        DefaultMaxSteps,
		stepDelay:       DefaultStepDelay,
		topK:            DefaultTopK,
		streamMaxTokens: DefaultStreamMaxTokens,
		logger:          slog.Default(),
		mode:            ModeIdle,
		sampling:        DefaultSampling(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provider == "" {
		e.provider = "default"
	}
	return e
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Seed:             e.seed,
		AcceptedTokens:   append([]string(nil), e.accepted...),
		Candidates:       append([]Candidate(nil), e.candidates...),
		Mode:             e.mode,
		StepCount:        e.stepCount,
		MaxSteps:         e.maxSteps,
		Fetching:         e.fetching,
		CompletionReason: e.reason,
		Sampling:         e.sampling,
		Text:             e.textLocked(),
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetSampling validates and stores the parameters used by subsequent fetches.
func (e *Engine) SetSampling(p SamplingParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampling = p
	return nil
}

// Sampling returns the current sampling parameters.
func (e *Engine) Sampling() SamplingParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampling
}

// Stop cancels whatever is in flight. A stream ends as done, any other mode returns to
// idle. Committed tokens are kept. When Stop returns no further state change from the
// stopped operation can happen.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner == nil {
		return
	}
	e.owner.cancel()
	e.owner = nil
	if e.mode == ModeStreaming {
		e.finishStreamLocked()
		return
	}
	e.haltLocked()
}

// Reset cancels any owner and clears the sequence, keeping the seed.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropOwnerLocked()
	e.resetSequenceLocked(e.seed)
	e.setModeLocked(ModeIdle)
}

// SetSeed cancels any owner and starts an empty sequence for seed in idle mode.
func (e *Engine) SetSeed(seed string) error {
	if strings.TrimSpace(seed) == "" {
		return ErrNoSeed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropOwnerLocked()
	e.resetSequenceLocked(seed)
	e.setModeLocked(ModeIdle)
	return nil
}

// --- internals; *Locked methods require e.mu ---

// takeOwnershipLocked cancels the current owner and installs a new one whose context
// derives from ctx.
func (e *Engine) takeOwnershipLocked(ctx context.Context, mode Mode) (*owner, context.Context) {
	e.dropOwnerLocked()
	octx, cancel := context.WithCancel(ctx)
	o := &owner{mode: mode, cancel: cancel}
	e.owner = o
	return o, octx
}

func (e *Engine) dropOwnerLocked() {
	if e.owner != nil {
		e.owner.cancel()
		e.owner = nil
	}
}

func (e *Engine) releaseLocked(o *owner) {
	if e.owner == o {
		o.cancel()
		e.owner = nil
	}
}

func (e *Engine) resetSequenceLocked(seed string) {
	e.seed = seed
	e.accepted = nil
	e.candidates = nil
	e.stepCount = 0
	e.fetching = false
	e.reason = ""
	e.lastErr = nil
}

func (e *Engine) setModeLocked(m Mode) {
	if e.mode == m {
		return
	}
	prev := e.mode
	e.mode = m
	e.logger.Debug("generation mode", "session", e.sessionID, "from", prev, "to", m)
	e.emit(events.ModePayload{Mode: string(m), Previous: string(prev)})
}

func (e *Engine) haltLocked() {
	e.fetching = false
	e.candidates = nil
	e.setModeLocked(ModeIdle)
}

// failLocked aborts the owning operation, keeping partial progress.
func (e *Engine) failLocked(o *owner, err error) {
	e.releaseLocked(o)
	e.lastErr = err
	mode := e.mode
	e.fetching = false
	e.setModeLocked(ModeIdle)
	e.logger.Warn("generation failed", "session", e.sessionID, "mode", mode, "error", err)
	e.emit(events.GenerationErrorPayload{Mode: string(mode), Error: err.Error(), Kind: ErrorKind(err)})
}

func (e *Engine) completeSimulationLocked() {
	e.candidates = nil
	e.fetching = false
	e.reason = ReasonSim
	e.setModeLocked(ModeDone)
	e.emit(events.DonePayload{Reason: ReasonSim, Steps: e.stepCount, Text: e.textLocked()})
}

func (e *Engine) finishStreamLocked() {
	e.fetching = false
	e.reason = ReasonAuto
	e.setModeLocked(ModeDone)
	e.emit(events.DonePayload{Reason: ReasonAuto, Steps: e.stepCount, Text: e.textLocked()})
}

func (e *Engine) appendLocked(token string) {
	e.accepted = append(e.accepted, token)
	e.stepCount++
	metrics.RecordToken(string(e.mode))
	e.emit(events.TokenPayload{Token: token, Step: e.stepCount, Mode: string(e.mode)})
}

func (e *Engine) setCandidatesLocked(cands []Candidate) {
	e.candidates = cands
	e.emit(events.CandidatesPayload{Candidates: toEventCandidates(cands), Step: e.stepCount})
}

func (e *Engine) textLocked() string {
	var b strings.Builder
	b.WriteString(e.seed)
	for _, t := range e.accepted {
		b.WriteString(t)
	}
	return b.String()
}

func (e *Engine) emit(p events.EventPayload) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.NewTypedEventWithSession(events.SourceEngine, p, e.sessionID))
}

// fetch calls the candidate source and records the outcome. An empty result is
// reported as ErrNoCandidates.
func (e *Engine) fetch(ctx context.Context, prompt string, params SamplingParameters) ([]Candidate, error) {
	ctx = events.ContextWithSessionID(ctx, e.sessionID)
	start := time.Now()
	cands, err := e.source.FetchCandidates(ctx, prompt, params)
	if err == nil && len(cands) == 0 {
		err = ErrNoCandidates
	}
	metrics.RecordFetch(e.provider, ErrorKind(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("candidates fetched", "session", e.sessionID, "count", len(cands), "duration", time.Since(start))
	return cands, nil
}

// wait pauses for d or until ctx ends. The timer is always stopped.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
