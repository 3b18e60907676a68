package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/decoded/internal/completion"
)

// StartManual cancels any running operation, starts a fresh sequence for seed in manual
// mode and fetches the first candidates. On failure the engine returns to idle and the
// error is returned.
func (e *Engine) StartManual(ctx context.Context, seed string) error {
	if strings.TrimSpace(seed) == "" {
		return ErrNoSeed
	}

	e.mu.Lock()
	o, fctx := e.takeOwnershipLocked(ctx, ModeManual)
	e.resetSequenceLocked(seed)
	e.setModeLocked(ModeManual)
	e.fetching = true
	prompt, params := e.textLocked(), e.sampling
	e.mu.Unlock()

	return e.manualFetch(fctx, o, prompt, params)
}

// Choose accepts the candidate at index, appends it and fetches the next candidates.
// It is rejected without any state change unless the engine is in manual mode with no
// fetch in flight and index names a current candidate.
func (e *Engine) Choose(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.mode != ModeManual || e.owner == nil {
		e.mu.Unlock()
		return ErrNotActive
	}
	if e.fetching {
		e.mu.Unlock()
		return ErrBusy
	}
	if index < 0 || index >= len(e.candidates) {
		n := len(e.candidates)
		e.mu.Unlock()
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidChoice, index, n)
	}

	o := e.owner
	token := SpaceToken(e.candidates[index].Token, e.accepted)
	e.candidates = nil
	e.appendLocked(token)
	e.fetching = true

	o.cancel()
	fctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	prompt, params := e.textLocked(), e.sampling
	e.mu.Unlock()

	return e.manualFetch(fctx, o, prompt, params)
}

// Continue re-enters manual mode and fetches candidates for the current text without
// clearing accepted tokens. It resumes a sequence after Stop or a failed fetch.
func (e *Engine) Continue(ctx context.Context) error {
	e.mu.Lock()
	if e.seed == "" {
		e.mu.Unlock()
		return ErrNoSeed
	}
	if e.mode == ModeManual && e.fetching {
		e.mu.Unlock()
		return ErrBusy
	}
	o, fctx := e.takeOwnershipLocked(ctx, ModeManual)
	e.candidates = nil
	e.reason = ""
	e.lastErr = nil
	e.setModeLocked(ModeManual)
	e.fetching = true
	prompt, params := e.textLocked(), e.sampling
	e.mu.Unlock()

	return e.manualFetch(fctx, o, prompt, params)
}

func (e *Engine) manualFetch(ctx context.Context, o *owner, prompt string, params SamplingParameters) error {
	cands, err := e.fetch(ctx, prompt, params)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner != o {
		return nil
	}
	e.fetching = false

	switch {
	case err == nil:
		e.setCandidatesLocked(cands)
		return nil
	case completion.IsCancelled(err):
		e.releaseLocked(o)
		e.haltLocked()
		return nil
	default:
		e.failLocked(o, err)
		return err
	}
}
