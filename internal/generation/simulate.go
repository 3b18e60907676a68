package generation

import (
	"context"

	"github.com/dohr-michael/decoded/internal/completion"
)

// Simulate runs the manual cycle automatically, always accepting the top candidate,
// until the step budget is reached or the run is stopped.
//
// Candidates already presented in manual mode are used for the first step; otherwise
// they are fetched for the current text. A finished (done) session starts over from its
// seed. Stop and context cancellation return nil and leave the engine idle with its
// accepted tokens; a fetch failure returns the error, also leaving the engine idle.
func (e *Engine) Simulate(ctx context.Context) error {
	e.mu.Lock()
	if e.seed == "" {
		e.mu.Unlock()
		return ErrNoSeed
	}

	var cands []Candidate
	if e.mode == ModeManual && !e.fetching && len(e.candidates) > 0 {
		cands = e.candidates
	}
	if e.mode == ModeDone {
		e.resetSequenceLocked(e.seed)
	}

	o, sctx := e.takeOwnershipLocked(ctx, ModeSimulating)
	e.reason = ""
	e.lastErr = nil
	e.setModeLocked(ModeSimulating)
	if e.stepCount >= e.maxSteps {
		e.releaseLocked(o)
		e.completeSimulationLocked()
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if cands == nil {
		var ok bool
		var err error
		if cands, ok, err = e.simulationFetch(sctx, o); !ok {
			return err
		}
	}

	for {
		e.mu.Lock()
		if e.owner != o {
			e.mu.Unlock()
			return nil
		}
		e.candidates = nil
		e.appendLocked(SpaceToken(cands[0].Token, e.accepted))
		if e.stepCount >= e.maxSteps {
			e.releaseLocked(o)
			e.completeSimulationLocked()
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()

		if err := wait(sctx, e.stepDelay); err != nil {
			e.endSimulation(o)
			return nil
		}

		var ok bool
		var err error
		if cands, ok, err = e.simulationFetch(sctx, o); !ok {
			return err
		}
	}
}

// simulationFetch fetches and commits the next candidates. ok is false when the loop must
// end; err is then non-nil only for a real failure.
func (e *Engine) simulationFetch(ctx context.Context, o *owner) (cands []Candidate, ok bool, err error) {
	e.mu.Lock()
	if e.owner != o {
		e.mu.Unlock()
		return nil, false, nil
	}
	e.fetching = true
	prompt, params := e.textLocked(), e.sampling
	e.mu.Unlock()

	cands, err = e.fetch(ctx, prompt, params)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner != o {
		return nil, false, nil
	}
	e.fetching = false

	switch {
	case err == nil:
		e.setCandidatesLocked(cands)
		return cands, true, nil
	case completion.IsCancelled(err) || ctx.Err() != nil:
		e.releaseLocked(o)
		e.haltLocked()
		return nil, false, nil
	default:
		e.failLocked(o, err)
		return nil, false, err
	}
}

// endSimulation halts a run interrupted during the inter-step delay.
func (e *Engine) endSimulation(o *owner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != o {
		return
	}
	e.releaseLocked(o)
	e.haltLocked()
}
