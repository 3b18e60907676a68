package generation

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/metrics"
	"github.com/dohr-michael/decoded/internal/sse"
)

// Stream starts a fresh sequence for seed and streams up to maxTokens tokens
// (maxTokens <= 0 uses the configured default). Deltas are appended as they arrive and
// inline log-probabilities replace the live candidates.
//
// The natural end of the stream, Stop and context cancellation all finish the session
// as done and return nil. Any other failure returns the error and leaves the engine idle
// with the text streamed so far.
func (e *Engine) Stream(ctx context.Context, seed string, maxTokens int) error {
	if e.streamer == nil {
		return ErrStreamingUnsupported
	}
	if strings.TrimSpace(seed) == "" {
		return ErrNoSeed
	}
	if maxTokens <= 0 {
		maxTokens = e.streamMaxTokens
	}

	e.mu.Lock()
	o, sctx := e.takeOwnershipLocked(ctx, ModeStreaming)
	e.resetSequenceLocked(seed)
	e.setModeLocked(ModeStreaming)
	e.fetching = true
	prompt, params := e.textLocked(), e.sampling
	e.mu.Unlock()

	body, err := e.streamer.OpenStream(sctx, prompt, params, maxTokens)
	if err != nil {
		return e.endStream(sctx, o, err)
	}
	defer body.Close()

	e.mu.Lock()
	if e.owner == o {
		e.fetching = false
	}
	e.mu.Unlock()

	rd := sse.NewReader(body)
	for {
		ev, err := rd.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				err = completion.WrapTransport(sctx, "read stream", err)
			}
			return e.endStream(sctx, o, err)
		}

		resp, err := completion.DecodeChunk(ev.Data)
		if err != nil {
			metrics.RecordFrame(metrics.FrameMalformed)
			e.logger.Debug("skipping malformed stream event", "session", e.sessionID, "error", err)
			continue
		}
		if !e.applyFrame(o, resp) {
			return nil
		}
	}
}

// applyFrame commits one decoded event. It reports false once o no longer owns the
// session.
func (e *Engine) applyFrame(o *owner, resp *completion.Response) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner != o {
		return false
	}
	metrics.RecordFrame(metrics.FrameApplied)

	if delta := resp.DeltaContent(); delta != "" {
		e.appendLocked(SpaceDelta(delta, strings.Join(e.accepted, "")))
	}
	if top := resp.TopLogprobs(); len(top) > 0 {
		e.setCandidatesLocked(FromLogprobs(top, e.topK))
	}
	return true
}

func (e *Engine) endStream(ctx context.Context, o *owner, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner != o {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || completion.IsCancelled(err) || ctx.Err() != nil {
		e.releaseLocked(o)
		e.finishStreamLocked()
		return nil
	}
	e.failLocked(o, err)
	return err
}
