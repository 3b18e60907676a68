package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/generation"
)

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// NewOllama creates a candidate source and a streamer for a local Ollama server
// through its OpenAI-compatible API.
func NewOllama(ctx context.Context, cfg config.ProviderConfig, gen config.GenerationConfig) (*ChatSource, *generation.ChatStreamer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	// Inject a validating transport to detect non-JSON responses (e.g. "no available server").
	transport := &ollamaTransport{inner: http.DefaultTransport, provider: DriverOllama}
	return newOpenAICompatible(ctx, baseURL, "",
		&http.Client{Transport: transport, Timeout: timeout},
		&http.Client{Transport: transport},
		cfg, gen)
}

// ollamaTransport wraps an http.RoundTripper to detect non-JSON responses from Ollama
// backends (e.g. reverse proxies returning plain text errors). JSON error bodies pass
// through so the completion client can report them as API errors.
type ollamaTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *ollamaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, err
		}
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.Contains(ct, "json") || strings.Contains(ct, "event-stream") {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return nil, &ErrModelUnavailable{
		Provider: t.provider,
		Body:     strings.TrimSpace(string(body)),
	}
}
