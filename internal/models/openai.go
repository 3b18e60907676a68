package models

import (
	"context"
	"fmt"
	"net/http"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/generation"
)

const defaultOpenAITimeout = 60 * time.Second

// NewOpenAI creates a candidate source and a streamer for any OpenAI-compatible chat
// completions endpoint. Candidates go through eino; streams read the raw event stream.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth, gen config.GenerationConfig) (*ChatSource, *generation.ChatStreamer, error) {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	return newOpenAICompatible(ctx, cfg.BaseURL, auth.Value, &http.Client{Timeout: timeout}, &http.Client{}, cfg, gen)
}

// newOpenAICompatible shares one endpoint between the eino chat model and the stream
// client. Streams get their own HTTP client so they are bounded by context only.
func newOpenAICompatible(ctx context.Context, baseURL, apiKey string, fetchClient, streamClient *http.Client,
	cfg config.ProviderConfig, gen config.GenerationConfig) (*ChatSource, *generation.ChatStreamer, error) {
	client := completion.New(baseURL, apiKey, completion.WithHTTPClient(streamClient))

	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		APIKey:      apiKey,
		BaseURL:     client.BaseURL(),
		Model:       cfg.Model,
		HTTPClient:  fetchClient,
		ExtraFields: logprobFields(gen.TopK),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create chat model: %w", err)
	}

	prompt := systemPrompt(cfg, gen)
	return NewChatSource(cm, prompt, gen.TopK), generation.NewChatStreamer(client, prompt, gen.TopK), nil
}

// systemPrompt prefers a per-provider "system_prompt" option over the global one.
func systemPrompt(cfg config.ProviderConfig, gen config.GenerationConfig) string {
	if v, ok := cfg.Options["system_prompt"].(string); ok && v != "" {
		return v
	}
	return gen.SystemPrompt
}
