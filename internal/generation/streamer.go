package generation

import (
	"context"
	"fmt"
	"io"

	"github.com/dohr-michael/decoded/internal/completion"
)

// StreamOpener opens a streaming completion and returns the raw event-stream body.
type StreamOpener interface {
	OpenStream(ctx context.Context, prompt string, params SamplingParameters, maxTokens int) (io.ReadCloser, error)
}

// StreamClient is the transport used by ChatStreamer. *completion.Client implements it.
type StreamClient interface {
	Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error)
}

// ChatStreamer implements StreamOpener on top of a chat completions endpoint,
// requesting inline log-probabilities with every delta.
type ChatStreamer struct {
	client       StreamClient
	systemPrompt string
	topK         int
}

// NewChatStreamer creates a streamer requesting topK alternatives per position.
func NewChatStreamer(client StreamClient, systemPrompt string, topK int) *ChatStreamer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &ChatStreamer{client: client, systemPrompt: systemPrompt, topK: topK}
}

// OpenStream starts a streaming completion with inline log-probabilities.
func (s *ChatStreamer) OpenStream(ctx context.Context, prompt string, params SamplingParameters, maxTokens int) (io.ReadCloser, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	body, err := s.client.Stream(ctx, completion.Request{
		Model:       params.Model,
		Messages:    completion.Messages(s.systemPrompt, prompt),
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Logprobs:    true,
		TopLogprobs: s.topK,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return body, nil
}
