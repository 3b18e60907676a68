package models

import (
	"context"
	"errors"
	"fmt"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/generation"
)

// ChatSource fetches next-token candidates through an eino chat model. The model
// must be configured to return log-probabilities (see logprobFields).
type ChatSource struct {
	model        model.BaseChatModel
	systemPrompt string
	topK         int
}

// NewChatSource wraps a chat model as a generation.CandidateSource.
func NewChatSource(cm model.BaseChatModel, systemPrompt string, topK int) *ChatSource {
	if topK <= 0 {
		topK = generation.DefaultTopK
	}
	return &ChatSource{model: cm, systemPrompt: systemPrompt, topK: topK}
}

// logprobFields asks an OpenAI-compatible endpoint for topK alternatives per position.
func logprobFields(topK int) map[string]any {
	if topK <= 0 {
		topK = generation.DefaultTopK
	}
	return map[string]any{"logprobs": true, "top_logprobs": topK}
}

// FetchCandidates asks for exactly one token and returns its ranked alternatives.
// It does not retry.
func (s *ChatSource) FetchCandidates(ctx context.Context, prompt string, params generation.SamplingParameters) ([]generation.Candidate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var msgs []*schema.Message
	if s.systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(s.systemPrompt))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	opts := []model.Option{
		model.WithTemperature(float32(params.Temperature)),
		model.WithTopP(float32(params.TopP)),
		model.WithMaxTokens(1),
	}
	if params.Model != "" {
		opts = append(opts, model.WithModel(params.Model))
	}

	out, err := s.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", chatError(ctx, err))
	}
	return generation.FromLogprobs(chatTopLogprobs(out), s.topK), nil
}

// chatTopLogprobs extracts the alternatives of the first generated token.
func chatTopLogprobs(msg *schema.Message) []completion.TopLogprob {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.LogProbs == nil {
		return nil
	}
	content := msg.ResponseMeta.LogProbs.Content
	if len(content) == 0 {
		return nil
	}

	top := content[0].TopLogProbs
	out := make([]completion.TopLogprob, 0, len(top))
	for _, lp := range top {
		out = append(out, completion.TopLogprob{Token: lp.Token, Logprob: lp.LogProb})
	}
	return out
}

// chatError maps eino OpenAI errors onto the completion error types.
func chatError(ctx context.Context, err error) error {
	var apiErr *einoopenai.APIError
	if errors.As(err, &apiErr) {
		out := &completion.APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Type:       apiErr.Type,
		}
		if apiErr.Code != nil {
			out.Code = fmt.Sprint(apiErr.Code)
		}
		return out
	}
	return completion.WrapTransport(ctx, "chat completion", err)
}
