package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/generation"
)

// GeminiSource fetches next-token candidates from the Gemini API. It does not stream.
type GeminiSource struct {
	client       *genai.Client
	systemPrompt string
	topK         int
}

// NewGemini creates a Gemini candidate source.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth, gen config.GenerationConfig) (*GeminiSource, error) {
	cc := &genai.ClientConfig{
		APIKey:  auth.Value,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if timeout := cfg.Timeout.Duration(); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	topK := gen.TopK
	if topK <= 0 {
		topK = generation.DefaultTopK
	}
	return &GeminiSource{client: client, systemPrompt: systemPrompt(cfg, gen), topK: topK}, nil
}

// FetchCandidates requests a single output token with its top alternatives.
func (g *GeminiSource) FetchCandidates(ctx context.Context, prompt string, params generation.SamplingParameters) ([]generation.Candidate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	conf := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(params.Temperature)),
		TopP:             genai.Ptr(float32(params.TopP)),
		MaxOutputTokens:  1,
		ResponseLogprobs: true,
		Logprobs:         genai.Ptr(int32(g.topK)),
	}
	if g.systemPrompt != "" {
		conf.SystemInstruction = genai.NewContentFromText(g.systemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, params.Model, genai.Text(prompt), conf)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", geminiError(ctx, err))
	}
	return generation.FromLogprobs(geminiTopLogprobs(resp), g.topK), nil
}

// geminiTopLogprobs extracts the alternatives of the first decoding step.
func geminiTopLogprobs(resp *genai.GenerateContentResponse) []completion.TopLogprob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	lr := resp.Candidates[0].LogprobsResult
	if lr == nil || len(lr.TopCandidates) == 0 || lr.TopCandidates[0] == nil {
		return nil
	}

	var out []completion.TopLogprob
	for _, c := range lr.TopCandidates[0].Candidates {
		if c == nil {
			continue
		}
		out = append(out, completion.TopLogprob{Token: c.Token, Logprob: float64(c.LogProbability)})
	}
	return out
}

// geminiError maps SDK errors onto the completion error types.
func geminiError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		return &completion.APIError{StatusCode: apiErr.Code, Message: msg, Type: apiErr.Status}
	}
	return completion.WrapTransport(ctx, "gemini generate", err)
}
