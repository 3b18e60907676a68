package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/generation"
)

// Supported drivers.
const (
	DriverOpenAI = "openai"
	DriverOllama = "ollama"
	DriverGemini = "gemini"
)

// Backend is an initialized provider ready to drive a generation engine.
type Backend struct {
	Name     string
	Driver   string
	Model    string
	Source   generation.CandidateSource
	Streamer generation.StreamOpener // nil when the driver cannot stream
	slots    *slots
}

// CanStream reports whether the backend supports streaming.
func (b *Backend) CanStream() bool { return b.Streamer != nil }

// InUse returns the number of upstream requests currently in flight.
func (b *Backend) InUse() int {
	if b.slots == nil {
		return 0
	}
	return b.slots.InUse()
}

// CreateBackend creates a backend from a provider config, bounding it to the provider's
// max_concurrent slots.
func CreateBackend(ctx context.Context, name string, cfg config.ProviderConfig, gen config.GenerationConfig) (*Backend, error) {
	b := &Backend{
		Name:   name,
		Driver: strings.ToLower(cfg.Driver),
		Model:  cfg.Model,
		slots:  newSlots(name, cfg.MaxConcurrent),
	}

	switch b.Driver {
	case DriverOpenAI:
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		src, streamer, err := NewOpenAI(ctx, cfg, auth, gen)
		if err != nil {
			return nil, err
		}
		b.Source, b.Streamer = src, streamer
	case DriverOllama:
		src, streamer, err := NewOllama(ctx, cfg, gen)
		if err != nil {
			return nil, err
		}
		b.Source, b.Streamer = src, streamer
	case DriverGemini:
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		src, err := NewGemini(ctx, cfg, auth, gen)
		if err != nil {
			return nil, err
		}
		b.Source = src
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	b.Source = &limitedSource{inner: b.Source, slots: b.slots}
	if b.Streamer != nil {
		b.Streamer = &limitedStreamer{inner: b.Streamer, slots: b.slots}
	}
	return b, nil
}

// EngineOptions returns the generation options for an engine driven by b.
func (b *Backend) EngineOptions(gen config.GenerationConfig) []generation.Option {
	opts := []generation.Option{
		generation.WithProvider(b.Name),
		generation.WithMaxSteps(gen.MaxSteps),
		generation.WithStepDelay(gen.StepDelay.Duration()),
		generation.WithTopK(gen.TopK),
		generation.WithStreamMaxTokens(gen.StreamMaxTokens),
		generation.WithSampling(b.Sampling(gen)),
	}
	if b.Streamer != nil {
		opts = append(opts, generation.WithStreamer(b.Streamer))
	}
	return opts
}

// Sampling returns the configured default sampling parameters for b.
func (b *Backend) Sampling(gen config.GenerationConfig) generation.SamplingParameters {
	p := generation.DefaultSampling(b.Model)
	if gen.Temperature != nil {
		p.Temperature = *gen.Temperature
	}
	if gen.TopP != nil {
		p.TopP = *gen.TopP
	}
	return p
}
