package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dohr-michael/decoded/internal/config"
)

// ErrUnknownProvider is returned for provider names absent from the config.
var ErrUnknownProvider = errors.New("model provider not found")

// ProviderEntry holds a lazily-initialized backend.
type ProviderEntry struct {
	Config  config.ProviderConfig
	backend *Backend
	once    sync.Once
	err     error
}

// ProviderInfo describes a configured provider without initializing it.
type ProviderInfo struct {
	Name          string `json:"name"`
	Driver        string `json:"driver"`
	Model         string `json:"model"`
	Default       bool   `json:"default"`
	Streaming     bool   `json:"streaming"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// Registry manages named providers with lazy initialization.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*ProviderEntry
	defaultName string
	generation  config.GenerationConfig
}

// NewRegistry creates a registry from config.
func NewRegistry(cfg config.ModelsConfig, gen config.GenerationConfig) *Registry {
	r := &Registry{}
	r.set(cfg, gen)
	return r
}

func (r *Registry) set(cfg config.ModelsConfig, gen config.GenerationConfig) {
	providers := make(map[string]*ProviderEntry, len(cfg.Providers))
	for name, provCfg := range cfg.Providers {
		providers[name] = &ProviderEntry{Config: provCfg}
	}

	defaultName := cfg.Default
	if defaultName == "" && len(providers) == 1 {
		for name := range providers {
			defaultName = name
		}
	}

	r.mu.Lock()
	r.providers = providers
	r.defaultName = defaultName
	r.generation = gen
	r.mu.Unlock()
}

// Reload swaps in a new provider set. Backends already handed out keep working; new
// lookups initialize from the new config.
func (r *Registry) Reload(cfg *config.Config) {
	r.set(cfg.Models, cfg.Generation)
	slog.Info("model registry reloaded", "providers", len(cfg.Models.Providers), "default", r.DefaultName())
}

// Get returns the named backend, initializing it lazily.
func (r *Registry) Get(ctx context.Context, name string) (*Backend, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	gen := r.generation
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	entry.once.Do(func() {
		entry.backend, entry.err = CreateBackend(ctx, name, entry.Config, gen)
		if entry.err == nil {
			slog.Debug("provider initialized", "provider", name, "driver", entry.Config.Driver, "model", entry.Config.Model)
		}
	})

	return entry.backend, entry.err
}

// Default returns the default backend.
func (r *Registry) Default(ctx context.Context) (*Backend, error) {
	name := r.DefaultName()
	if name == "" {
		return nil, fmt.Errorf("%w: no default configured", ErrUnknownProvider)
	}
	return r.Get(ctx, name)
}

// Resolve returns the named backend, or the default one when name is empty.
func (r *Registry) Resolve(ctx context.Context, name string) (*Backend, error) {
	if name == "" {
		return r.Default(ctx)
	}
	return r.Get(ctx, name)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Generation returns the generation settings the registry was configured with.
func (r *Registry) Generation() config.GenerationConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List describes every configured provider, sorted by name.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.providers))
	for name, entry := range r.providers {
		out = append(out, ProviderInfo{
			Name:          name,
			Driver:        entry.Config.Driver,
			Model:         entry.Config.Model,
			Default:       name == r.defaultName,
			Streaming:     driverStreams(entry.Config.Driver),
			MaxConcurrent: entry.Config.MaxConcurrent,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func driverStreams(driver string) bool {
	switch strings.ToLower(driver) {
	case DriverOpenAI, DriverOllama:
		return true
	default:
		return false
	}
}
