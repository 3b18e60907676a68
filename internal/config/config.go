package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for decoded.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Models     ModelsConfig     `json:"models" yaml:"models"`
	Events     EventsConfig     `json:"events" yaml:"events"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	SessionTimeout Duration `json:"session_timeout,omitempty" yaml:"session_timeout,omitempty"` // idle sessions are reaped after this
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default" yaml:"default"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

// ProviderConfig configures a single completion provider.
type ProviderConfig struct {
	Driver        string         `json:"driver" yaml:"driver"` // "openai", "gemini"
	Model         string         `json:"model" yaml:"model"`
	BaseURL       string         `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Auth          AuthConfig     `json:"auth" yaml:"auth"`
	Timeout       Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxConcurrent int            `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	Options       map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`     // Bearer token, takes precedence over api_key
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// GenerationConfig tunes the generation engine.
type GenerationConfig struct {
	SystemPrompt    string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxSteps        int      `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	StepDelay       Duration `json:"step_delay,omitempty" yaml:"step_delay,omitempty"`
	TopK            int      `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	StreamMaxTokens int      `json:"stream_max_tokens,omitempty" yaml:"stream_max_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // nil = default; 0 is valid
	TopP            *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// Duration wraps time.Duration for JSON and YAML unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}
