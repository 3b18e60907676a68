package generation

import "fmt"

// Sampling defaults.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// SamplingParameters tune a completion request.
type SamplingParameters struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// DefaultSampling returns the default parameters for model.
func DefaultSampling(model string) SamplingParameters {
	return SamplingParameters{Model: model, Temperature: DefaultTemperature, TopP: DefaultTopP}
}

// Validate rejects out-of-range values.
func (p SamplingParameters) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f outside [0, 2]", ErrInvalidSampling, p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("%w: top_p %.2f outside [0, 1]", ErrInvalidSampling, p.TopP)
	}
	return nil
}
