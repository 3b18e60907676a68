package generation

import (
	"errors"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/metrics"
)

var (
	ErrBusy                 = errors.New("a candidate fetch is already in flight")
	ErrNotActive            = errors.New("session is not in manual mode")
	ErrInvalidChoice        = errors.New("candidate index out of range")
	ErrNoSeed               = errors.New("seed text is empty")
	ErrStreamingUnsupported = errors.New("provider does not support streaming")
	ErrNoCandidates         = errors.New("provider returned no candidates")
	ErrInvalidSampling      = errors.New("invalid sampling parameters")
)

// ErrorKind classifies err for metrics and event payloads.
func ErrorKind(err error) string {
	var apiErr *completion.APIError
	var netErr *completion.NetworkError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case completion.IsCancelled(err):
		return metrics.OutcomeCancelled
	case errors.As(err, &apiErr):
		return metrics.OutcomeAPIError
	case errors.As(err, &netErr):
		return metrics.OutcomeNetworkError
	default:
		return metrics.OutcomeError
	}
}
