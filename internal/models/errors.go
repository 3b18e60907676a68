package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dohr-michael/decoded/internal/completion"
)

// ErrModelUnavailable reports a backend that answered with something other than a
// completion (proxy error pages, plain-text failures).
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model %s unavailable: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("model %s unavailable: %s", e.Provider, e.Body)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// HandleError converts upstream errors to user-friendly errors.
// Cancellation passes through untouched.
func HandleError(err error) error {
	if err == nil || completion.IsCancelled(err) {
		return err
	}

	var apiErr *completion.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("authentication failed: %w", err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("rate limited: %w", err)
		case apiErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("model not found: %w", err)
		}
	}

	var netErr *completion.NetworkError
	var unavailable *ErrModelUnavailable
	if errors.As(err, &netErr) || errors.As(err, &unavailable) {
		return fmt.Errorf("connection error: %w", err)
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "quota", "rate limit") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "logprobs", "top_logprobs") {
		return fmt.Errorf("model does not support log-probabilities: %w", err)
	}

	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
