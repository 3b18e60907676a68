package completion

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled marks an operation aborted by its caller. It is not a failure.
var ErrCancelled = errors.New("operation cancelled")

// NetworkError is a transport failure: no usable response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-success HTTP status returned by the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// MalformedEventError reports a stream event whose payload could not be parsed.
// Stream readers skip such events.
type MalformedEventError struct {
	Data string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a caller-initiated abort.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// WrapTransport classifies a transport error observed while ctx was in use.
// Cancellation of ctx yields ErrCancelled; everything else is a NetworkError.
func WrapTransport(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, ErrCancelled) {
		return fmt.Errorf("%s: %w", op, ErrCancelled)
	}
	return &NetworkError{Op: op, Err: err}
}
