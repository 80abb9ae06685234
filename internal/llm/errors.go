package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers.
var (
	// ErrUnknownProvider is returned when no implementation is
	// registered for a provider type.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoAPIKey is returned when the remote provider is used without
	// a configured credential.
	ErrNoAPIKey = errors.New("no API key configured")
)

// ProviderError is the single failure kind providers surface: network
// errors, timeouts, non-2xx responses and malformed payloads all wrap
// into it. Retry policy lives with the caller, not here.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

// Unwrap exposes the wrapped cause.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps err into a ProviderError unless it already is one.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}

// NewAPIError builds a ProviderError from a non-2xx response.
func NewAPIError(provider string, statusCode int, body string) error {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Message: body}
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
