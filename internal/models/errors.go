package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrContextTooLong = errors.New("context too long")
	ErrModelNotFound  = errors.New("model not found")
	ErrConnection     = errors.New("connection error")
)

// ErrModelUnavailable reports a provider endpoint that did not answer with
// a usable response.
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("model %s unavailable: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("model %s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("model %s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// HandleError classifies common SDK errors so callers can test them with errors.Is.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	var unavailable *ErrModelUnavailable
	if errors.As(err, &unavailable) {
		return err
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden"):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	case containsAny(errStr, "429", "rate limit", "quota", "too many requests"):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit"):
		return fmt.Errorf("%w: %w", ErrContextTooLong, err)
	case containsAny(errStr, "model not found", "404", "not found"):
		return fmt.Errorf("%w: %w", ErrModelNotFound, err)
	case containsAny(errStr, "connection", "eof", "timeout", "dial", "refused"):
		return fmt.Errorf("%w: %w", ErrConnection, err)
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
