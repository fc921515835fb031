package tts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAPIKey is returned when a hosted provider has no API key.
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrEmptyText is returned when asked to speak nothing.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrUnknownProvider is returned for an unrecognized provider name.
	ErrUnknownProvider = errors.New("tts: unknown provider")
)

// Error is a failed provider call. Status is the HTTP status for API
// rejections and zero for local or transport failures, which carry Err.
type Error struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("tts %s: %v", e.Provider, e.Err)
	case e.Code != "":
		return fmt.Sprintf("tts %s: status %d (%s): %s", e.Provider, e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("tts %s: status %d: %s", e.Provider, e.Status, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the same request may succeed later: rate
// limits and server faults.
func (e *Error) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// fail tags err with the provider. It returns nil for a nil err.
func fail(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Err: err}
}
