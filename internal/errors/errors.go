package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for common failure scenarios.
//
// Transient I/O failures (ErrNetworkError, ErrTimeout, audio load errors)
// are retried by the owning component. Contention (lock busy, stale
// token) is not an error at all and never surfaces. Data errors
// (ErrMalformedFrame, ErrCorruptSnapshot) are logged and treated as absent
// data. ErrCommandRejected is the only user-visible class and always comes
// with a rollback of the optimistic change.
var (
	ErrNotConnected      = errors.New("not connected")
	ErrNoProfile         = errors.New("no profile resolved")
	ErrPrimitiveNotReady = errors.New("audio output not ready")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrCorruptSnapshot   = errors.New("corrupt snapshot")
	ErrCommandRejected   = errors.New("command rejected by server")
	ErrNetworkError      = errors.New("network error")
	ErrTimeout           = errors.New("request timeout")
	ErrConfigNotFound    = errors.New("config file not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// EncoreError wraps an error with a user-friendly suggestion.
type EncoreError struct {
	Err        error
	Suggestion string
}

func (e *EncoreError) Error() string {
	return e.Err.Error()
}

func (e *EncoreError) Unwrap() error {
	return e.Err
}

// WithSuggestion wraps an error with a helpful suggestion.
func WithSuggestion(err error, suggestion string) error {
	return &EncoreError{
		Err:        err,
		Suggestion: suggestion,
	}
}

// GetSuggestion returns a suggestion for the given error.
func GetSuggestion(err error) string {
	if err == nil {
		return ""
	}

	var encErr *EncoreError
	if errors.As(err, &encErr) && encErr.Suggestion != "" {
		return encErr.Suggestion
	}

	errStr := strings.ToLower(err.Error())

	if errors.Is(err, ErrNoProfile) || strings.Contains(errStr, "no profile") {
		return "Set profile.id in ~/.encorerc or check that the server knows this device"
	}

	if errors.Is(err, ErrNotConnected) || strings.Contains(errStr, "not connected") {
		return "Check that the server is running and server.url is correct"
	}

	if errors.Is(err, ErrPrimitiveNotReady) || strings.Contains(errStr, "mpv") {
		return "Install mpv or run with --audio silent"
	}

	if errors.Is(err, ErrCommandRejected) {
		return "The server refused the command. Try again in a moment"
	}

	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrTimeout) ||
		strings.Contains(errStr, "network") || strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") {
		return "Check your network connection and try again"
	}

	if errors.Is(err, ErrConfigNotFound) || errors.Is(err, ErrInvalidConfig) || strings.Contains(errStr, "config") {
		return "Run 'encore config init' to set up your configuration"
	}

	if strings.Contains(errStr, "500") || strings.Contains(errStr, "server error") {
		return "The media server is having issues. Try again in a moment"
	}

	return ""
}

// Format returns a formatted error message with suggestion if available.
func Format(err error) string {
	if err == nil {
		return ""
	}

	suggestion := GetSuggestion(err)
	if suggestion != "" {
		return fmt.Sprintf("Error: %s\n\nSuggestion: %s", err.Error(), suggestion)
	}

	return fmt.Sprintf("Error: %s", err.Error())
}
