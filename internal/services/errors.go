package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrExhausted      = errors.New("resource limit exceeded")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNetwork        = errors.New("network error")
	ErrRateLimited    = errors.New("rate limited")
	ErrProviderServer = errors.New("provider server error")
	ErrAuthentication = errors.New("authentication error")
	ErrTransient      = errors.New("transient failure")
)

// Wrap builds an error message that includes phase context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the job queue should retry work that failed with
// this error. Validation, configuration, not-found, limit, duplicate, and
// authentication failures do not improve on retry.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExhausted),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrAuthentication):
		return false
	default:
		return true
	}
}

// ErrorDetails carries the human-readable portion of a wrapped error.
type ErrorDetails struct {
	Message string
}

// Details extracts the message portion of an error produced by Wrap, falling
// back to the raw error text.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	text := err.Error()
	for _, marker := range []error{
		ErrValidation, ErrConfiguration, ErrNotFound, ErrExhausted,
		ErrAlreadyExists, ErrNetwork, ErrRateLimited, ErrProviderServer,
		ErrAuthentication, ErrTransient,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return ErrorDetails{Message: strings.TrimPrefix(text, prefix)}
		}
	}
	return ErrorDetails{Message: text}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
