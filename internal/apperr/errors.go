package apperr

import (
	"errors"
	"fmt"
)

// Error kinds shared by the directory, the conversation log and the sync engine.
// Callers wrap them with context and test with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrPermission   = errors.New("permission denied")
	ErrInvariant    = errors.New("invariant violation")
	ErrResponder    = errors.New("responder error")
	ErrInvalidState = errors.New("invalid state")
)

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Permission(format string, args ...any) error {
	return wrap(ErrPermission, format, args...)
}

func Invariant(format string, args ...any) error {
	return wrap(ErrInvariant, format, args...)
}

func InvalidState(format string, args ...any) error {
	return wrap(ErrInvalidState, format, args...)
}

// Responder wraps a failure returned by the external reply generator.
func Responder(cause error) error {
	return fmt.Errorf("%w: %w", ErrResponder, cause)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel an error was built from, or nil for foreign errors.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrPermission, ErrInvariant, ErrResponder, ErrInvalidState} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
