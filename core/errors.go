package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation and not-found errors are never retried
// and map to 4xx at the HTTP boundary; provider errors surface
// upstream AI service failures and are never masked with a fabricated
// answer.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrProvider   = errors.New("provider error")
	ErrConflict   = errors.New("conflict")
)

// ValidationErrorf wraps ErrValidation with detail the caller can use
// to correct the request.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundErrorf wraps ErrNotFound.
func NotFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ProviderErrorf wraps ErrProvider. Used for any upstream AI/ML
// failure: embedding, transcription, or completion.
func ProviderErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, args...))
}

// ConflictErrorf wraps ErrConflict.
func ConflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
