package safety

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and graph consistency failures.
var (
	ErrInvalid        = errors.New("invalid value")
	ErrInvalidASIL    = errors.New("invalid ASIL")
	ErrRatingRange    = errors.New("rating out of range")
	ErrSelfCausation  = errors.New("cause and effect must differ")
	ErrConflict       = errors.New("conflict")
	ErrHasChildren    = fmt.Errorf("element has child elements: %w", ErrConflict)
	ErrDuplicateCause = fmt.Errorf("causation already exists: %w", ErrConflict)
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err came from input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
