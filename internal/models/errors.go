package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an artifact id does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable marks a transient failure talking to the artifact store.
var ErrStoreUnavailable = errors.New("artifact store unavailable")

// ValidationError reports a bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DimensionError builds the ValidationError for a vector of the wrong length.
func DimensionError(got, want int) error {
	return &ValidationError{
		Field:   "embedding",
		Message: fmt.Sprintf("dimension mismatch: got %d, expected %d", got, want),
	}
}
