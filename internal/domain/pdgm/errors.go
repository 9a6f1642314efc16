package pdgm

import (
	"errors"
	"fmt"
)

// ErrZeroCurrentRevenue is returned when a percent increase would divide by
// a zero current revenue.
var ErrZeroCurrentRevenue = errors.New("current revenue is zero, percent increase is undefined")

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("calculation not found")

// ValidationError reports a caller-contract violation on a single input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
