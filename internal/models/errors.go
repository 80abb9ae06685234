package models

import (
	"errors"
	"fmt"
)

// ValidationError describes a rejected request or a malformed stored
// object. It maps to HTTP 400 at the API boundary.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError anywhere
// in its chain.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
