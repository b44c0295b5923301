package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when the requested entry doesn't exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
