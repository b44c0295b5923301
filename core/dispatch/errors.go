package dispatch

import (
	"context"
	"errors"

	"github.com/siherrmann/knowledge/model"
)

// Code is the machine readable error category of a failed tool call.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeTimeout            Code = "TIMEOUT"
	CodeForbidden          Code = "FORBIDDEN"
	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"
	CodeMaxDepthExceeded   Code = "MAX_DEPTH_EXCEEDED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// ToolError is an error that already carries its code and client message.
type ToolError struct {
	Code    Code
	Message string
	Err     error
}

func NewToolError(code Code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Classify maps any error onto a ToolError. Unknown errors become
// INTERNAL_ERROR with a generic message, the cause stays in Err.
func Classify(err error) *ToolError {
	if err == nil {
		return nil
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{Code: CodeTimeout, Message: "deadline exceeded", Err: err}
	}
	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return &ToolError{Code: CodeValidation, Message: validationErr.Error(), Err: err}
	}
	if errors.Is(err, model.ErrNotFound) {
		return &ToolError{Code: CodeNotFound, Message: "entry not found", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ToolError{Code: CodeInternal, Message: "request cancelled", Err: err}
	}
	return &ToolError{Code: CodeInternal, Message: "internal error", Err: err}
}
