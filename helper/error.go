package helper

import "fmt"

// Error carries the operation trace of a failure while keeping the
// original error reachable through errors.Is and errors.As.
type Error struct {
	Original error
	Trace    []string
}

// NewError wraps err with the given trace. If err already is an *Error the
// trace is prepended to the existing one instead of nesting.
func NewError(trace string, err error) *Error {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	if e, ok := err.(*Error); ok {
		return &Error{
			Original: e.Original,
			Trace:    append([]string{trace}, e.Trace...),
		}
	}
	return &Error{
		Original: err,
		Trace:    []string{trace},
	}
}

func (e *Error) Error() string {
	msg := ""
	for _, t := range e.Trace {
		msg += t + ": "
	}
	return msg + e.Original.Error()
}

func (e *Error) Unwrap() error {
	return e.Original
}
