package externalapi

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps one of them.
var (
	ErrNotConfigured   = errors.New("external api not configured")
	ErrInvalidPath     = errors.New("invalid path")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrMissingParam    = errors.New("missing required param")
	ErrUpstream        = errors.New("upstream request failed")
)

// Error is a resolver failure whose message is shown to the model as is.
type Error struct {
	Kind    error
	Message string
	// Status is the upstream HTTP status, when there was one.
	Status int
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
