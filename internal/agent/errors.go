package agent

import (
	"context"
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxIterations indicates the turn exceeded its provider round trip limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrApprovalNotFound indicates the approval id is unknown, expired or
	// already decided
	ErrApprovalNotFound = errors.New("approval request not found or expired")

	// ErrApprovalForbidden indicates the approval belongs to another user
	ErrApprovalForbidden = errors.New("approval belongs to another user")
)

// LoopError wraps a failure with the state the loop was in when it happened.
type LoopError struct {
	State     LoopState
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop %s (iteration %d): %v", e.State, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// retryable reports whether err asks to be retried. Provider errors opt in by
// implementing Retryable.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// retryReason labels a retried error for metrics.
func retryReason(err error) string {
	var r interface{ RetryReason() string }
	if errors.As(err, &r) {
		return r.RetryReason()
	}
	return "unknown"
}

// userMessage renders err for the person chatting.
func userMessage(err error) string {
	var m interface{ UserMessage() string }
	if errors.As(err, &m) {
		if msg := m.UserMessage(); msg != "" {
			return msg
		}
	}
	var loopErr *LoopError
	if errors.As(err, &loopErr) {
		err = loopErr.Cause
	}
	switch {
	case errors.Is(err, ErrMaxIterations):
		return "The assistant needed too many steps to answer. Please try a narrower request."
	case errors.Is(err, ErrNoProvider):
		return "No AI provider is configured."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	case err != nil:
		return err.Error()
	default:
		return "Unknown error"
	}
}
