package models

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates bad input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}

	return "validation failed: " + e.Message
}

// NewValidationError builds a field-less validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// TimeoutError indicates an operation exceeded its deadline. Retryable.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// CircuitOpenError rejects a call because the service circuit is open.
// Retryable by the caller after RetryAfter, but it never consumes a retry
// slot inside the reliability wrapper.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for service %s, retry after %s", e.Service, e.RetryAfter)
}

// RateLimitError rejects a call because no token was available. Retryable.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for service %s, retry after %s", e.Service, e.RetryAfter)
}

// ToolInvocationError wraps an underlying tool failure. Retryable unless
// the tool marks it permanent.
type ToolInvocationError struct {
	Tool      string
	Op        string
	Permanent bool
	Err       error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s operation %s failed: %v", e.Tool, e.Op, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// WorkflowFatalError aborts the run and is never retried, e.g. a while loop
// exceeding its iteration bound or a missing required input.
type WorkflowFatalError struct {
	Reason string
}

func (e *WorkflowFatalError) Error() string {
	return "workflow fatal error: " + e.Reason
}

// CancellationError marks a run stopped by an external cancellation signal.
type CancellationError struct {
	RunID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// IsRetryable reports whether the reliability wrapper may retry the call
// that produced err.
func IsRetryable(err error) bool {
	var (
		validationErr *ValidationError
		timeoutErr    *TimeoutError
		circuitErr    *CircuitOpenError
		rateErr       *RateLimitError
		toolErr       *ToolInvocationError
		fatalErr      *WorkflowFatalError
		cancelErr     *CancellationError
	)

	switch {
	case errors.As(err, &validationErr):
		return false
	case errors.As(err, &fatalErr):
		return false
	case errors.As(err, &cancelErr):
		return false
	case errors.As(err, &timeoutErr):
		return true
	case errors.As(err, &circuitErr):
		return true
	case errors.As(err, &rateErr):
		return true
	case errors.As(err, &toolErr):
		return !toolErr.Permanent
	default:
		return false
	}
}

// RetryAfterOf extracts the retry-after hint carried by rate-limit and
// circuit-open errors, or zero when err carries none.
func RetryAfterOf(err error) time.Duration {
	var (
		circuitErr *CircuitOpenError
		rateErr    *RateLimitError
	)

	switch {
	case errors.As(err, &circuitErr):
		return circuitErr.RetryAfter
	case errors.As(err, &rateErr):
		return rateErr.RetryAfter
	default:
		return 0
	}
}
