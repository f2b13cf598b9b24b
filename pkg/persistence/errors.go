// Package persistence provides standardized error types for storage operations.
package persistence

import "errors"

var (
	// ErrExecutionNotFound indicates no run exists for the given run ID.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrCheckpointNotFound indicates no checkpoint exists for the given ID.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// IsExecutionNotFound reports whether err wraps ErrExecutionNotFound.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
