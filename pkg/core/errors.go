// Package core provides the top-level plan adjustment client and its
// configuration.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to the storage backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrUnknownProvider indicates an unsupported database provider name.
	ErrUnknownProvider = errors.New("unknown database provider")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// AgentError wraps errors with operation context.
//
// Example:
//
//	err := &AgentError{Op: "AdjustPlan", Err: ErrInvalidConfig}
//	// Error() returns: "planagent: AdjustPlan: invalid configuration"
type AgentError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *AgentError) Error() string {
	return fmt.Sprintf("planagent: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates a new AgentError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	return result, NewAgentError("AdjustPlan", err)
func NewAgentError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AgentError{
		Op:  op,
		Err: err,
	}
}
