package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for dispatch operations.
var (
	// ErrNoHealthyHost indicates that no backend can accept traffic.
	ErrNoHealthyHost = errors.New("no healthy host available")

	// ErrUpstreamTimeout indicates that the upstream request timed out.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream is unavailable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// DispatchError represents a dispatch-related error with details.
type DispatchError struct {
	Op      string // Operation that failed
	Target  string // Backend address if applicable
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Target != "" {
		if e.Cause != nil {
			return fmt.Sprintf("dispatch error [%s] target=%s: %s: %v",
				e.Op, e.Target, e.Message, e.Cause)
		}
		return fmt.Sprintf("dispatch error [%s] target=%s: %s", e.Op, e.Target, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("dispatch error [%s]: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("dispatch error [%s]: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(op, target, message string, cause error) *DispatchError {
	return &DispatchError{
		Op:      op,
		Target:  target,
		Message: message,
		Cause:   cause,
	}
}
