// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionConflict indicates the caller's expected version is stale.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidSortField indicates an unsupported sort field.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Put")
	FlowID int64  // Flow ID if applicable
	Err    error  // Underlying error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %d: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op string, flowID int64, err error) *FlowError {
	return &FlowError{
		Op:     op,
		FlowID: flowID,
		Err:    err,
	}
}

// VersionConflictError reports the version the caller held against the stored one.
type VersionConflictError struct {
	FlowID   int64
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("flow %d was changed by someone else: expected version %d, store has %d",
		e.FlowID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsVersionConflict checks if an error indicates a stale write.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInvalidSortField checks if an error indicates an unsupported sort field.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
