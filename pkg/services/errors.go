// Package services implements the flow and approval use cases on top of the graph store.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid approval status")
	ErrInvalidVersion   = errors.New("expected version must be positive")
	ErrFlowNil          = errors.New("flow cannot be nil")

	// Not Found (404).
	ErrFlowNotFound = persistence.ErrFlowNotFound

	// Conflicts (409). A version conflict means someone else saved first.
	ErrVersionConflict   = persistence.ErrVersionConflict
	ErrInvalidTransition = approval.ErrInvalidTransition

	// Forbidden (403) and Unprocessable (422).
	ErrForbidden        = approval.ErrForbidden
	ErrValidationFailed = approval.ErrValidationFailed
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a request error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidVersion) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, persistence.ErrInvalidSortField)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsConflictError checks if an error is a stale write or an impossible transition (HTTP 409).
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsForbiddenError checks if the caller's role is insufficient (HTTP 403).
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsUnprocessableError checks if the flow has defects blocking the action (HTTP 422).
func IsUnprocessableError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}
