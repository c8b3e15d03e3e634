// Package approval implements the draft → reviewed → approved lifecycle of a flow.
package approval

import (
	"errors"
	"fmt"

	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/models"
)

var (
	// ErrValidationFailed indicates the flow still has defects.
	ErrValidationFailed = errors.New("validation failed")

	// ErrForbidden indicates the acting role may not perform the transition.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition indicates the target status cannot be reached from the current one.
	ErrInvalidTransition = errors.New("invalid approval transition")
)

// ValidationFailedError carries the defects that blocked a transition.
type ValidationFailedError struct {
	Report models.Report
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("%s: %d defect(s)", ErrValidationFailed, len(e.Report))
}

func (e *ValidationFailedError) Unwrap() error {
	return ErrValidationFailed
}

// Decision is the outcome of a permitted transition.
type Decision struct {
	From models.ApprovalStatus
	To   models.ApprovalStatus
	NoOp bool
}

// Transition checks whether a flow may move from one status to another.
// The role check runs before validation; a forbidden caller gets no defect list.
func Transition(from, to models.ApprovalStatus, report models.Report, role auth.Role) (Decision, error) {
	decision := Decision{From: from, To: to}

	if !from.Valid() || !to.Valid() {
		return decision, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case models.ApprovalStatusDraft:
		if !role.AtLeast(auth.RoleEditor) {
			return decision, fmt.Errorf("%w: role %s cannot edit", ErrForbidden, role)
		}

		decision.NoOp = from == models.ApprovalStatusDraft

		return decision, nil

	case models.ApprovalStatusReviewed:
		if from == models.ApprovalStatusApproved {
			return decision, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		if !role.AtLeast(auth.RoleEditor) {
			return decision, fmt.Errorf("%w: role %s cannot request review", ErrForbidden, role)
		}

	case models.ApprovalStatusApproved:
		if from == models.ApprovalStatusDraft {
			return decision, fmt.Errorf("%w: %s -> %s, review first", ErrInvalidTransition, from, to)
		}

		if !role.AtLeast(auth.RoleApprover) {
			return decision, fmt.Errorf("%w: role %s cannot approve", ErrForbidden, role)
		}
	}

	if !report.Valid() {
		return decision, &ValidationFailedError{Report: report}
	}

	decision.NoOp = from == to

	return decision, nil
}
