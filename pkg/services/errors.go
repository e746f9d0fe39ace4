// Package services provides the business operations behind the HTTP API:
// schedule management, workflow publishing, run triggering and approval
// decisions. Handlers stay thin; every rule lives here.
package services

import (
	"errors"
	"fmt"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrScheduleNil      = errors.New("schedule cannot be nil")
	ErrWorkflowNil      = errors.New("workflow cannot be nil")
	ErrInvalidDecision  = errors.New("decision must be approve or reject")
	ErrApproverRequired = errors.New("approver is required")
)

// Business conflicts (409 Conflict).
var (
	ErrWorkflowVersionExists = errors.New("workflow version already published")
	ErrRunNotCancelable      = errors.New("run is already terminal")
)

// ServiceError wraps a service-level failure with the operation that hit it.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
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

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrScheduleNil) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrApproverRequired) ||
		errors.Is(err, models.ErrInvalidPolicyType) ||
		errors.Is(err, models.ErrMissingAt) ||
		errors.Is(err, models.ErrEverySecNotPositive) ||
		errors.Is(err, models.ErrMissingWindowBounds) ||
		errors.Is(err, models.ErrIntervalNotPositive) ||
		errors.Is(err, models.ErrWindowEndBeforeStart) ||
		errors.Is(err, models.ErrInvalidCronExpression) ||
		errors.Is(err, models.ErrEmptyDAG) ||
		errors.Is(err, models.ErrUnknownEdgeNode) ||
		errors.Is(err, models.ErrDuplicateNodeID)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowVersionExists) ||
		errors.Is(err, ErrRunNotCancelable) ||
		errors.Is(err, persistence.ErrApprovalResolved) ||
		errors.Is(err, persistence.ErrInvalidTransition) ||
		errors.Is(err, persistence.ErrNotLeaseOwner)
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
