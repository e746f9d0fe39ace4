// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrScheduleNotFound indicates a schedule was not found by the given identifier.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrWorkflowNotFound indicates no workflow exists for the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkItemNotFound indicates a work item was not found by the given task id.
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrApprovalNotFound indicates an approval was not found by the given identifier.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrApprovalResolved indicates an approval has already been decided or expired.
	ErrApprovalResolved = errors.New("approval already resolved")

	// ErrNotLeaseOwner indicates the caller does not hold the current lease.
	ErrNotLeaseOwner = errors.New("agent is not the lease owner")

	// ErrInvalidTransition indicates a status change violates the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g., "ClaimWorkItem", "UpsertRun")
	Entity string // Entity kind (schedule, run, work_item, approval, workflow)
	ID     string // Record identifier if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrWorkItemNotFound) ||
		errors.Is(err, ErrApprovalNotFound)
}

// IsInvalidTransition checks if an error indicates an illegal status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsNotLeaseOwner checks if an error indicates a lease ownership mismatch.
func IsNotLeaseOwner(err error) bool {
	return errors.Is(err, ErrNotLeaseOwner)
}
