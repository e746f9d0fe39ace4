// Package web provides HTTP request and response types for the runtime API.
package web

import "github.com/ordino-dev/ordino/pkg/models"

// CreateScheduleRequest represents the request body for creating a schedule.
type CreateScheduleRequest struct {
	ID         string        `json:"id,omitempty"`
	WorkflowID string        `json:"workflow_id" validate:"required"`
	Version    int           `json:"version,omitempty"`
	Enabled    bool          `json:"enabled"`
	Policy     models.Policy `json:"policy"      validate:"required"`
}

// UpdateScheduleRequest represents the request body for updating a schedule.
// All fields are optional to support partial updates.
type UpdateScheduleRequest struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Policy  *models.Policy `json:"policy,omitempty"`
}

// PublishWorkflowRequest represents the request body for publishing a
// workflow version. A zero version is auto-assigned latest+1.
type PublishWorkflowRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Version    int            `json:"version,omitempty"`
	DAG        models.DAG     `json:"dag"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TriggerRunRequest represents the request body for manually triggering a run.
type TriggerRunRequest struct {
	WorkflowID     string         `json:"workflow_id" validate:"required"`
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
}

// EnqueueWorkItemRequest represents the request body for enqueueing a work item.
type EnqueueWorkItemRequest struct {
	TaskID         string         `json:"task_id"  validate:"required"`
	Priority       int            `json:"priority" validate:"min=0"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ClaimWorkItemRequest represents the request body for claiming a work item.
type ClaimWorkItemRequest struct {
	AgentID     string `json:"agent_id"      validate:"required"`
	MaxPriority int    `json:"max_priority"  validate:"min=0"`
	LeaseTTLSec int64  `json:"lease_ttl_sec" validate:"min=1"`
}

// AckWorkItemRequest represents the request body for acknowledging a work item.
type AckWorkItemRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Outcome string `json:"outcome"  validate:"required,oneof=success failure"`
	Reason  string `json:"reason,omitempty"`
}

// DecideApprovalRequest represents the request body for deciding an approval.
type DecideApprovalRequest struct {
	Decision   string   `json:"decision"   validate:"required,oneof=approve reject"`
	Approver   string   `json:"approver"   validate:"required"`
	Reason     string   `json:"reason,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// ScheduleDetailResponse pairs a schedule with its recent firings.
type ScheduleDetailResponse struct {
	Schedule *models.Schedule          `json:"schedule"`
	Triggers []*models.ScheduleTrigger `json:"triggers"`
}
