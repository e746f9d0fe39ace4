// Package events defines the notification events emitted by the runtime.
// Events are advisory fan-out for observers; the WAL, not the bus, is the
// durable record of what happened.
package events

import (
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

type EventType string

// Kafka topic carrying every runtime event.
const Topic = "ordino.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Schedule and run lifecycle events.
	ScheduleTriggeredEvent EventType = "schedule.triggered"
	RunQueuedEvent         EventType = "run.queued"
	RunSucceededEvent      EventType = "run.succeeded"
	RunFailedEvent         EventType = "run.failed"
	RunCanceledEvent       EventType = "run.canceled"

	// Node and work item events.
	NodeDispatchedEvent      EventType = "node.dispatched"
	NodeWaitingApprovalEvent EventType = "node.waiting_approval"
	WorkItemAckedEvent       EventType = "workitem.acked"
	WorkItemDeadLetterEvent  EventType = "workitem.dead_letter"

	// Operator events.
	ApprovalDecidedEvent  EventType = "approval.decided"
	RuntimeRecoveredEvent EventType = "runtime.recovered"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ScheduleTriggered struct {
	BaseEvent

	ScheduleID string `json:"schedule_id"`
	RunID      string `json:"run_id"`
	FireAt     int64  `json:"fire_at"`
}

func (e ScheduleTriggered) GetType() EventType {
	return ScheduleTriggeredEvent
}

type RunQueued struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

func (e RunQueued) GetType() EventType {
	return RunQueuedEvent
}

type RunSucceeded struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	DurationMs int64  `json:"duration_ms"`
}

func (e RunSucceeded) GetType() EventType {
	return RunSucceededEvent
}

type RunFailed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCanceled struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

func (e RunCanceled) GetType() EventType {
	return RunCanceledEvent
}

type NodeDispatched struct {
	BaseEvent

	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	TaskID string `json:"task_id"`
}

func (e NodeDispatched) GetType() EventType {
	return NodeDispatchedEvent
}

type NodeWaitingApproval struct {
	BaseEvent

	RunID      string `json:"run_id"`
	NodeID     string `json:"node_id"`
	ApprovalID string `json:"approval_id"`
}

func (e NodeWaitingApproval) GetType() EventType {
	return NodeWaitingApprovalEvent
}

type WorkItemAcked struct {
	BaseEvent

	TaskID   string `json:"task_id"`
	AgentID  string `json:"agent_id"`
	Attempts int    `json:"attempts"`
}

func (e WorkItemAcked) GetType() EventType {
	return WorkItemAckedEvent
}

type WorkItemDeadLetter struct {
	BaseEvent

	TaskID   string `json:"task_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

func (e WorkItemDeadLetter) GetType() EventType {
	return WorkItemDeadLetterEvent
}

type ApprovalDecided struct {
	BaseEvent

	ApprovalID string                `json:"approval_id"`
	TaskID     string                `json:"task_id"`
	Status     models.ApprovalStatus `json:"status"`
	Approver   string                `json:"approver,omitempty"`
}

func (e ApprovalDecided) GetType() EventType {
	return ApprovalDecidedEvent
}

type RuntimeRecovered struct {
	BaseEvent

	ReclaimedLeases int `json:"reclaimed_leases"`
	ReplayedRecords int `json:"replayed_records"`
}

func (e RuntimeRecovered) GetType() EventType {
	return RuntimeRecoveredEvent
}
