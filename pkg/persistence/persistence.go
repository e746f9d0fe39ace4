// Package persistence provides the data storage abstraction for schedules,
// runs, work items and approvals: the structured state store every runtime
// process shares. All mutual exclusion between concurrently ticking processes
// is pushed into this layer via single-row guarded updates; callers never hold
// locks across a tick.
package persistence

import (
	"context"

	"github.com/ordino-dev/ordino/pkg/models"
)

// ScheduleRepository stores recurring-run policies.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	ScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Schedule, string, error)

	// ListDueSchedules returns enabled schedules with next_fire_at <= now or
	// never seeded (0), bounded by limit. This is the scheduler's hot path.
	ListDueSchedules(ctx context.Context, now int64, limit int) ([]*models.Schedule, error)
	SetScheduleNextFireAt(ctx context.Context, id string, nextFireAt int64) error

	AddScheduleTrigger(ctx context.Context, trigger *models.ScheduleTrigger) error
	ListScheduleTriggers(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleTrigger, error)
}

// RunRepository stores runs and their per-node execution records.
type RunRepository interface {
	// UpsertRun inserts or replaces a run keyed by run_id. Deterministic run
	// ids make schedule firings idempotent by construction.
	UpsertRun(ctx context.Context, run *models.Run) error

	// UpdateRunStatus applies a status transition, rejecting illegal ones with
	// ErrInvalidTransition. A zero endedAt leaves the run open.
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, endedAt int64) error

	RunByID(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Run, string, error)
	ListRunsByStatus(ctx context.Context, statuses []models.RunStatus, limit int) ([]*models.Run, error)

	ListNodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error)
	UpdateNodeStatus(ctx context.Context, runID, nodeID string, status models.NodeStatus, snapshot map[string]any, endedAt int64) error
}

// WorkflowRepository stores immutable workflow definitions.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByVersion(ctx context.Context, workflowID string, version int) (*models.Workflow, error)
	LatestWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
}

// WorkItemRepository stores the lease-claimed work queue.
type WorkItemRepository interface {
	// EnqueueWorkItem is an upsert on task_id: re-enqueueing an existing item
	// is a no-op so crashed dispatchers can safely retry.
	EnqueueWorkItem(ctx context.Context, item *models.WorkItem) error

	WorkItemByID(ctx context.Context, taskID string) (*models.WorkItem, error)
	ListWorkItems(ctx context.Context, status models.WorkItemStatus, limit int) ([]*models.WorkItem, error)

	// ClaimWorkItem atomically assigns the highest-priority created item (at
	// or below maxPriority) to agentID under a lease. Returns nil, nil when
	// nothing is claimable. Exactly one concurrent claimant can win an item.
	ClaimWorkItem(ctx context.Context, agentID string, maxPriority int, leaseTTLSec int64) (*models.WorkItem, error)

	// AckWorkItem records the outcome reported by the current lease owner.
	// An agent id that does not match the lease owner gets ErrNotLeaseOwner.
	AckWorkItem(ctx context.Context, taskID, agentID string, status models.WorkItemStatus, attempts int) error

	MarkWorkItemRunning(ctx context.Context, taskID, agentID string) error

	// ReclaimExpiredLeases returns claimed items whose lease expired before
	// now to created, bounded by limit, and reports how many were reclaimed.
	ReclaimExpiredLeases(ctx context.Context, now int64, limit int) (int, error)
}

// ApprovalRepository stores human-approval gates.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval *models.Approval) error
	ApprovalByID(ctx context.Context, approvalID string) (*models.Approval, error)
	ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.Approval, error)

	// DecideApproval resolves a pending approval. Resolving an already
	// resolved approval returns ErrApprovalResolved.
	DecideApproval(ctx context.Context, approvalID string, decision *models.ApprovalDecision, status models.ApprovalStatus) error
}

// OffsetRepository tracks per-subscriber replay positions, counted by record
// index rather than timestamp.
type OffsetRepository interface {
	EventOffset(ctx context.Context, subscriberID, topic string) (int, error)
	SetEventOffset(ctx context.Context, subscriberID, topic string, offset int) error
}

// AuditRepository records operator-visible audit rows.
type AuditRepository interface {
	AddAuditLog(ctx context.Context, traceID, actor, action, resource string, result map[string]any) error
}

// Persistence is the full structured state store surface shared by the
// scheduler, run engine, queue and API processes.
type Persistence interface {
	ScheduleRepository
	RunRepository
	WorkflowRepository
	WorkItemRepository
	ApprovalRepository
	OffsetRepository
	AuditRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
