// Package runengine advances runs through their workflow DAG. Each tick picks
// up queued, running and blocked runs, dispatches ready nodes as work items,
// parks approval-gated runs, and finalizes runs whose nodes have all settled.
// One run failing never touches its siblings; inside a run the first failed
// node fails the whole run.
package runengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/events"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/template"
	"github.com/ordino-dev/ordino/pkg/wal"
)

const (
	defaultRunLimit          = 50
	defaultApprovalExpirySec = int64(3600)
	defaultTaskType          = "default"
)

// Engine drives run progression.
type Engine struct {
	persistence persistence.Persistence
	queue       *queue.Queue
	wal         *wal.WAL
	publisher   eventbus.EventPublisher
	evaluator   Evaluator
	logger      *slog.Logger
	runLimit    int
}

// NewEngine creates a run engine. A nil evaluator makes eval nodes succeed
// immediately; a nil publisher disables notifications.
func NewEngine(logger *slog.Logger, persist persistence.Persistence, q *queue.Queue, w *wal.WAL, publisher eventbus.EventPublisher, evaluator Evaluator) *Engine {
	return &Engine{
		persistence: persist,
		queue:       q,
		wal:         w,
		publisher:   publisher,
		evaluator:   evaluator,
		logger:      logger.With("module", "runengine"),
		runLimit:    defaultRunLimit,
	}
}

// Tick advances every active run. A failure in one run is logged and the
// remaining runs still progress.
func (e *Engine) Tick(ctx context.Context, now int64) error {
	active := []models.RunStatus{models.RunStatusQueued, models.RunStatusRunning, models.RunStatusBlocked}

	runs, err := e.persistence.ListRunsByStatus(ctx, active, e.runLimit)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}

	for _, run := range runs {
		if err := e.advanceRun(ctx, run, now); err != nil {
			e.logger.ErrorContext(ctx, "Failed to advance run",
				"run_id", run.RunID, "error", err)
		}
	}

	return nil
}

func (e *Engine) advanceRun(ctx context.Context, run *models.Run, now int64) error {
	if run.Status == models.RunStatusBlocked {
		unblocked, err := e.tryUnblock(ctx, run, now)
		if err != nil {
			return err
		}

		if !unblocked {
			return nil
		}

		if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusRunning, 0); err != nil {
			return err
		}

		run.Status = models.RunStatusRunning
	}

	if run.Status == models.RunStatusQueued {
		if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusRunning, 0); err != nil {
			return err
		}

		run.Status = models.RunStatusRunning
	}

	workflow, err := e.persistence.LatestWorkflow(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return e.failRunMissingWorkflow(ctx, run, now)
		}

		return err
	}

	return e.progressRun(ctx, run, workflow, now)
}

func (e *Engine) failRunMissingWorkflow(ctx context.Context, run *models.Run, now int64) error {
	if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusFailed, now); err != nil {
		return err
	}

	if err := e.wal.Append(wal.RecordMissingWorkflow, map[string]any{
		"run_id":      run.RunID,
		"workflow_id": run.WorkflowID,
	}); err != nil {
		return err
	}

	e.logger.WarnContext(ctx, "Run failed, workflow missing",
		"run_id", run.RunID, "workflow_id", run.WorkflowID)

	e.publishRunFailed(ctx, run, "", "missing workflow")

	return nil
}

// progressRun dispatches every ready node of one run and finalizes the run
// when all nodes have succeeded. The first failed node fails the run and
// stops further dispatch.
func (e *Engine) progressRun(ctx context.Context, run *models.Run, workflow *models.Workflow, now int64) error {
	deps := workflow.DAG.Dependencies()

	nodeRuns, err := e.loadNodeRuns(ctx, run, workflow, now)
	if err != nil {
		return err
	}

	for i := range workflow.DAG.Nodes {
		node := &workflow.DAG.Nodes[i]

		nodeRun := nodeRuns[node.NodeID]
		if nodeSettled(nodeRun.Status) {
			continue
		}

		if !depsSucceeded(deps[node.NodeID], nodeRuns) {
			continue
		}

		switch node.Type {
		case models.NodeTypeApproval:
			blocked, err := e.dispatchApproval(ctx, run, node, nodeRun, now)
			if err != nil {
				return err
			}

			if blocked {
				return nil
			}
		case models.NodeTypeEval:
			failed, err := e.dispatchEval(ctx, run, node, nodeRun, now)
			if err != nil {
				return err
			}

			if failed {
				return nil
			}

			nodeRuns[node.NodeID].Status = models.NodeStatusSucceeded
		case models.NodeTypeTask:
			failed, err := e.dispatchTask(ctx, run, node, nodeRun, now)
			if err != nil {
				return err
			}

			if failed {
				return nil
			}
		}
	}

	return e.finalizeIfComplete(ctx, run, workflow, now)
}

// loadNodeRuns returns the run's node rows, materializing a pending row for
// every node that has none yet.
func (e *Engine) loadNodeRuns(ctx context.Context, run *models.Run, workflow *models.Workflow, now int64) (map[string]*models.NodeRun, error) {
	existing, err := e.persistence.ListNodeRuns(ctx, run.RunID)
	if err != nil {
		return nil, err
	}

	nodeRuns := make(map[string]*models.NodeRun, len(workflow.DAG.Nodes))
	for _, nr := range existing {
		nodeRuns[nr.NodeID] = nr
	}

	for i := range workflow.DAG.Nodes {
		node := &workflow.DAG.Nodes[i]
		if _, ok := nodeRuns[node.NodeID]; ok {
			continue
		}

		snapshot := map[string]any{"node": node}
		if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusPending, snapshot, 0); err != nil {
			return nil, err
		}

		nodeRuns[node.NodeID] = &models.NodeRun{
			NodeID:    node.NodeID,
			RunID:     run.RunID,
			Status:    models.NodeStatusPending,
			Snapshot:  snapshot,
			StartedAt: now,
		}
	}

	return nodeRuns, nil
}

// dispatchApproval parks the run behind a human approval gate. Returns true
// when the run became blocked.
func (e *Engine) dispatchApproval(ctx context.Context, run *models.Run, node *models.Node, nodeRun *models.NodeRun, now int64) (bool, error) {
	if nodeRun.Status == models.NodeStatusWaitingApproval || nodeRun.Status == models.NodeStatusSucceeded {
		return false, nil
	}

	expiresSec := node.ExpiresSec
	if expiresSec <= 0 {
		expiresSec = defaultApprovalExpirySec
	}

	approval := &models.Approval{
		ApprovalID:  "ap-" + uuid.NewString(),
		TaskID:      run.RunID + ":" + node.NodeID,
		RiskScore:   models.NormalizeRiskScore(node.RiskScore),
		RiskFactors: node.RiskFactors,
		Requester: map[string]any{
			"workflow_id": run.WorkflowID,
			"run_id":      run.RunID,
		},
		Status:    models.ApprovalStatusPending,
		ExpiresAt: now + expiresSec,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.persistence.CreateApproval(ctx, approval); err != nil {
		return false, err
	}

	snapshot := map[string]any{"approval_id": approval.ApprovalID}
	if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusWaitingApproval, snapshot, 0); err != nil {
		return false, err
	}

	if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusBlocked, 0); err != nil {
		return false, err
	}

	if err := e.wal.Append(wal.RecordWaitingApproval, map[string]any{
		"run_id":      run.RunID,
		"node_id":     node.NodeID,
		"approval_id": approval.ApprovalID,
	}); err != nil {
		return false, err
	}

	e.logger.InfoContext(ctx, "Run blocked on approval",
		"run_id", run.RunID, "node_id", node.NodeID, "approval_id", approval.ApprovalID)

	e.publish(ctx, run.RunID, events.NodeWaitingApproval{
		BaseEvent:  e.baseEvent(events.NodeWaitingApprovalEvent, run.TraceID),
		RunID:      run.RunID,
		NodeID:     node.NodeID,
		ApprovalID: approval.ApprovalID,
	})

	return true, nil
}

// dispatchEval settles an eval node through the configured evaluator. Returns
// true when the node failed and the run was failed with it.
func (e *Engine) dispatchEval(ctx context.Context, run *models.Run, node *models.Node, nodeRun *models.NodeRun, now int64) (bool, error) {
	if e.evaluator == nil {
		return false, e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusSucceeded, evalSkippedSnapshot(), now)
	}

	passed, snapshot, err := e.evaluator.Evaluate(ctx, node, run)
	if err != nil {
		return false, evalError(node, err)
	}

	if !passed {
		if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusFailed, snapshot, now); err != nil {
			return false, err
		}

		return true, e.failRun(ctx, run, node.NodeID, "eval rejected", now)
	}

	return false, e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusSucceeded, snapshot, now)
}

// dispatchTask enqueues a node's work item or settles the node from the
// item's terminal state. Returns true when the node failed and the run was
// failed with it.
func (e *Engine) dispatchTask(ctx context.Context, run *models.Run, node *models.Node, nodeRun *models.NodeRun, now int64) (bool, error) {
	taskID := fmt.Sprintf("wi-%s-%s", run.RunID, node.NodeID)

	item, err := e.persistence.WorkItemByID(ctx, taskID)
	if err != nil && !persistence.IsNotFound(err) {
		return false, err
	}

	if item == nil {
		return false, e.enqueueTask(ctx, run, node, taskID)
	}

	switch item.Status {
	case models.WorkItemStatusAcked:
		if nodeRun.Status != models.NodeStatusSucceeded {
			if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusSucceeded, nil, now); err != nil {
				return false, err
			}

			nodeRun.Status = models.NodeStatusSucceeded
		}

		return false, nil
	case models.WorkItemStatusFailed, models.WorkItemStatusDeadLetter:
		if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusFailed, nil, now); err != nil {
			return false, err
		}

		return true, e.failRun(ctx, run, node.NodeID, "work item failed", now)
	default:
		// Still in flight.
		return false, nil
	}
}

func (e *Engine) enqueueTask(ctx context.Context, run *models.Run, node *models.Node, taskID string) error {
	taskType := node.TaskType
	if taskType == "" {
		taskType = defaultTaskType
	}

	taskData, err := template.RenderTaskData(node.TaskData, run)
	if err != nil {
		return fmt.Errorf("failed to render task data for node %s: %w", node.NodeID, err)
	}

	if taskData == nil {
		taskData = map[string]any{}
	}

	payload := map[string]any{
		"task_type": taskType,
		"task_data": taskData,
		"context": map[string]any{
			"run_id":      run.RunID,
			"node_id":     node.NodeID,
			"workflow_id": run.WorkflowID,
		},
	}

	if _, err := e.queue.Enqueue(ctx, taskID, node.Priority, payload, node.IdempotencyKey); err != nil {
		return err
	}

	snapshot := map[string]any{"work_item": taskID}
	if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, node.NodeID, models.NodeStatusRunning, snapshot, 0); err != nil {
		return err
	}

	if err := e.wal.Append(wal.RecordDispatchedWorkItem, map[string]any{
		"run_id":  run.RunID,
		"node_id": node.NodeID,
		"task_id": taskID,
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Work item dispatched",
		"run_id", run.RunID, "node_id", node.NodeID, "task_id", taskID)

	e.publish(ctx, run.RunID, events.NodeDispatched{
		BaseEvent: e.baseEvent(events.NodeDispatchedEvent, run.TraceID),
		RunID:     run.RunID,
		NodeID:    node.NodeID,
		TaskID:    taskID,
	})

	return nil
}

// finalizeIfComplete marks the run succeeded once every node run settled
// successfully.
func (e *Engine) finalizeIfComplete(ctx context.Context, run *models.Run, workflow *models.Workflow, now int64) error {
	nodeRuns, err := e.persistence.ListNodeRuns(ctx, run.RunID)
	if err != nil {
		return err
	}

	if len(nodeRuns) < len(workflow.DAG.Nodes) {
		return nil
	}

	for _, nr := range nodeRuns {
		if nr.Status != models.NodeStatusSucceeded {
			return nil
		}
	}

	if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusSucceeded, now); err != nil {
		return err
	}

	if err := e.wal.Append(wal.RecordRunSucceeded, map[string]any{
		"run_id": run.RunID,
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Run succeeded", "run_id", run.RunID)

	e.publish(ctx, run.RunID, events.RunSucceeded{
		BaseEvent:  e.baseEvent(events.RunSucceededEvent, run.TraceID),
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		DurationMs: (now - run.StartedAt) * 1000,
	})

	return nil
}

// tryUnblock inspects a blocked run's approval gates. Expired pending
// approvals are transitioned first; any rejection, expiry or cancellation
// fails the run. Returns true when every gate resolved approved.
func (e *Engine) tryUnblock(ctx context.Context, run *models.Run, now int64) (bool, error) {
	nodeRuns, err := e.persistence.ListNodeRuns(ctx, run.RunID)
	if err != nil {
		return false, err
	}

	waiting := make([]*models.NodeRun, 0, 1)

	for _, nr := range nodeRuns {
		if nr.Status == models.NodeStatusWaitingApproval {
			waiting = append(waiting, nr)
		}
	}

	if len(waiting) == 0 {
		return true, nil
	}

	for _, nr := range waiting {
		approvalID := nr.ApprovalID()
		if approvalID == "" {
			return false, fmt.Errorf("node %s waiting without approval id", nr.NodeID)
		}

		approval, err := e.persistence.ApprovalByID(ctx, approvalID)
		if err != nil {
			return false, err
		}

		if approval.Status == models.ApprovalStatusPending && approval.ExpiresAt > 0 && approval.ExpiresAt <= now {
			if err := e.persistence.DecideApproval(ctx, approvalID, nil, models.ApprovalStatusExpired); err != nil {
				return false, err
			}

			approval.Status = models.ApprovalStatusExpired
		}

		switch approval.Status {
		case models.ApprovalStatusApproved:
			if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, nr.NodeID, models.NodeStatusSucceeded, nil, now); err != nil {
				return false, err
			}
		case models.ApprovalStatusRejected, models.ApprovalStatusExpired, models.ApprovalStatusCanceled:
			if err := e.persistence.UpdateNodeStatus(ctx, run.RunID, nr.NodeID, models.NodeStatusFailed, nil, now); err != nil {
				return false, err
			}

			return false, e.failRun(ctx, run, nr.NodeID, "approval "+string(approval.Status), now)
		default:
			return false, nil
		}
	}

	return true, nil
}

func (e *Engine) failRun(ctx context.Context, run *models.Run, nodeID, reason string, now int64) error {
	if err := e.persistence.UpdateRunStatus(ctx, run.RunID, models.RunStatusFailed, now); err != nil {
		return err
	}

	if err := e.wal.Append(wal.RecordNodeFailed, map[string]any{
		"run_id":  run.RunID,
		"node_id": nodeID,
		"reason":  reason,
	}); err != nil {
		return err
	}

	e.logger.WarnContext(ctx, "Run failed",
		"run_id", run.RunID, "node_id", nodeID, "reason", reason)

	e.publishRunFailed(ctx, run, nodeID, reason)

	return nil
}

func (e *Engine) publishRunFailed(ctx context.Context, run *models.Run, nodeID, reason string) {
	e.publish(ctx, run.RunID, events.RunFailed{
		BaseEvent:  e.baseEvent(events.RunFailedEvent, run.TraceID),
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		NodeID:     nodeID,
		Reason:     reason,
	})
}

func (e *Engine) baseEvent(eventType events.EventType, traceID string) events.BaseEvent {
	return events.BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish run event",
			"event_type", event.GetType(), "error", err)
	}
}

func nodeSettled(status models.NodeStatus) bool {
	switch status {
	case models.NodeStatusSucceeded, models.NodeStatusSkipped, models.NodeStatusCanceled:
		return true
	default:
		return false
	}
}

func depsSucceeded(deps map[string]struct{}, nodeRuns map[string]*models.NodeRun) bool {
	for dep := range deps {
		nr, ok := nodeRuns[dep]
		if !ok || nr.Status != models.NodeStatusSucceeded {
			return false
		}
	}

	return true
}
