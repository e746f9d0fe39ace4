package runengine

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence/file"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/wal"
)

type testHarness struct {
	engine  *Engine
	persist *file.Persistence
	queue   *queue.Queue
	wal     *wal.WAL
}

func newHarness(t *testing.T, evaluator Evaluator) *testHarness {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())

	w, err := wal.New(filepath.Join(t.TempDir(), "runtime.wal"))
	require.NoError(t, err)

	q := queue.NewQueue(slog.Default(), persist, nil)

	return &testHarness{
		engine:  NewEngine(slog.Default(), persist, q, w, nil, evaluator),
		persist: persist,
		queue:   q,
		wal:     w,
	}
}

func (h *testHarness) saveWorkflow(t *testing.T, workflowID string, dag models.DAG) {
	t.Helper()

	require.NoError(t, h.persist.SaveWorkflow(t.Context(), &models.Workflow{
		WorkflowID: workflowID,
		Version:    1,
		DAG:        dag,
	}))
}

func (h *testHarness) queueRun(t *testing.T, runID, workflowID string) {
	t.Helper()

	require.NoError(t, h.persist.UpsertRun(t.Context(), &models.Run{
		RunID:          runID,
		TraceID:        "tr-test",
		WorkflowID:     workflowID,
		Status:         models.RunStatusQueued,
		ConfigSnapshot: map[string]any{},
		StartedAt:      100,
	}))
}

func (h *testHarness) nodeStatus(t *testing.T, runID, nodeID string) models.NodeStatus {
	t.Helper()

	nodeRuns, err := h.persist.ListNodeRuns(t.Context(), runID)
	require.NoError(t, err)

	for _, nr := range nodeRuns {
		if nr.NodeID == nodeID {
			return nr.Status
		}
	}

	t.Fatalf("node run %s not found", nodeID)

	return ""
}

func (h *testHarness) settleWorkItem(t *testing.T, taskID string, succeed bool) {
	t.Helper()

	ctx := t.Context()

	item, err := h.queue.Claim(ctx, "agent-test", 100, 60)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, taskID, item.TaskID)

	if succeed {
		require.NoError(t, h.queue.Ack(ctx, taskID, "agent-test"))
	} else {
		// Exhaust the default retry budget so the item dead letters.
		require.NoError(t, h.persist.AckWorkItem(ctx, taskID, "agent-test", models.WorkItemStatusDeadLetter, 3))
	}
}

func chainDAG() models.DAG {
	return models.DAG{
		Nodes: []models.Node{
			{NodeID: "a", Type: models.NodeTypeTask},
			{NodeID: "b", Type: models.NodeTypeTask},
			{NodeID: "c", Type: models.NodeTypeTask},
		},
		Edges: []models.Edge{
			{FromNode: "a", ToNode: "b"},
			{FromNode: "b", ToNode: "c"},
		},
	}
}

func TestTickDispatchesOnlyReadyNodes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", chainDAG())
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	assert.Equal(t, models.NodeStatusRunning, h.nodeStatus(t, "run-1", "a"))
	assert.Equal(t, models.NodeStatusPending, h.nodeStatus(t, "run-1", "b"))
	assert.Equal(t, models.NodeStatusPending, h.nodeStatus(t, "run-1", "c"))

	// Only a's work item exists.
	_, err = h.persist.WorkItemByID(ctx, "wi-run-1-a")
	require.NoError(t, err)
	_, err = h.persist.WorkItemByID(ctx, "wi-run-1-b")
	assert.Error(t, err)
}

func TestRunSucceedsAfterChainCompletes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", chainDAG())
	h.queueRun(t, "run-1", "wf-1")

	for _, nodeID := range []string{"a", "b", "c"} {
		require.NoError(t, h.engine.Tick(ctx, 200))
		h.settleWorkItem(t, "wi-run-1-"+nodeID, true)
	}

	require.NoError(t, h.engine.Tick(ctx, 300))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, int64(300), run.EndedAt)

	records, err := h.wal.Records()
	require.NoError(t, err)

	var succeeded bool

	for _, r := range records {
		if r.Type == wal.RecordRunSucceeded {
			succeeded = true
		}
	}

	assert.True(t, succeeded)
}

func TestFailedNodeFailsRunAndStopsDispatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", chainDAG())
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))
	h.settleWorkItem(t, "wi-run-1-a", false)

	require.NoError(t, h.engine.Tick(ctx, 250))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, int64(250), run.EndedAt)

	assert.Equal(t, models.NodeStatusFailed, h.nodeStatus(t, "run-1", "a"))
	assert.Equal(t, models.NodeStatusPending, h.nodeStatus(t, "run-1", "b"), "downstream nodes never dispatch")

	_, err = h.persist.WorkItemByID(ctx, "wi-run-1-b")
	assert.Error(t, err)
}

func TestFailedRunDoesNotBlockSiblings(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", chainDAG())
	h.queueRun(t, "run-1", "wf-1")
	h.queueRun(t, "run-2", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	// Fail run-1's item; run-2's stays in flight.
	items, err := h.persist.ListWorkItems(ctx, models.WorkItemStatusCreated, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, h.persist.AckWorkItem(ctx, "wi-run-1-a", "", models.WorkItemStatusDeadLetter, 3))

	require.NoError(t, h.engine.Tick(ctx, 250))

	run1, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run1.Status)

	run2, err := h.persist.RunByID(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run2.Status)
}

func TestMissingWorkflowFailsRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.queueRun(t, "run-1", "wf-ghost")

	require.NoError(t, h.engine.Tick(ctx, 200))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	records, err := h.wal.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, wal.RecordMissingWorkflow, records[0].Type)
	assert.Equal(t, "wf-ghost", records[0].Data["workflow_id"])
}

func approvalDAG(expiresSec int64) models.DAG {
	return models.DAG{
		Nodes: []models.Node{
			{NodeID: "gate", Type: models.NodeTypeApproval, RiskScore: 0.8, ExpiresSec: expiresSec},
			{NodeID: "deploy", Type: models.NodeTypeTask},
		},
		Edges: []models.Edge{{FromNode: "gate", ToNode: "deploy"}},
	}
}

func TestApprovalGateBlocksRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", approvalDAG(0))
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusBlocked, run.Status)
	assert.Equal(t, models.NodeStatusWaitingApproval, h.nodeStatus(t, "run-1", "gate"))

	approvals, err := h.persist.ListApprovals(ctx, models.ApprovalStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "run-1:gate", approvals[0].TaskID)
	assert.InDelta(t, 80.0, approvals[0].RiskScore, 0.01, "fractional risk scores normalize to 0-100")

	// While pending, further ticks keep the run blocked without
	// duplicating the approval.
	require.NoError(t, h.engine.Tick(ctx, 210))

	approvals, err = h.persist.ListApprovals(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestApprovedGateUnblocksRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", approvalDAG(0))
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	approvals, err := h.persist.ListApprovals(ctx, models.ApprovalStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	decision := &models.ApprovalDecision{
		ApprovalID: approvals[0].ApprovalID,
		Decision:   "approve",
		Approver:   "ops",
	}
	require.NoError(t, h.persist.DecideApproval(ctx, approvals[0].ApprovalID, decision, models.ApprovalStatusApproved))

	require.NoError(t, h.engine.Tick(ctx, 300))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, models.NodeStatusSucceeded, h.nodeStatus(t, "run-1", "gate"))
	assert.Equal(t, models.NodeStatusRunning, h.nodeStatus(t, "run-1", "deploy"), "the gated node dispatches after approval")
}

func TestRejectedGateFailsRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", approvalDAG(0))
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	approvals, err := h.persist.ListApprovals(ctx, models.ApprovalStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	decision := &models.ApprovalDecision{
		ApprovalID: approvals[0].ApprovalID,
		Decision:   "reject",
		Approver:   "ops",
		Reason:     "too risky",
	}
	require.NoError(t, h.persist.DecideApproval(ctx, approvals[0].ApprovalID, decision, models.ApprovalStatusRejected))

	require.NoError(t, h.engine.Tick(ctx, 300))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.NodeStatusFailed, h.nodeStatus(t, "run-1", "gate"))
}

func TestExpiredGateFailsRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", approvalDAG(60))
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	// Well past the gate's expiry.
	require.NoError(t, h.engine.Tick(ctx, 500))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	approvals, err := h.persist.ListApprovals(ctx, models.ApprovalStatusExpired, 10)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestEvalNodeWithoutEvaluatorSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	dag := models.DAG{Nodes: []models.Node{{NodeID: "check", Type: models.NodeTypeEval}}}
	h.saveWorkflow(t, "wf-1", dag)
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
}

func TestTaskDataRendersConfigSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	h.saveWorkflow(t, "wf-1", models.DAG{
		Nodes: []models.Node{{
			NodeID:   "a",
			Type:     models.NodeTypeTask,
			TaskData: map[string]any{"target": "{{ .config.region }}"},
		}},
	})

	require.NoError(t, h.persist.UpsertRun(ctx, &models.Run{
		RunID:          "run-1",
		WorkflowID:     "wf-1",
		Status:         models.RunStatusQueued,
		ConfigSnapshot: map[string]any{"region": "eu-west-1"},
		StartedAt:      100,
	}))

	require.NoError(t, h.engine.Tick(ctx, 200))

	item, err := h.persist.WorkItemByID(ctx, "wi-run-1-a")
	require.NoError(t, err)

	taskData, ok := item.Payload["task_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", taskData["target"])
}

func TestThresholdEvaluatorGatesRun(t *testing.T) {
	h := newHarness(t, ThresholdEvaluator{})
	ctx := t.Context()

	dag := models.DAG{Nodes: []models.Node{{
		NodeID:   "check",
		Type:     models.NodeTypeEval,
		TaskData: map[string]any{"score": 40.0, "min_score": 75.0},
	}}}
	h.saveWorkflow(t, "wf-1", dag)
	h.queueRun(t, "run-1", "wf-1")

	require.NoError(t, h.engine.Tick(ctx, 200))

	run, err := h.persist.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.NodeStatusFailed, h.nodeStatus(t, "run-1", "check"))
}
