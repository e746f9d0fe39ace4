package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func TestListDueSchedules(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	schedules := []*models.Schedule{
		{ID: "s-due", WorkflowID: "wf-1", Enabled: true, NextFireAt: 500},
		{ID: "s-future", WorkflowID: "wf-1", Enabled: true, NextFireAt: 5000},
		{ID: "s-unseeded", WorkflowID: "wf-1", Enabled: true, NextFireAt: 0},
		{ID: "s-disabled", WorkflowID: "wf-1", Enabled: false, NextFireAt: 100},
	}
	for _, s := range schedules {
		s.Policy = models.Policy{Type: models.PolicyTypeInterval, EverySec: 60}
		require.NoError(t, p.CreateSchedule(ctx, s))
	}

	due, err := p.ListDueSchedules(ctx, 1000, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "s-unseeded", due[0].ID)
	assert.Equal(t, "s-due", due[1].ID)
}

func TestSetScheduleNextFireAt(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.CreateSchedule(ctx, &models.Schedule{ID: "s-1", Enabled: true}))
	require.NoError(t, p.SetScheduleNextFireAt(ctx, "s-1", 4242))

	schedule, err := p.ScheduleByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), schedule.NextFireAt)

	err = p.SetScheduleNextFireAt(ctx, "missing", 1)
	assert.ErrorIs(t, err, persistence.ErrScheduleNotFound)
}

func TestRunStatusTransitions(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	run := &models.Run{RunID: "run-1", WorkflowID: "wf-1", Status: models.RunStatusQueued, StartedAt: 100}
	require.NoError(t, p.UpsertRun(ctx, run))

	require.NoError(t, p.UpdateRunStatus(ctx, "run-1", models.RunStatusRunning, 0))
	require.NoError(t, p.UpdateRunStatus(ctx, "run-1", models.RunStatusSucceeded, 200))

	stored, err := p.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, int64(200), stored.EndedAt)

	// Terminal states reject further movement.
	err = p.UpdateRunStatus(ctx, "run-1", models.RunStatusRunning, 0)
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition)

	// Repeating the current status stays legal for retried writers.
	assert.NoError(t, p.UpdateRunStatus(ctx, "run-1", models.RunStatusSucceeded, 200))
}

func TestUpdateNodeStatusMaterializesRow(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	snapshot := map[string]any{"work_item": "wi-run-1-build"}
	require.NoError(t, p.UpdateNodeStatus(ctx, "run-1", "build", models.NodeStatusRunning, snapshot, 0))

	nodeRuns, err := p.ListNodeRuns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, nodeRuns, 1)
	assert.Equal(t, models.NodeStatusRunning, nodeRuns[0].Status)
	assert.Equal(t, "wi-run-1-build", nodeRuns[0].WorkItemID())

	// Nil snapshot keeps the stored one.
	require.NoError(t, p.UpdateNodeStatus(ctx, "run-1", "build", models.NodeStatusSucceeded, nil, 300))

	nodeRuns, err = p.ListNodeRuns(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wi-run-1-build", nodeRuns[0].WorkItemID())
	assert.Equal(t, int64(300), nodeRuns[0].EndedAt)
}

func TestLatestWorkflow(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	dag := models.DAG{Nodes: []models.Node{{NodeID: "a", Type: models.NodeTypeTask}}}
	require.NoError(t, p.SaveWorkflow(ctx, &models.Workflow{WorkflowID: "wf-1", Version: 1, DAG: dag}))
	require.NoError(t, p.SaveWorkflow(ctx, &models.Workflow{WorkflowID: "wf-1", Version: 3, DAG: dag}))
	require.NoError(t, p.SaveWorkflow(ctx, &models.Workflow{WorkflowID: "wf-2", Version: 2, DAG: dag}))

	latest, err := p.LatestWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	_, err = p.LatestWorkflow(ctx, "wf-missing")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	workflows, err := p.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, 3, workflows[0].Version)
}

func TestClaimWorkItemOrdering(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	items := []*models.WorkItem{
		{TaskID: "wi-low", Priority: 1, Status: models.WorkItemStatusCreated, CreatedAt: 100},
		{TaskID: "wi-high-late", Priority: 9, Status: models.WorkItemStatusCreated, CreatedAt: 200},
		{TaskID: "wi-high-early", Priority: 9, Status: models.WorkItemStatusCreated, CreatedAt: 150},
		{TaskID: "wi-over-cap", Priority: 50, Status: models.WorkItemStatusCreated, CreatedAt: 50},
	}
	for _, item := range items {
		require.NoError(t, p.EnqueueWorkItem(ctx, item))
	}

	claimed, err := p.ClaimWorkItem(ctx, "agent-1", 10, 30)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "wi-high-early", claimed.TaskID)
	assert.Equal(t, "agent-1", claimed.LeaseOwner)
	assert.Positive(t, claimed.LeaseExpiresAt)

	// A second agent cannot claim the same item.
	claimed2, err := p.ClaimWorkItem(ctx, "agent-2", 10, 30)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, "wi-high-late", claimed2.TaskID)
}

func TestClaimWorkItemEmptyQueue(t *testing.T) {
	p := newTestPersistence(t)

	claimed, err := p.ClaimWorkItem(t.Context(), "agent-1", 10, 30)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestAckWorkItemOwnership(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.EnqueueWorkItem(ctx, &models.WorkItem{
		TaskID: "wi-1", Priority: 5, Status: models.WorkItemStatusCreated, CreatedAt: 1,
	}))

	claimed, err := p.ClaimWorkItem(ctx, "agent-1", 10, 30)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	err = p.AckWorkItem(ctx, "wi-1", "agent-2", models.WorkItemStatusAcked, 1)
	assert.ErrorIs(t, err, persistence.ErrNotLeaseOwner)

	require.NoError(t, p.AckWorkItem(ctx, "wi-1", "agent-1", models.WorkItemStatusAcked, 1))

	item, err := p.WorkItemByID(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusAcked, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestEnqueueWorkItemIsIdempotent(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	first := &models.WorkItem{TaskID: "wi-1", Priority: 5, Status: models.WorkItemStatusCreated, CreatedAt: 1}
	require.NoError(t, p.EnqueueWorkItem(ctx, first))

	duplicate := &models.WorkItem{TaskID: "wi-1", Priority: 9, Status: models.WorkItemStatusCreated, CreatedAt: 2}
	require.NoError(t, p.EnqueueWorkItem(ctx, duplicate))

	item, err := p.WorkItemByID(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, 5, item.Priority)
}

func TestReclaimExpiredLeases(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.EnqueueWorkItem(ctx, &models.WorkItem{
		TaskID: "wi-1", Priority: 5, Status: models.WorkItemStatusCreated, CreatedAt: 1,
	}))

	claimed, err := p.ClaimWorkItem(ctx, "agent-1", 10, 30)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Lease not expired yet.
	count, err := p.ReclaimExpiredLeases(ctx, models.NowUnix(), 100)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = p.ReclaimExpiredLeases(ctx, claimed.LeaseExpiresAt+1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	item, err := p.WorkItemByID(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusCreated, item.Status)
	assert.Empty(t, item.LeaseOwner)

	// Reclaimed items are claimable again.
	reclaimed, err := p.ClaimWorkItem(ctx, "agent-2", 10, 30)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "agent-2", reclaimed.LeaseOwner)
}

func TestDecideApproval(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.CreateApproval(ctx, &models.Approval{
		ApprovalID: "ap-1",
		TaskID:     "run-1:gate",
		RiskScore:  80,
		Status:     models.ApprovalStatusPending,
		ExpiresAt:  models.NowUnix() + 3600,
	}))

	decision := &models.ApprovalDecision{ApprovalID: "ap-1", Decision: "approve", Approver: "ops"}
	require.NoError(t, p.DecideApproval(ctx, "ap-1", decision, models.ApprovalStatusApproved))

	approval, err := p.ApprovalByID(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, approval.Status)
	require.NotNil(t, approval.Decision)
	assert.Equal(t, "ops", approval.Decision.Approver)

	err = p.DecideApproval(ctx, "ap-1", decision, models.ApprovalStatusRejected)
	assert.ErrorIs(t, err, persistence.ErrApprovalResolved)
}

func TestEventOffsets(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	offset, err := p.EventOffset(ctx, "sub-1", "run.events")
	require.NoError(t, err)
	assert.Zero(t, offset)

	require.NoError(t, p.SetEventOffset(ctx, "sub-1", "run.events", 7))

	offset, err = p.EventOffset(ctx, "sub-1", "run.events")
	require.NoError(t, err)
	assert.Equal(t, 7, offset)

	// Offsets are scoped per subscriber and topic.
	offset, err = p.EventOffset(ctx, "sub-2", "run.events")
	require.NoError(t, err)
	assert.Zero(t, offset)
}
