package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusBlocked   RunStatus = "blocked"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether no further transition is legal from this status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// Run is one execution instance of a workflow version, created by a schedule
// firing or a manual trigger. Terminal runs are never mutated again.
type Run struct {
	RunID          string         `json:"run_id"      validate:"required"`
	TraceID        string         `json:"trace_id"`
	WorkflowID     string         `json:"workflow_id" validate:"required"`
	Status         RunStatus      `json:"status"`
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
	StartedAt      int64          `json:"started_at"`
	EndedAt        int64          `json:"ended_at"`
}

// NodeStatus is the lifecycle state of a single DAG node within a run.
type NodeStatus string

const (
	NodeStatusPending         NodeStatus = "pending"
	NodeStatusReady           NodeStatus = "ready"
	NodeStatusRunning         NodeStatus = "running"
	NodeStatusWaitingApproval NodeStatus = "waiting_approval"
	NodeStatusSkipped         NodeStatus = "skipped"
	NodeStatusSucceeded       NodeStatus = "succeeded"
	NodeStatusFailed          NodeStatus = "failed"
	NodeStatusCanceled        NodeStatus = "canceled"
)

// IsTerminal reports whether the node has finished for good.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped, NodeStatusCanceled:
		return true
	default:
		return false
	}
}

// NodeRun is the per-run execution record of one DAG node. One row exists per
// DAG node once the run engine has observed the run; the Snapshot bag carries
// the work item or approval the node is bound to.
type NodeRun struct {
	NodeID    string         `json:"node_id" validate:"required"`
	RunID     string         `json:"run_id"  validate:"required"`
	Status    NodeStatus     `json:"status"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	StartedAt int64          `json:"started_at"`
	EndedAt   int64          `json:"ended_at"`
}

// WorkItemID returns the work item id recorded in the node snapshot, if any.
func (n *NodeRun) WorkItemID() string {
	v, _ := n.Snapshot["work_item"].(string)

	return v
}

// ApprovalID returns the approval id recorded in the node snapshot, if any.
func (n *NodeRun) ApprovalID() string {
	v, _ := n.Snapshot["approval_id"].(string)

	return v
}

// RunTransitions enumerates the legal run state machine.
var RunTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:   {RunStatusQueued, RunStatusCanceled},
	RunStatusQueued:    {RunStatusRunning, RunStatusCanceled},
	RunStatusRunning:   {RunStatusBlocked, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled},
	RunStatusBlocked:   {RunStatusRunning, RunStatusFailed, RunStatusCanceled},
	RunStatusSucceeded: {},
	RunStatusFailed:    {},
	RunStatusCanceled:  {},
}

// NodeTransitions enumerates the legal node state machine.
var NodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusPending:         {NodeStatusReady, NodeStatusRunning, NodeStatusWaitingApproval, NodeStatusSucceeded, NodeStatusCanceled},
	NodeStatusReady:           {NodeStatusRunning, NodeStatusWaitingApproval, NodeStatusSkipped, NodeStatusCanceled},
	NodeStatusWaitingApproval: {NodeStatusRunning, NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped, NodeStatusCanceled},
	NodeStatusRunning:         {NodeStatusSucceeded, NodeStatusFailed, NodeStatusCanceled},
	NodeStatusSkipped:         {},
	NodeStatusSucceeded:       {},
	NodeStatusFailed:          {},
	NodeStatusCanceled:        {},
}

// CanTransition reports whether moving from current to target is legal.
// A same-status write is always allowed so upserts stay retry-safe.
func CanTransition[S comparable](current, target S, transitions map[S][]S) bool {
	if current == target {
		return true
	}

	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}

	return false
}

// NowUnix returns the current time as unix seconds, the timestamp unit used by
// every durable record in this package.
func NowUnix() int64 {
	return time.Now().UTC().Unix()
}
