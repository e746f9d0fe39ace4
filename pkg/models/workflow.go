package models

import (
	"errors"
	"fmt"
	"time"
)

// NodeType discriminates how the run engine dispatches a DAG node.
type NodeType string

const (
	NodeTypeTask     NodeType = "task"     // Dispatches a work item to the queue
	NodeTypeApproval NodeType = "approval" // Blocks the run on a human decision
	NodeTypeEval     NodeType = "eval"     // Synchronous evaluation hook
)

// Node is one unit in a workflow DAG.
type Node struct {
	NodeID      string         `json:"node_id"   validate:"required"`
	Type        NodeType       `json:"type"`
	TaskType    string         `json:"task_type"`
	TaskData    map[string]any `json:"task_data,omitempty"`
	Priority    int            `json:"priority"`
	RiskScore   float64        `json:"risk_score,omitempty"`
	RiskFactors []RiskFactor   `json:"risk_factors,omitempty"`
	ExpiresSec  int64          `json:"expires_sec,omitempty"`

	// IdempotencyKey overrides the task-derived default for the node's
	// work item, letting retried runs share one execution record.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Edge is a hard dependency: ToNode may not start until FromNode has succeeded.
type Edge struct {
	FromNode string `json:"from_node" validate:"required"`
	ToNode   string `json:"to_node"   validate:"required"`
}

// DAG holds the node set and dependency edges of a workflow.
type DAG struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Workflow is an immutable workflow definition. A given (workflow_id, version)
// pair is never mutated; publishing a change means publishing a new version.
type Workflow struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Version    int            `json:"version"     validate:"required,min=1"`
	DAG        DAG            `json:"dag"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

var (
	// ErrEmptyDAG indicates a workflow was published without any nodes.
	ErrEmptyDAG = errors.New("workflow dag has no nodes")

	// ErrUnknownEdgeNode indicates an edge references a node that is not in the DAG.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")

	// ErrDuplicateNodeID indicates two nodes share the same node_id.
	ErrDuplicateNodeID = errors.New("duplicate node_id in dag")
)

// Validate checks the DAG for structural problems before the workflow is stored.
func (w *Workflow) Validate() error {
	if len(w.DAG.Nodes) == 0 {
		return ErrEmptyDAG
	}

	seen := make(map[string]struct{}, len(w.DAG.Nodes))

	for _, node := range w.DAG.Nodes {
		if node.NodeID == "" {
			return fmt.Errorf("%w: empty node_id", ErrDuplicateNodeID)
		}

		if _, dup := seen[node.NodeID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.NodeID)
		}

		seen[node.NodeID] = struct{}{}
	}

	for _, edge := range w.DAG.Edges {
		if _, ok := seen[edge.FromNode]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEdgeNode, edge.FromNode)
		}

		if _, ok := seen[edge.ToNode]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEdgeNode, edge.ToNode)
		}
	}

	return nil
}

// Dependencies builds the reverse dependency map of the DAG: for each node id,
// the set of node ids that must succeed before it becomes eligible.
func (d *DAG) Dependencies() map[string]map[string]struct{} {
	deps := make(map[string]map[string]struct{})

	for _, edge := range d.Edges {
		if edge.FromNode == "" || edge.ToNode == "" {
			continue
		}

		if deps[edge.ToNode] == nil {
			deps[edge.ToNode] = make(map[string]struct{})
		}

		deps[edge.ToNode][edge.FromNode] = struct{}{}
	}

	return deps
}

// NodeByID returns the node with the given id, or nil.
func (d *DAG) NodeByID(nodeID string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].NodeID == nodeID {
			return &d.Nodes[i]
		}
	}

	return nil
}
