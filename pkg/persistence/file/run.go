package file

import (
	"context"
	"sort"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// UpsertRun creates or replaces a run record. Replays of the same trigger
// produce the same run ID, so an existing record is simply overwritten.
func (p *Persistence) UpsertRun(_ context.Context, run *models.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeRecord(dirRuns, run.RunID, run)
}

// UpdateRunStatus transitions a run to a new status. Invalid transitions
// return ErrInvalidTransition; repeating the current status is a no-op write
// so retried operations stay safe.
func (p *Persistence) UpdateRunStatus(_ context.Context, runID string, status models.RunStatus, endedAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var run models.Run

	found, err := p.readRecord(dirRuns, runID, &run)
	if err != nil {
		return persistence.NewStoreError("update_status", "run", runID, err)
	}

	if !found {
		return persistence.NewStoreError("update_status", "run", runID, persistence.ErrRunNotFound)
	}

	if !models.CanTransition(run.Status, status, models.RunTransitions) {
		return persistence.NewStoreError("update_status", "run", runID, persistence.ErrInvalidTransition)
	}

	run.Status = status
	if endedAt > 0 {
		run.EndedAt = endedAt
	}

	return p.writeRecord(dirRuns, runID, &run)
}

// RunByID returns a run or ErrRunNotFound.
func (p *Persistence) RunByID(_ context.Context, runID string) (*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var run models.Run

	found, err := p.readRecord(dirRuns, runID, &run)
	if err != nil {
		return nil, persistence.NewStoreError("get", "run", runID, err)
	}

	if !found {
		return nil, persistence.NewStoreError("get", "run", runID, persistence.ErrRunNotFound)
	}

	return &run, nil
}

// ListRuns returns runs ordered by run ID with cursor pagination.
func (p *Persistence) ListRuns(_ context.Context, workflowID string, limit int, cursor string) ([]*models.Run, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var runs []*models.Run

	err := eachRecord(p, dirRuns, func(r *models.Run) {
		if workflowID != "" && r.WorkflowID != workflowID {
			return
		}

		if cursor != "" && r.RunID <= cursor {
			return
		}

		runs = append(runs, r)
	})
	if err != nil {
		return nil, "", persistence.NewStoreError("list", "run", "", err)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })

	nextCursor := ""

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
		nextCursor = runs[len(runs)-1].RunID
	}

	return runs, nextCursor, nil
}

// ListRunsByStatus returns runs in any of the given statuses, oldest started
// first, bounded by limit.
func (p *Persistence) ListRunsByStatus(_ context.Context, statuses []models.RunStatus, limit int) ([]*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := make(map[models.RunStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	var runs []*models.Run

	err := eachRecord(p, dirRuns, func(r *models.Run) {
		if _, ok := wanted[r.Status]; !ok {
			return
		}

		runs = append(runs, r)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list_by_status", "run", "", err)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt != runs[j].StartedAt {
			return runs[i].StartedAt < runs[j].StartedAt
		}

		return runs[i].RunID < runs[j].RunID
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// ListNodeRuns returns all node runs belonging to one run.
func (p *Persistence) ListNodeRuns(_ context.Context, runID string) ([]*models.NodeRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var nodeRuns []*models.NodeRun

	err := eachRecord(p, dirNodeRuns, func(nr *models.NodeRun) {
		if nr.RunID != runID {
			return
		}

		nodeRuns = append(nodeRuns, nr)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list_node_runs", "run", runID, err)
	}

	sort.Slice(nodeRuns, func(i, j int) bool { return nodeRuns[i].NodeID < nodeRuns[j].NodeID })

	return nodeRuns, nil
}

// UpdateNodeStatus creates or updates one node run. A nil snapshot keeps the
// stored snapshot; endedAt is only written when positive.
func (p *Persistence) UpdateNodeStatus(_ context.Context, runID, nodeID string, status models.NodeStatus, snapshot map[string]any, endedAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := runID + "-" + nodeID

	var nodeRun models.NodeRun

	found, err := p.readRecord(dirNodeRuns, key, &nodeRun)
	if err != nil {
		return persistence.NewStoreError("update_node_status", "node_run", key, err)
	}

	if !found {
		nodeRun = models.NodeRun{
			NodeID:    nodeID,
			RunID:     runID,
			Status:    models.NodeStatusPending,
			StartedAt: models.NowUnix(),
		}
	}

	if !models.CanTransition(nodeRun.Status, status, models.NodeTransitions) {
		return persistence.NewStoreError("update_node_status", "node_run", key, persistence.ErrInvalidTransition)
	}

	nodeRun.Status = status

	if snapshot != nil {
		nodeRun.Snapshot = snapshot
	}

	if endedAt > 0 {
		nodeRun.EndedAt = endedAt
	}

	return p.writeRecord(dirNodeRuns, key, &nodeRun)
}
