package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// SaveWorkflow stores one immutable workflow version.
func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s-v%d", workflow.WorkflowID, workflow.Version)

	return p.writeRecord(dirWorkflows, key, workflow)
}

// WorkflowByVersion returns one specific workflow version.
func (p *Persistence) WorkflowByVersion(_ context.Context, workflowID string, version int) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s-v%d", workflowID, version)

	var workflow models.Workflow

	found, err := p.readRecord(dirWorkflows, key, &workflow)
	if err != nil {
		return nil, persistence.NewStoreError("get", "workflow", key, err)
	}

	if !found {
		return nil, persistence.NewStoreError("get", "workflow", key, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

// LatestWorkflow returns the highest stored version of a workflow, or
// ErrWorkflowNotFound when no version exists.
func (p *Persistence) LatestWorkflow(_ context.Context, workflowID string) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var latest *models.Workflow

	err := eachRecord(p, dirWorkflows, func(w *models.Workflow) {
		if w.WorkflowID != workflowID {
			return
		}

		if latest == nil || w.Version > latest.Version {
			latest = w
		}
	})
	if err != nil {
		return nil, persistence.NewStoreError("get_latest", "workflow", workflowID, err)
	}

	if latest == nil {
		return nil, persistence.NewStoreError("get_latest", "workflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return latest, nil
}

// ListWorkflows returns the latest version of every workflow, ordered by ID.
func (p *Persistence) ListWorkflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	latest := make(map[string]*models.Workflow)

	err := eachRecord(p, dirWorkflows, func(w *models.Workflow) {
		current, ok := latest[w.WorkflowID]
		if !ok || w.Version > current.Version {
			latest[w.WorkflowID] = w
		}
	})
	if err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(latest))
	for _, w := range latest {
		workflows = append(workflows, w)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].WorkflowID < workflows[j].WorkflowID })

	return workflows, nil
}
