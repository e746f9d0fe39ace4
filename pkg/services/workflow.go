package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Workflow manages immutable workflow definitions. Publishing a change means
// publishing a new version; an existing (workflow_id, version) pair is never
// overwritten through this service.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Publish stores a new workflow version after structural DAG validation.
// A missing version is assigned latest+1.
func (w *Workflow) Publish(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if err := workflow.Validate(); err != nil {
		return nil, err
	}

	if workflow.Version <= 0 {
		latest, err := w.persistence.LatestWorkflow(ctx, workflow.WorkflowID)
		if err != nil && !persistence.IsNotFound(err) {
			return nil, fmt.Errorf("failed to resolve latest version: %w", err)
		}

		workflow.Version = 1
		if latest != nil {
			workflow.Version = latest.Version + 1
		}
	} else {
		existing, err := w.persistence.WorkflowByVersion(ctx, workflow.WorkflowID, workflow.Version)
		if err != nil && !persistence.IsNotFound(err) {
			return nil, fmt.Errorf("failed to check existing version: %w", err)
		}

		if existing != nil {
			return nil, ErrWorkflowVersionExists
		}
	}

	workflow.CreatedAt = time.Now().UTC()

	err := w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return workflow, nil
}

// FetchLatest retrieves the newest version of a workflow.
func (w *Workflow) FetchLatest(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.persistence.LatestWorkflow(ctx, workflowID)
}

// FetchByVersion retrieves one specific workflow version.
func (w *Workflow) FetchByVersion(ctx context.Context, workflowID string, version int) (*models.Workflow, error) {
	return w.persistence.WorkflowByVersion(ctx, workflowID, version)
}

// List returns the latest version of every workflow.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}
