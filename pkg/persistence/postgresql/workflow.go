package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

const workflowColumns = "workflow_id, version, dag, metadata, created_at"

func scanWorkflow(row interface{ Scan(...any) error }) (*models.Workflow, error) {
	var (
		workflow models.Workflow
		dag      []byte
		metadata []byte
	)

	err := row.Scan(&workflow.WorkflowID, &workflow.Version, &dag, &metadata, &workflow.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(dag, &workflow.DAG); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(metadata, &workflow.Metadata); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// SaveWorkflow stores one immutable workflow version.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	key := fmt.Sprintf("%s-v%d", workflow.WorkflowID, workflow.Version)

	dag, err := marshalJSON(workflow.DAG)
	if err != nil {
		return persistence.NewStoreError("save", "workflow", key, err)
	}

	var metadata any

	if workflow.Metadata != nil {
		metadata, err = marshalJSON(workflow.Metadata)
		if err != nil {
			return persistence.NewStoreError("save", "workflow", key, err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflows (workflow_id, version, dag, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id, version) DO UPDATE SET dag = $3, metadata = $4`,
		workflow.WorkflowID, workflow.Version, dag, metadata, workflow.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("save", "workflow", key, err)
	}

	return nil
}

// WorkflowByVersion returns one specific workflow version.
func (p *Persistence) WorkflowByVersion(ctx context.Context, workflowID string, version int) (*models.Workflow, error) {
	key := fmt.Sprintf("%s-v%d", workflowID, version)

	row := p.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM workflows WHERE workflow_id = $1 AND version = $2", workflowColumns),
		workflowID, version)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get", "workflow", key, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get", "workflow", key, err)
	}

	return workflow, nil
}

// LatestWorkflow returns the highest stored version of a workflow.
func (p *Persistence) LatestWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM workflows
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1`, workflowColumns), workflowID)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get_latest", "workflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get_latest", "workflow", workflowID, err)
	}

	return workflow, nil
}

// ListWorkflows returns the latest version of every workflow, ordered by ID.
func (p *Persistence) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (workflow_id) %s
		FROM workflows
		ORDER BY workflow_id ASC, version DESC`, workflowColumns))
	if err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list", "workflow", "", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}

	return workflows, nil
}
