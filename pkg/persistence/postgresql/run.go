package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

const runColumns = "run_id, trace_id, workflow_id, status, config_snapshot, started_at, ended_at"

func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	var (
		run      models.Run
		snapshot []byte
	)

	err := row.Scan(&run.RunID, &run.TraceID, &run.WorkflowID, &run.Status,
		&snapshot, &run.StartedAt, &run.EndedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(snapshot, &run.ConfigSnapshot); err != nil {
		return nil, err
	}

	return &run, nil
}

// UpsertRun creates or replaces a run row. Replayed triggers regenerate the
// same run ID, so conflicts overwrite.
func (p *Persistence) UpsertRun(ctx context.Context, run *models.Run) error {
	snapshot, err := marshalJSON(run.ConfigSnapshot)
	if err != nil {
		return persistence.NewStoreError("upsert", "run", run.RunID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, trace_id, workflow_id, status, config_snapshot, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			trace_id = $2, workflow_id = $3, status = $4, config_snapshot = $5, started_at = $6, ended_at = $7`,
		run.RunID, run.TraceID, run.WorkflowID, run.Status, snapshot, run.StartedAt, run.EndedAt)
	if err != nil {
		return persistence.NewStoreError("upsert", "run", run.RunID, err)
	}

	return nil
}

// UpdateRunStatus transitions a run, guarding the write against a concurrent
// status change via the observed current status.
func (p *Persistence) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, endedAt int64) error {
	var current models.RunStatus

	err := p.db.QueryRowContext(ctx, "SELECT status FROM runs WHERE run_id = $1", runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewStoreError("update_status", "run", runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return persistence.NewStoreError("update_status", "run", runID, err)
	}

	if !models.CanTransition(current, status, models.RunTransitions) {
		return persistence.NewStoreError("update_status", "run", runID, persistence.ErrInvalidTransition)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $3, ended_at = CASE WHEN $4 > 0 THEN $4 ELSE ended_at END
		WHERE run_id = $1 AND status = $2`,
		runID, current, status, endedAt)
	if err != nil {
		return persistence.NewStoreError("update_status", "run", runID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("update_status", "run", runID, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("update_status", "run", runID, persistence.ErrInvalidTransition)
	}

	return nil
}

// RunByID returns a run or ErrRunNotFound.
func (p *Persistence) RunByID(ctx context.Context, runID string) (*models.Run, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM runs WHERE run_id = $1", runColumns), runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get", "run", runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get", "run", runID, err)
	}

	return run, nil
}

// ListRuns returns runs ordered by run ID with cursor pagination.
func (p *Persistence) ListRuns(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Run, string, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM runs
		WHERE ($1 = '' OR workflow_id = $1) AND ($2 = '' OR run_id > $2)
		ORDER BY run_id ASC
		LIMIT $3`, runColumns),
		workflowID, cursor, limit+1)
	if err != nil {
		return nil, "", persistence.NewStoreError("list", "run", "", err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, "", persistence.NewStoreError("list", "run", "", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, "", persistence.NewStoreError("list", "run", "", err)
	}

	nextCursor := ""

	if len(runs) > limit {
		runs = runs[:limit]
		nextCursor = runs[len(runs)-1].RunID
	}

	return runs, nextCursor, nil
}

// ListRunsByStatus returns runs in any given status, oldest started first.
func (p *Persistence) ListRunsByStatus(ctx context.Context, statuses []models.RunStatus, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM runs
		WHERE status = ANY($1)
		ORDER BY started_at ASC, run_id ASC
		LIMIT $2`, runColumns),
		pq.Array(wanted), limit)
	if err != nil {
		return nil, persistence.NewStoreError("list_by_status", "run", "", err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list_by_status", "run", "", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list_by_status", "run", "", err)
	}

	return runs, nil
}

// ListNodeRuns returns all node runs belonging to one run.
func (p *Persistence) ListNodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id, node_id, status, snapshot, started_at, ended_at
		FROM node_runs
		WHERE run_id = $1
		ORDER BY node_id ASC`, runID)
	if err != nil {
		return nil, persistence.NewStoreError("list_node_runs", "run", runID, err)
	}
	defer rows.Close()

	var nodeRuns []*models.NodeRun

	for rows.Next() {
		var (
			nodeRun  models.NodeRun
			snapshot []byte
		)

		err := rows.Scan(&nodeRun.RunID, &nodeRun.NodeID, &nodeRun.Status,
			&snapshot, &nodeRun.StartedAt, &nodeRun.EndedAt)
		if err != nil {
			return nil, persistence.NewStoreError("list_node_runs", "run", runID, err)
		}

		if err := unmarshalJSON(snapshot, &nodeRun.Snapshot); err != nil {
			return nil, persistence.NewStoreError("list_node_runs", "run", runID, err)
		}

		nodeRuns = append(nodeRuns, &nodeRun)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list_node_runs", "run", runID, err)
	}

	return nodeRuns, nil
}

// UpdateNodeStatus creates or updates one node run row. A nil snapshot keeps
// the stored one; endedAt is only written when positive.
func (p *Persistence) UpdateNodeStatus(ctx context.Context, runID, nodeID string, status models.NodeStatus, snapshot map[string]any, endedAt int64) error {
	key := runID + "-" + nodeID

	var current models.NodeStatus

	err := p.db.QueryRowContext(ctx,
		"SELECT status FROM node_runs WHERE run_id = $1 AND node_id = $2", runID, nodeID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = models.NodeStatusPending
	} else if err != nil {
		return persistence.NewStoreError("update_node_status", "node_run", key, err)
	}

	if !models.CanTransition(current, status, models.NodeTransitions) {
		return persistence.NewStoreError("update_node_status", "node_run", key, persistence.ErrInvalidTransition)
	}

	var snapshotJSON any

	if snapshot != nil {
		snapshotJSON, err = marshalJSON(snapshot)
		if err != nil {
			return persistence.NewStoreError("update_node_status", "node_run", key, err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO node_runs (run_id, node_id, status, snapshot, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, CASE WHEN $6 > 0 THEN $6 ELSE 0 END)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status = $3,
			snapshot = COALESCE($4, node_runs.snapshot),
			ended_at = CASE WHEN $6 > 0 THEN $6 ELSE node_runs.ended_at END`,
		runID, nodeID, status, snapshotJSON, models.NowUnix(), endedAt)
	if err != nil {
		return persistence.NewStoreError("update_node_status", "node_run", key, err)
	}

	return nil
}
