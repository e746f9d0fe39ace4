package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

const workItemColumns = "task_id, agent_id, priority, payload, status, lease_owner, lease_expires_at, idempotency_key, attempts, created_at, updated_at"

func scanWorkItem(row interface{ Scan(...any) error }) (*models.WorkItem, error) {
	var (
		item    models.WorkItem
		payload []byte
	)

	err := row.Scan(&item.TaskID, &item.AgentID, &item.Priority, &payload, &item.Status,
		&item.LeaseOwner, &item.LeaseExpiresAt, &item.IdempotencyKey, &item.Attempts,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(payload, &item.Payload); err != nil {
		return nil, err
	}

	return &item, nil
}

// EnqueueWorkItem inserts a new work item; an existing task ID is a no-op.
func (p *Persistence) EnqueueWorkItem(ctx context.Context, item *models.WorkItem) error {
	payload, err := marshalJSON(item.Payload)
	if err != nil {
		return persistence.NewStoreError("enqueue", "work_item", item.TaskID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO work_items (task_id, agent_id, priority, payload, status, lease_owner, lease_expires_at, idempotency_key, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (task_id) DO NOTHING`,
		item.TaskID, item.AgentID, item.Priority, payload, item.Status,
		item.LeaseOwner, item.LeaseExpiresAt, item.IdempotencyKey, item.Attempts,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("enqueue", "work_item", item.TaskID, err)
	}

	return nil
}

// WorkItemByID returns a work item or ErrWorkItemNotFound.
func (p *Persistence) WorkItemByID(ctx context.Context, taskID string) (*models.WorkItem, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM work_items WHERE task_id = $1", workItemColumns), taskID)

	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get", "work_item", taskID, persistence.ErrWorkItemNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get", "work_item", taskID, err)
	}

	return item, nil
}

// ListWorkItems returns work items, optionally filtered by status, newest
// first.
func (p *Persistence) ListWorkItems(ctx context.Context, status models.WorkItemStatus, limit int) ([]*models.WorkItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM work_items
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, task_id ASC
		LIMIT $2`, workItemColumns),
		string(status), limit)
	if err != nil {
		return nil, persistence.NewStoreError("list", "work_item", "", err)
	}
	defer rows.Close()

	var items []*models.WorkItem

	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list", "work_item", "", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list", "work_item", "", err)
	}

	return items, nil
}

// ClaimWorkItem leases the highest priority queued item at or below
// maxPriority. The update is guarded on status so racing claimers cannot
// double-claim; the loser simply sees an empty queue.
func (p *Persistence) ClaimWorkItem(ctx context.Context, agentID string, maxPriority int, leaseTTLSec int64) (*models.WorkItem, error) {
	now := models.NowUnix()

	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE work_items
		SET status = 'claimed', agent_id = $1, lease_owner = $1, lease_expires_at = $2, updated_at = $3
		WHERE task_id = (
			SELECT task_id FROM work_items
			WHERE status = 'created' AND priority <= $4
			ORDER BY priority DESC, created_at ASC, task_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, workItemColumns),
		agentID, now+leaseTTLSec, now, maxPriority)

	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewStoreError("claim", "work_item", "", err)
	}

	return item, nil
}

// AckWorkItem settles a claimed work item as acked or failed. Only the lease
// owner may ack.
func (p *Persistence) AckWorkItem(ctx context.Context, taskID, agentID string, status models.WorkItemStatus, attempts int) error {
	item, err := p.WorkItemByID(ctx, taskID)
	if err != nil {
		return err
	}

	if item.LeaseOwner != agentID {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrNotLeaseOwner)
	}

	if !models.CanTransition(item.Status, status, models.WorkItemTransitions) {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrInvalidTransition)
	}

	clearLease := status == models.WorkItemStatusCreated

	result, err := p.db.ExecContext(ctx, `
		UPDATE work_items
		SET status = $3, attempts = $4, updated_at = $5,
			agent_id = CASE WHEN $6 THEN '' ELSE agent_id END,
			lease_owner = CASE WHEN $6 THEN '' ELSE lease_owner END,
			lease_expires_at = CASE WHEN $6 THEN 0 ELSE lease_expires_at END
		WHERE task_id = $1 AND lease_owner = $2`,
		taskID, agentID, status, attempts, models.NowUnix(), clearLease)
	if err != nil {
		return persistence.NewStoreError("ack", "work_item", taskID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("ack", "work_item", taskID, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrNotLeaseOwner)
	}

	return nil
}

// MarkWorkItemRunning flips a claimed item to running for the lease owner.
func (p *Persistence) MarkWorkItemRunning(ctx context.Context, taskID, agentID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE work_items
		SET status = 'running', updated_at = $3
		WHERE task_id = $1 AND lease_owner = $2 AND status = 'claimed'`,
		taskID, agentID, models.NowUnix())
	if err != nil {
		return persistence.NewStoreError("mark_running", "work_item", taskID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("mark_running", "work_item", taskID, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("mark_running", "work_item", taskID, persistence.ErrNotLeaseOwner)
	}

	return nil
}

// ReclaimExpiredLeases requeues items whose lease expired at or before now.
func (p *Persistence) ReclaimExpiredLeases(ctx context.Context, now int64, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE work_items
		SET status = 'created', agent_id = '', lease_owner = '', lease_expires_at = 0, updated_at = $1
		WHERE task_id IN (
			SELECT task_id FROM work_items
			WHERE status IN ('claimed', 'running') AND lease_expires_at > 0 AND lease_expires_at <= $1
			ORDER BY lease_expires_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`,
		now, limit)
	if err != nil {
		return 0, persistence.NewStoreError("reclaim", "work_item", "", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewStoreError("reclaim", "work_item", "", err)
	}

	return int(rows), nil
}
