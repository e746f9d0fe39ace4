package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

const approvalColumns = "approval_id, task_id, risk_score, risk_factors, requester, status, decision, expires_at, created_at, updated_at"

func scanApproval(row interface{ Scan(...any) error }) (*models.Approval, error) {
	var (
		approval    models.Approval
		riskFactors []byte
		requester   []byte
		decision    []byte
	)

	err := row.Scan(&approval.ApprovalID, &approval.TaskID, &approval.RiskScore,
		&riskFactors, &requester, &approval.Status, &decision,
		&approval.ExpiresAt, &approval.CreatedAt, &approval.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(riskFactors, &approval.RiskFactors); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(requester, &approval.Requester); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(decision, &approval.Decision); err != nil {
		return nil, err
	}

	return &approval, nil
}

// CreateApproval inserts a new approval gate.
func (p *Persistence) CreateApproval(ctx context.Context, approval *models.Approval) error {
	riskFactors, err := marshalJSON(approval.RiskFactors)
	if err != nil {
		return persistence.NewStoreError("create", "approval", approval.ApprovalID, err)
	}

	requester, err := marshalJSON(approval.Requester)
	if err != nil {
		return persistence.NewStoreError("create", "approval", approval.ApprovalID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, task_id, risk_score, risk_factors, requester, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		approval.ApprovalID, approval.TaskID, approval.RiskScore, riskFactors, requester,
		approval.Status, approval.ExpiresAt, approval.CreatedAt, approval.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("create", "approval", approval.ApprovalID, err)
	}

	return nil
}

// ApprovalByID returns an approval or ErrApprovalNotFound.
func (p *Persistence) ApprovalByID(ctx context.Context, approvalID string) (*models.Approval, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM approvals WHERE approval_id = $1", approvalColumns), approvalID)

	approval, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get", "approval", approvalID, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get", "approval", approvalID, err)
	}

	return approval, nil
}

// ListApprovals returns approvals, optionally filtered by status, newest
// first.
func (p *Persistence) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.Approval, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM approvals
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, approval_id ASC
		LIMIT $2`, approvalColumns),
		string(status), limit)
	if err != nil {
		return nil, persistence.NewStoreError("list", "approval", "", err)
	}
	defer rows.Close()

	var approvals []*models.Approval

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list", "approval", "", err)
		}

		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list", "approval", "", err)
	}

	return approvals, nil
}

// DecideApproval resolves a pending approval. The update is guarded on the
// pending status so concurrent deciders race safely.
func (p *Persistence) DecideApproval(ctx context.Context, approvalID string, decision *models.ApprovalDecision, status models.ApprovalStatus) error {
	approval, err := p.ApprovalByID(ctx, approvalID)
	if err != nil {
		return err
	}

	if approval.Status.IsResolved() {
		return persistence.NewStoreError("decide", "approval", approvalID, persistence.ErrApprovalResolved)
	}

	decisionJSON, err := marshalJSON(decision)
	if err != nil {
		return persistence.NewStoreError("decide", "approval", approvalID, err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = $2, decision = $3, updated_at = $4
		WHERE approval_id = $1 AND status = 'pending'`,
		approvalID, status, decisionJSON, models.NowUnix())
	if err != nil {
		return persistence.NewStoreError("decide", "approval", approvalID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("decide", "approval", approvalID, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("decide", "approval", approvalID, persistence.ErrApprovalResolved)
	}

	return nil
}

// EventOffset returns the stored replay position for a subscriber on a topic.
func (p *Persistence) EventOffset(ctx context.Context, subscriberID, topic string) (int, error) {
	var offset int

	err := p.db.QueryRowContext(ctx,
		"SELECT offset_value FROM event_offsets WHERE subscriber_id = $1 AND topic = $2",
		subscriberID, topic).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, persistence.NewStoreError("get", "event_offset", subscriberID, err)
	}

	return offset, nil
}

// SetEventOffset stores the replay position for a subscriber on a topic.
func (p *Persistence) SetEventOffset(ctx context.Context, subscriberID, topic string, offset int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO event_offsets (subscriber_id, topic, offset_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subscriber_id, topic) DO UPDATE SET offset_value = $3, updated_at = $4`,
		subscriberID, topic, offset, models.NowUnix())
	if err != nil {
		return persistence.NewStoreError("set", "event_offset", subscriberID, err)
	}

	return nil
}

// AddAuditLog appends one operator-visible audit row.
func (p *Persistence) AddAuditLog(ctx context.Context, traceID, actor, action, resource string, result map[string]any) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return persistence.NewStoreError("add", "audit_log", action, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, trace_id, actor, action, resource, result, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), traceID, actor, action, resource, resultJSON, models.NowUnix())
	if err != nil {
		return persistence.NewStoreError("add", "audit_log", action, err)
	}

	return nil
}
