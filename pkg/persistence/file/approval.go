package file

import (
	"context"
	"sort"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// CreateApproval stores a new approval gate.
func (p *Persistence) CreateApproval(_ context.Context, approval *models.Approval) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeRecord(dirApprovals, approval.ApprovalID, approval)
}

// ApprovalByID returns an approval or ErrApprovalNotFound.
func (p *Persistence) ApprovalByID(_ context.Context, approvalID string) (*models.Approval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var approval models.Approval

	found, err := p.readRecord(dirApprovals, approvalID, &approval)
	if err != nil {
		return nil, persistence.NewStoreError("get", "approval", approvalID, err)
	}

	if !found {
		return nil, persistence.NewStoreError("get", "approval", approvalID, persistence.ErrApprovalNotFound)
	}

	return &approval, nil
}

// ListApprovals returns approvals, optionally filtered by status, newest
// first.
func (p *Persistence) ListApprovals(_ context.Context, status models.ApprovalStatus, limit int) ([]*models.Approval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var approvals []*models.Approval

	err := eachRecord(p, dirApprovals, func(a *models.Approval) {
		if status != "" && a.Status != status {
			return
		}

		approvals = append(approvals, a)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list", "approval", "", err)
	}

	sort.Slice(approvals, func(i, j int) bool {
		if approvals[i].CreatedAt != approvals[j].CreatedAt {
			return approvals[i].CreatedAt > approvals[j].CreatedAt
		}

		return approvals[i].ApprovalID < approvals[j].ApprovalID
	})

	if limit > 0 && len(approvals) > limit {
		approvals = approvals[:limit]
	}

	return approvals, nil
}

// DecideApproval resolves a pending approval with the given decision.
func (p *Persistence) DecideApproval(_ context.Context, approvalID string, decision *models.ApprovalDecision, status models.ApprovalStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var approval models.Approval

	found, err := p.readRecord(dirApprovals, approvalID, &approval)
	if err != nil {
		return persistence.NewStoreError("decide", "approval", approvalID, err)
	}

	if !found {
		return persistence.NewStoreError("decide", "approval", approvalID, persistence.ErrApprovalNotFound)
	}

	if approval.Status.IsResolved() {
		return persistence.NewStoreError("decide", "approval", approvalID, persistence.ErrApprovalResolved)
	}

	approval.Status = status
	approval.Decision = decision
	approval.UpdatedAt = models.NowUnix()

	return p.writeRecord(dirApprovals, approvalID, &approval)
}
