package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/events"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Approval resolves human-approval gates. The run engine observes decisions
// on its next pass; no engine state is touched here.
type Approval struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewApproval creates a new approval service.
func NewApproval(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Approval {
	return &Approval{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "approval_service"),
	}
}

// List returns approvals, optionally filtered by status.
func (a *Approval) List(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.Approval, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	return a.persistence.ListApprovals(ctx, status, limit)
}

// FetchByID retrieves one approval.
func (a *Approval) FetchByID(ctx context.Context, approvalID string) (*models.Approval, error) {
	return a.persistence.ApprovalByID(ctx, approvalID)
}

// Decide resolves a pending approval. An already resolved approval reports
// persistence.ErrApprovalResolved.
func (a *Approval) Decide(ctx context.Context, approvalID string, decision *models.ApprovalDecision) (*models.Approval, error) {
	if decision == nil || (decision.Decision != "approve" && decision.Decision != "reject") {
		return nil, ErrInvalidDecision
	}

	if decision.Approver == "" {
		return nil, ErrApproverRequired
	}

	status := models.ApprovalStatusApproved
	if decision.Decision == "reject" {
		status = models.ApprovalStatusRejected
	}

	decision.ApprovalID = approvalID
	decision.SignedAt = time.Now().Unix()

	err := a.persistence.DecideApproval(ctx, approvalID, decision, status)
	if err != nil {
		return nil, err
	}

	approval, err := a.persistence.ApprovalByID(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload approval: %w", err)
	}

	a.publish(ctx, approvalID, events.ApprovalDecided{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.ApprovalDecidedEvent,
			Timestamp: time.Now().UTC(),
		},
		ApprovalID: approvalID,
		TaskID:     approval.TaskID,
		Status:     approval.Status,
		Approver:   decision.Approver,
	})

	return approval, nil
}

func (a *Approval) publish(ctx context.Context, key string, event eventbus.Event) {
	if a.publisher == nil {
		return
	}

	err := a.publisher.Publish(ctx, key, event)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to publish event", "key", key, "error", err)
	}
}
