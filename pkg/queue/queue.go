// Package queue implements the work item queue: prioritized claim under a
// time-boxed lease, acknowledgement by the lease owner, and a retry budget
// that moves repeatedly failing items to the dead letter state instead of
// retrying forever.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/events"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Queue manages work items over the structured store. An optional publisher
// fans out settlement events; a nil publisher disables notifications.
type Queue struct {
	persistence persistence.WorkItemRepository
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewQueue creates a queue service.
func NewQueue(logger *slog.Logger, persist persistence.WorkItemRepository, publisher eventbus.EventPublisher) *Queue {
	return &Queue{
		persistence: persist,
		publisher:   publisher,
		logger:      logger.With("module", "queue"),
	}
}

// Enqueue validates and stores a new work item. Re-enqueueing an existing
// task ID is a no-op. An empty idempotency key falls back to the task-derived
// default.
func (q *Queue) Enqueue(ctx context.Context, taskID string, priority int, payload map[string]any, idempotencyKey string) (*models.WorkItem, error) {
	if err := models.ValidateWorkItemPayload(payload); err != nil {
		return nil, fmt.Errorf("invalid work item payload: %w", err)
	}

	if idempotencyKey == "" {
		idempotencyKey = models.WorkItemIdempotencyKey(taskID)
	}

	now := models.NowUnix()
	item := &models.WorkItem{
		TaskID:         taskID,
		Priority:       priority,
		Payload:        payload,
		Status:         models.WorkItemStatusCreated,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := q.persistence.EnqueueWorkItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue work item: %w", err)
	}

	q.logger.InfoContext(ctx, "Work item enqueued", "task_id", taskID, "priority", priority)

	return item, nil
}

// Claim leases the highest priority queued item at or below maxPriority to
// agentID. Returns nil when the queue has nothing claimable.
func (q *Queue) Claim(ctx context.Context, agentID string, maxPriority int, leaseTTLSec int64) (*models.WorkItem, error) {
	item, err := q.persistence.ClaimWorkItem(ctx, agentID, maxPriority, leaseTTLSec)
	if err != nil {
		return nil, fmt.Errorf("failed to claim work item: %w", err)
	}

	if item == nil {
		return nil, nil
	}

	q.logger.InfoContext(ctx, "Work item claimed",
		"task_id", item.TaskID, "agent_id", agentID, "lease_expires_at", item.LeaseExpiresAt)

	return item, nil
}

// Ack settles a claimed item as successfully completed.
func (q *Queue) Ack(ctx context.Context, taskID, agentID string) error {
	item, err := q.persistence.WorkItemByID(ctx, taskID)
	if err != nil {
		return err
	}

	attempts := item.Attempts + 1

	if err := q.persistence.AckWorkItem(ctx, taskID, agentID, models.WorkItemStatusAcked, attempts); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "Work item acked", "task_id", taskID, "agent_id", agentID, "attempts", attempts)

	q.publish(ctx, taskID, events.WorkItemAcked{
		BaseEvent: q.baseEvent(events.WorkItemAckedEvent),
		TaskID:    taskID,
		AgentID:   agentID,
		Attempts:  attempts,
	})

	return nil
}

// Nack settles a claimed item as failed. Items under their retry budget are
// then requeued; items over it go to dead letter and never run again. The
// failed state is always recorded first so the attempt is visible in the
// item's history even when the requeue is immediate.
func (q *Queue) Nack(ctx context.Context, taskID, agentID, reason string) error {
	item, err := q.persistence.WorkItemByID(ctx, taskID)
	if err != nil {
		return err
	}

	attempts := item.Attempts + 1

	if err := q.persistence.AckWorkItem(ctx, taskID, agentID, models.WorkItemStatusFailed, attempts); err != nil {
		return err
	}

	if attempts >= item.MaxRetries() {
		if err := q.persistence.AckWorkItem(ctx, taskID, agentID, models.WorkItemStatusDeadLetter, attempts); err != nil {
			return err
		}

		q.logger.WarnContext(ctx, "Work item dead lettered",
			"task_id", taskID, "attempts", attempts, "reason", reason)

		q.publish(ctx, taskID, events.WorkItemDeadLetter{
			BaseEvent: q.baseEvent(events.WorkItemDeadLetterEvent),
			TaskID:    taskID,
			Attempts:  attempts,
			Reason:    reason,
		})

		return nil
	}

	if err := q.persistence.AckWorkItem(ctx, taskID, agentID, models.WorkItemStatusCreated, attempts); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "Work item requeued",
		"task_id", taskID, "attempts", attempts, "reason", reason)

	return nil
}

// ReclaimExpired requeues items whose lease expired at or before now.
func (q *Queue) ReclaimExpired(ctx context.Context, now int64, limit int) (int, error) {
	reclaimed, err := q.persistence.ReclaimExpiredLeases(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}

	if reclaimed > 0 {
		q.logger.InfoContext(ctx, "Expired leases reclaimed", "count", reclaimed)
	}

	return reclaimed, nil
}

func (q *Queue) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (q *Queue) publish(ctx context.Context, key string, event eventbus.Event) {
	if q.publisher == nil {
		return
	}

	if err := q.publisher.Publish(ctx, key, event); err != nil {
		q.logger.WarnContext(ctx, "Failed to publish queue event",
			"event_type", event.GetType(), "error", err)
	}
}
