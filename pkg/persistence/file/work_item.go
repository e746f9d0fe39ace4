package file

import (
	"context"
	"sort"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// EnqueueWorkItem stores a new work item. Enqueueing an already existing task
// ID is a no-op, which makes dispatch retry-safe.
func (p *Persistence) EnqueueWorkItem(_ context.Context, item *models.WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var existing models.WorkItem

	found, err := p.readRecord(dirWorkItems, item.TaskID, &existing)
	if err != nil {
		return persistence.NewStoreError("enqueue", "work_item", item.TaskID, err)
	}

	if found {
		return nil
	}

	return p.writeRecord(dirWorkItems, item.TaskID, item)
}

// WorkItemByID returns a work item or ErrWorkItemNotFound.
func (p *Persistence) WorkItemByID(_ context.Context, taskID string) (*models.WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var item models.WorkItem

	found, err := p.readRecord(dirWorkItems, taskID, &item)
	if err != nil {
		return nil, persistence.NewStoreError("get", "work_item", taskID, err)
	}

	if !found {
		return nil, persistence.NewStoreError("get", "work_item", taskID, persistence.ErrWorkItemNotFound)
	}

	return &item, nil
}

// ListWorkItems returns work items, optionally filtered by status, newest
// first.
func (p *Persistence) ListWorkItems(_ context.Context, status models.WorkItemStatus, limit int) ([]*models.WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var items []*models.WorkItem

	err := eachRecord(p, dirWorkItems, func(i *models.WorkItem) {
		if status != "" && i.Status != status {
			return
		}

		items = append(items, i)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list", "work_item", "", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}

		return items[i].TaskID < items[j].TaskID
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// ClaimWorkItem atomically leases the highest priority queued work item at or
// below maxPriority to the given agent. Returns nil when nothing is claimable.
func (p *Persistence) ClaimWorkItem(_ context.Context, agentID string, maxPriority int, leaseTTLSec int64) (*models.WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*models.WorkItem

	err := eachRecord(p, dirWorkItems, func(i *models.WorkItem) {
		if i.Status != models.WorkItemStatusCreated {
			return
		}

		if i.Priority > maxPriority {
			return
		}

		candidates = append(candidates, i)
	})
	if err != nil {
		return nil, persistence.NewStoreError("claim", "work_item", "", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}

		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt < candidates[j].CreatedAt
		}

		return candidates[i].TaskID < candidates[j].TaskID
	})

	item := candidates[0]
	item.Status = models.WorkItemStatusClaimed
	item.AgentID = agentID
	item.LeaseOwner = agentID
	item.LeaseExpiresAt = models.NowUnix() + leaseTTLSec
	item.UpdatedAt = models.NowUnix()

	if err := p.writeRecord(dirWorkItems, item.TaskID, item); err != nil {
		return nil, persistence.NewStoreError("claim", "work_item", item.TaskID, err)
	}

	return item, nil
}

// AckWorkItem settles a claimed work item as acked or failed. Only the lease
// owner may ack; anyone else gets ErrNotLeaseOwner.
func (p *Persistence) AckWorkItem(_ context.Context, taskID, agentID string, status models.WorkItemStatus, attempts int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var item models.WorkItem

	found, err := p.readRecord(dirWorkItems, taskID, &item)
	if err != nil {
		return persistence.NewStoreError("ack", "work_item", taskID, err)
	}

	if !found {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrWorkItemNotFound)
	}

	if item.LeaseOwner != agentID {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrNotLeaseOwner)
	}

	if !models.CanTransition(item.Status, status, models.WorkItemTransitions) {
		return persistence.NewStoreError("ack", "work_item", taskID, persistence.ErrInvalidTransition)
	}

	item.Status = status
	item.Attempts = attempts
	item.UpdatedAt = models.NowUnix()

	if status == models.WorkItemStatusCreated {
		item.AgentID = ""
		item.LeaseOwner = ""
		item.LeaseExpiresAt = 0
	}

	return p.writeRecord(dirWorkItems, taskID, &item)
}

// MarkWorkItemRunning flips a claimed item to running for the lease owner.
func (p *Persistence) MarkWorkItemRunning(_ context.Context, taskID, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var item models.WorkItem

	found, err := p.readRecord(dirWorkItems, taskID, &item)
	if err != nil {
		return persistence.NewStoreError("mark_running", "work_item", taskID, err)
	}

	if !found {
		return persistence.NewStoreError("mark_running", "work_item", taskID, persistence.ErrWorkItemNotFound)
	}

	if item.LeaseOwner != agentID {
		return persistence.NewStoreError("mark_running", "work_item", taskID, persistence.ErrNotLeaseOwner)
	}

	if !models.CanTransition(item.Status, models.WorkItemStatusRunning, models.WorkItemTransitions) {
		return persistence.NewStoreError("mark_running", "work_item", taskID, persistence.ErrInvalidTransition)
	}

	item.Status = models.WorkItemStatusRunning
	item.UpdatedAt = models.NowUnix()

	return p.writeRecord(dirWorkItems, taskID, &item)
}

// ReclaimExpiredLeases requeues claimed or running items whose lease expired
// at or before now, oldest lease first, and reports how many were reclaimed.
func (p *Persistence) ReclaimExpiredLeases(_ context.Context, now int64, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*models.WorkItem

	err := eachRecord(p, dirWorkItems, func(i *models.WorkItem) {
		if i.Status != models.WorkItemStatusClaimed && i.Status != models.WorkItemStatusRunning {
			return
		}

		if i.LeaseExpiresAt <= 0 || i.LeaseExpiresAt > now {
			return
		}

		expired = append(expired, i)
	})
	if err != nil {
		return 0, persistence.NewStoreError("reclaim", "work_item", "", err)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].LeaseExpiresAt < expired[j].LeaseExpiresAt })

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, item := range expired {
		item.Status = models.WorkItemStatusCreated
		item.AgentID = ""
		item.LeaseOwner = ""
		item.LeaseExpiresAt = 0
		item.UpdatedAt = models.NowUnix()

		if err := p.writeRecord(dirWorkItems, item.TaskID, item); err != nil {
			return 0, persistence.NewStoreError("reclaim", "work_item", item.TaskID, err)
		}
	}

	return len(expired), nil
}
