package models

// WorkItemStatus is the lifecycle state of a queued unit of work.
type WorkItemStatus string

const (
	WorkItemStatusCreated    WorkItemStatus = "created"
	WorkItemStatusClaimed    WorkItemStatus = "claimed"
	WorkItemStatusRunning    WorkItemStatus = "running"
	WorkItemStatusAcked      WorkItemStatus = "acked"
	WorkItemStatusFailed     WorkItemStatus = "failed"
	WorkItemStatusDeadLetter WorkItemStatus = "dead_letter"
)

// IsTerminal reports whether the item can never be claimed again.
func (s WorkItemStatus) IsTerminal() bool {
	return s == WorkItemStatusAcked || s == WorkItemStatusDeadLetter
}

// DefaultMaxRetries is the retry budget applied when the payload does not
// carry its own max_retries.
const DefaultMaxRetries = 3

// WorkItem is a unit of work claimed and executed by an external agent under a
// time-boxed lease. TaskID is the stable identity; items originating from a
// DAG node use "wi-{run_id}-{node_id}". Completed items are retained for
// idempotency lookups and audit, never deleted.
type WorkItem struct {
	TaskID         string         `json:"task_id" validate:"required"`
	AgentID        string         `json:"agent_id"`
	Priority       int            `json:"priority"`
	Payload        map[string]any `json:"payload,omitempty"`
	Status         WorkItemStatus `json:"status"`
	LeaseOwner     string         `json:"lease_owner"`
	LeaseExpiresAt int64          `json:"lease_expires_at"`
	IdempotencyKey string         `json:"idempotency_key"`
	Attempts       int            `json:"attempts"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// MaxRetries returns the retry budget for this item.
func (w *WorkItem) MaxRetries() int {
	if v, ok := w.Payload["max_retries"]; ok {
		switch n := v.(type) {
		case int:
			if n >= 0 {
				return n
			}
		case float64:
			if n >= 0 {
				return int(n)
			}
		}
	}

	return DefaultMaxRetries
}

// WorkItemTransitions enumerates the legal work item state machine. The
// failed→created edge is the retry requeue; claimed→created is lease reclaim.
var WorkItemTransitions = map[WorkItemStatus][]WorkItemStatus{
	WorkItemStatusCreated:    {WorkItemStatusClaimed, WorkItemStatusDeadLetter},
	WorkItemStatusClaimed:    {WorkItemStatusRunning, WorkItemStatusAcked, WorkItemStatusFailed, WorkItemStatusCreated, WorkItemStatusDeadLetter},
	WorkItemStatusRunning:    {WorkItemStatusAcked, WorkItemStatusFailed, WorkItemStatusCreated, WorkItemStatusDeadLetter},
	WorkItemStatusAcked:      {},
	WorkItemStatusFailed:     {WorkItemStatusCreated, WorkItemStatusDeadLetter},
	WorkItemStatusDeadLetter: {},
}

// WorkItemIdempotencyKey derives the default idempotency key for a task.
func WorkItemIdempotencyKey(taskID string) string {
	return "task:" + taskID
}
