package file

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

type offsetRecord struct {
	SubscriberID string `json:"subscriber_id"`
	Topic        string `json:"topic"`
	Offset       int    `json:"offset"`
	UpdatedAt    int64  `json:"updated_at"`
}

type auditRecord struct {
	ID       string         `json:"id"`
	TraceID  string         `json:"trace_id"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Resource string         `json:"resource"`
	Result   map[string]any `json:"result,omitempty"`
	TS       int64          `json:"ts"`
}

// EventOffset returns the stored replay position for a subscriber on a topic.
// Unknown subscribers start at offset zero.
func (p *Persistence) EventOffset(_ context.Context, subscriberID, topic string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var record offsetRecord

	found, err := p.readRecord(dirOffsets, offsetKey(subscriberID, topic), &record)
	if err != nil {
		return 0, persistence.NewStoreError("get", "event_offset", subscriberID, err)
	}

	if !found {
		return 0, nil
	}

	return record.Offset, nil
}

// SetEventOffset stores the replay position for a subscriber on a topic.
func (p *Persistence) SetEventOffset(_ context.Context, subscriberID, topic string, offset int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record := offsetRecord{
		SubscriberID: subscriberID,
		Topic:        topic,
		Offset:       offset,
		UpdatedAt:    models.NowUnix(),
	}

	return p.writeRecord(dirOffsets, offsetKey(subscriberID, topic), &record)
}

// AddAuditLog appends one operator-visible audit row.
func (p *Persistence) AddAuditLog(_ context.Context, traceID, actor, action, resource string, result map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record := auditRecord{
		ID:       uuid.NewString(),
		TraceID:  traceID,
		Actor:    actor,
		Action:   action,
		Resource: resource,
		Result:   result,
		TS:       models.NowUnix(),
	}

	return p.writeRecord(dirAudit, record.ID, &record)
}

func offsetKey(subscriberID, topic string) string {
	return fmt.Sprintf("%s-%s", subscriberID, topic)
}
