package wal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ordino-dev/ordino/pkg/persistence"
)

// TopicHandler consumes one replayed record for a subscriber.
type TopicHandler func(record Record) error

// TopicReplayer delivers WAL records of one type to named subscribers,
// tracking each subscriber's position by record index so repeated replays
// deliver every record at most once. Offsets live in the structured store,
// not the WAL, so truncating offsets forces a full redelivery.
type TopicReplayer struct {
	wal     *WAL
	offsets persistence.OffsetRepository
	logger  *slog.Logger
}

// NewTopicReplayer creates a topic replayer over the given WAL and offset
// store.
func NewTopicReplayer(logger *slog.Logger, w *WAL, offsets persistence.OffsetRepository) *TopicReplayer {
	return &TopicReplayer{
		wal:     w,
		offsets: offsets,
		logger:  logger.With("module", "wal", "component", "topic_replayer"),
	}
}

// ReplayTopic delivers up to maxRecords records whose type equals topic to
// the subscriber, starting after its stored offset. Handler errors are logged
// and the offset still advances: topic replay is at-most-once delivery, and a
// poison record must not wedge the subscriber. Returns the number of records
// delivered.
func (t *TopicReplayer) ReplayTopic(ctx context.Context, subscriberID, topic string, maxRecords int, handler TopicHandler) (int, error) {
	records, err := t.wal.Records()
	if err != nil {
		return 0, fmt.Errorf("failed to read wal records: %w", err)
	}

	offset, err := t.offsets.EventOffset(ctx, subscriberID, topic)
	if err != nil {
		return 0, fmt.Errorf("failed to load offset for %s: %w", subscriberID, err)
	}

	delivered := 0

	for index, record := range records {
		if index < offset {
			continue
		}

		if record.Type != topic {
			continue
		}

		if maxRecords > 0 && delivered >= maxRecords {
			break
		}

		if err := handler(record); err != nil {
			t.logger.Warn("Topic handler failed, skipping record",
				"subscriber_id", subscriberID, "topic", topic, "index", index, "error", err)
		}

		delivered++
		offset = index + 1

		if err := t.offsets.SetEventOffset(ctx, subscriberID, topic, offset); err != nil {
			return delivered, fmt.Errorf("failed to persist offset for %s: %w", subscriberID, err)
		}
	}

	return delivered, nil
}
