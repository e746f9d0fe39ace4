package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/channels/gochannel"
	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestPublishDeliversToHandler(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.RunQueued, 1)

	err := bus.Handle(events.RunQueuedEvent, func(ctx context.Context, event interface{}) error {
		queued, ok := event.(*events.RunQueued)
		require.True(t, ok)

		received <- queued

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	queued := events.RunQueued{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.RunQueuedEvent,
			Timestamp: time.Now().UTC(),
			TraceID:   "tr-test",
		},
		RunID:      "run-1",
		WorkflowID: "wf-1",
	}
	require.NoError(t, bus.Publish(ctx, "run-1", queued))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "tr-test", got.TraceID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestEventsWithoutHandlerAreSkipped(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.RunFailed, 1)

	err := bus.Handle(events.RunFailedEvent, func(ctx context.Context, event interface{}) error {
		failed, ok := event.(*events.RunFailed)
		require.True(t, ok)

		received <- failed

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	canceled := events.RunCanceled{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.RunCanceledEvent, Timestamp: time.Now().UTC()},
		RunID:     "run-ignored",
	}
	require.NoError(t, bus.Publish(ctx, "run-ignored", canceled))

	failed := events.RunFailed{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.RunFailedEvent, Timestamp: time.Now().UTC()},
		RunID:     "run-2",
		NodeID:    "deploy",
		Reason:    "work item dead-lettered",
	}
	require.NoError(t, bus.Publish(ctx, "run-2", failed))

	select {
	case got := <-received:
		assert.Equal(t, "run-2", got.RunID)
		assert.Equal(t, "deploy", got.NodeID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
