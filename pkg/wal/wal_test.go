package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/persistence/file"
)

func newTestWAL(t *testing.T) *WAL {
	t.Helper()

	w, err := New(filepath.Join(t.TempDir(), "runtime.wal"))
	require.NoError(t, err)

	return w
}

func TestAppendAndRecords(t *testing.T) {
	w := newTestWAL(t)

	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-1", "run_id": "run-1"}))
	require.NoError(t, w.Append(RecordRunSucceeded, map[string]any{"run_id": "run-1"}))

	records, err := w.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, RecordScheduleTriggered, records[0].Type)
	assert.Equal(t, "s-1", records[0].Data["schedule_id"])
	assert.Equal(t, RecordRunSucceeded, records[1].Type)
	assert.NotEmpty(t, records[0].TS)
}

func TestRecordsMissingFile(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "never-written.wal"))
	require.NoError(t, err)

	records, err := w.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordsSkipsCorruptLines(t *testing.T) {
	w := newTestWAL(t)

	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-1"}))

	// Simulate a torn final write after a crash.
	f, err := os.OpenFile(w.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n{\"ts\":\"2025-06-01T0")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, w.Append(RecordRunSucceeded, map[string]any{"run_id": "run-1"}))

	records, err := w.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, RecordScheduleTriggered, records[0].Type)
	assert.Equal(t, RecordRunSucceeded, records[1].Type)
}

func TestReplayerStats(t *testing.T) {
	w := newTestWAL(t)

	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-1"}))
	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-2"}))
	require.NoError(t, w.Append(RecordRunSucceeded, map[string]any{"run_id": "run-1"}))
	require.NoError(t, w.Append("unknown_type", map[string]any{}))

	replayer := NewReplayer(slog.Default(), w)

	var seen []string

	replayer.Register(RecordScheduleTriggered, func(record Record) (bool, error) {
		id, _ := record.Data["schedule_id"].(string)
		seen = append(seen, id)

		// The second record simulates state already present.
		return id == "s-1", nil
	})

	stats, err := replayer.Replay()
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Applied: 1, Skipped: 3}, stats)
	assert.Equal(t, []string{"s-1", "s-2"}, seen, "records replay in append order")
}

func TestReplayIsDeterministic(t *testing.T) {
	w := newTestWAL(t)

	require.NoError(t, w.Append(RecordDispatchedWorkItem, map[string]any{"task_id": "wi-1"}))
	require.NoError(t, w.Append(RecordDispatchedWorkItem, map[string]any{"task_id": "wi-2"}))

	run := func() []string {
		replayer := NewReplayer(slog.Default(), w)

		var order []string

		replayer.Register(RecordDispatchedWorkItem, func(record Record) (bool, error) {
			id, _ := record.Data["task_id"].(string)
			order = append(order, id)

			return true, nil
		})

		_, err := replayer.Replay()
		require.NoError(t, err)

		return order
	}

	assert.Equal(t, run(), run())
}

func TestTopicReplayTracksOffsets(t *testing.T) {
	w := newTestWAL(t)
	store := file.NewPersistence(t.TempDir())
	ctx := t.Context()

	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-1"}))
	require.NoError(t, w.Append(RecordRunSucceeded, map[string]any{"run_id": "run-1"}))
	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-2"}))

	replayer := NewTopicReplayer(slog.Default(), w, store)

	var seen []string
	collect := func(record Record) error {
		id, _ := record.Data["schedule_id"].(string)
		seen = append(seen, id)

		return nil
	}

	delivered, err := replayer.ReplayTopic(ctx, "sub-1", RecordScheduleTriggered, 1, collect)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"s-1"}, seen)

	// A second pass resumes past the stored offset.
	delivered, err = replayer.ReplayTopic(ctx, "sub-1", RecordScheduleTriggered, 10, collect)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"s-1", "s-2"}, seen)

	// Nothing new: no deliveries.
	delivered, err = replayer.ReplayTopic(ctx, "sub-1", RecordScheduleTriggered, 10, collect)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	// A fresh subscriber starts from the beginning.
	var fresh []string
	delivered, err = replayer.ReplayTopic(ctx, "sub-2", RecordScheduleTriggered, 10, func(record Record) error {
		id, _ := record.Data["schedule_id"].(string)
		fresh = append(fresh, id)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"s-1", "s-2"}, fresh)
}

func TestTopicReplaySwallowsHandlerErrors(t *testing.T) {
	w := newTestWAL(t)
	store := file.NewPersistence(t.TempDir())
	ctx := t.Context()

	require.NoError(t, w.Append(RecordScheduleTriggered, map[string]any{"schedule_id": "s-1"}))

	replayer := NewTopicReplayer(slog.Default(), w, store)

	delivered, err := replayer.ReplayTopic(ctx, "sub-1", RecordScheduleTriggered, 10, func(Record) error {
		return assert.AnError
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered, "a poison record advances the offset")
}
