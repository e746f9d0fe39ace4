// Package recovery restores runtime consistency after a crash or restart.
// Work items whose lease expired while a worker was down are returned to the
// queue, and the repair itself is journaled so operators can audit restarts.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/wal"
)

const reclaimLimit = 500

// Summary reports what a recovery pass repaired.
type Summary struct {
	ReclaimedLeases int `json:"reclaimed_leases"`
}

// RecoverRuntime reclaims expired work item leases and appends a recovery
// record to the journal. It is safe to call on every process start: a clean
// state yields an empty summary.
func RecoverRuntime(ctx context.Context, logger *slog.Logger, persist persistence.Persistence, journal *wal.WAL) (*Summary, error) {
	now := time.Now().Unix()

	reclaimed, err := persist.ReclaimExpiredLeases(ctx, now, reclaimLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}

	summary := &Summary{ReclaimedLeases: reclaimed}

	err = journal.Append(wal.RecordRuntimeRecovered, map[string]any{
		"reclaimed_leases": reclaimed,
		"timestamp":        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to journal recovery: %w", err)
	}

	logger.InfoContext(ctx, "Runtime recovery complete", "reclaimed_leases", reclaimed)

	return summary, nil
}
