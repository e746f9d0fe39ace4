// Package postgresql provides the PostgreSQL persistence backend. It is the
// backend intended for multi-process deployments: claims and status updates
// are guarded single-row updates so concurrent schedulers, orchestrators and
// workers can share one database.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/persistence/sqlbase"
)

var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			policy JSONB NOT NULL,
			next_fire_at BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (next_fire_at) WHERE enabled;

		CREATE TABLE IF NOT EXISTS schedule_triggers (
			schedule_id TEXT NOT NULL,
			fire_at BIGINT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (schedule_id, fire_at)
		);

		CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			dag JSONB NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (workflow_id, version)
		);

		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL DEFAULT '',
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			config_snapshot JSONB,
			started_at BIGINT NOT NULL DEFAULT 0,
			ended_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status, started_at);

		CREATE TABLE IF NOT EXISTS node_runs (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot JSONB,
			started_at BIGINT NOT NULL DEFAULT 0,
			ended_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, node_id)
		);

		CREATE TABLE IF NOT EXISTS work_items (
			task_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			payload JSONB,
			status TEXT NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0,
			idempotency_key TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_work_items_claim ON work_items (priority DESC, created_at ASC) WHERE status = 'created';
		CREATE INDEX IF NOT EXISTS idx_work_items_lease ON work_items (lease_expires_at) WHERE status IN ('claimed', 'running');

		CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_factors JSONB,
			requester JSONB,
			status TEXT NOT NULL,
			decision JSONB,
			expires_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS event_offsets (
			subscriber_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			offset_value INTEGER NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (subscriber_id, topic)
		);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			result JSONB,
			ts BIGINT NOT NULL
		);
	`,
}

// Persistence implements persistence.Persistence backed by PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence opens a connection pool against databaseURL and applies
// pending schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:     db,
		logger: logger.With("module", "persistence", "backend", "postgresql"),
	}

	manager := sqlbase.NewMigrationManager(p.logger, db, migrations)
	if err := manager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

// HealthCheck pings the database.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

// marshalJSON renders a value to a JSONB column, storing NULL for nil maps.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}

	return data, nil
}

// unmarshalJSON decodes a JSONB column into out, leaving out untouched on
// NULL.
func unmarshalJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}

	return nil
}

var _ persistence.Persistence = (*Persistence)(nil)
