// Package file provides file-based persistence for schedules, runs, work items
// and approvals. Records are stored one JSON document per file, which keeps
// local development and tests free of external dependencies. Claim and status
// updates are serialized by an in-process mutex; multi-process deployments
// should use the postgresql backend.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ordino-dev/ordino/pkg/persistence"
)

const (
	dirSchedules = "schedules"
	dirTriggers  = "schedule_triggers"
	dirRuns      = "runs"
	dirNodeRuns  = "node_runs"
	dirWorkflows = "workflows"
	dirWorkItems = "work_items"
	dirApprovals = "approvals"
	dirOffsets   = "event_offsets"
	dirAudit     = "audit_logs"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file persistence there is none.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("persistence root not writable: %w", err)
	}

	return nil
}

func (p *Persistence) recordPath(dir, key string) string {
	return filepath.Join(p.root, dir, safeKey(key)+".json")
}

func (p *Persistence) writeRecord(dir, key string, record any) error {
	path := p.recordPath(dir, key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s record: %w", dir, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit %s record: %w", dir, err)
	}

	return nil
}

// readRecord loads one record; found=false when the file does not exist.
func (p *Persistence) readRecord(dir, key string, record any) (bool, error) {
	data, err := os.ReadFile(p.recordPath(dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s record: %w", dir, err)
	}

	if err := json.Unmarshal(data, record); err != nil {
		return false, fmt.Errorf("failed to decode %s record: %w", dir, err)
	}

	return true, nil
}

// eachRecord invokes fn for every record in dir. Decode failures abort.
func eachRecord[T any](p *Persistence, dir string, fn func(*T)) error {
	dirPath := filepath.Join(p.root, dir)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return nil
	}

	files, err := fs.Glob(os.DirFS(dirPath), "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s records: %w", dir, err)
	}

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			return fmt.Errorf("failed to read %s record %s: %w", dir, name, err)
		}

		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to decode %s record %s: %w", dir, name, err)
		}

		fn(record)
	}

	return nil
}

// safeKey maps a record key to a file-system safe name.
func safeKey(key string) string {
	var b strings.Builder

	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

var _ persistence.Persistence = (*Persistence)(nil)
