// Package wal implements the append-only JSONL write-ahead log that records
// externally visible effects (schedule firings, dispatches, approvals, run
// terminations) so a restarted process can reconstruct its in-flight state.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record types appended by the runtime.
const (
	RecordScheduleTriggered  = "schedule_triggered"
	RecordDispatchedWorkItem = "orchestrator_dispatched_work_item"
	RecordWaitingApproval    = "orchestrator_waiting_approval"
	RecordNodeFailed         = "orchestrator_node_failed"
	RecordRunSucceeded       = "orchestrator_run_succeeded"
	RecordMissingWorkflow    = "orchestrator_missing_workflow"
	RecordRuntimeRecovered   = "runtime_recovered"
)

// Record is one WAL line.
type Record struct {
	TS   string         `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// WAL is an append-only JSONL log. Appends are fsynced so an acknowledged
// record survives a crash. Safe for concurrent use.
type WAL struct {
	path string
	mu   sync.Mutex
}

// New creates a WAL writing to the given file path, creating parent
// directories as needed.
func New(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wal directory: %w", err)
	}

	return &WAL{path: path}, nil
}

// Append writes one record and syncs it to disk before returning.
func (w *WAL) Append(recordType string, data map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := Record{
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Type: recordType,
		Data: data,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal wal record: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open wal: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append wal record: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync wal: %w", err)
	}

	return nil
}

// Records reads every decodable record in append order. Blank and corrupt
// lines (a torn final write after a crash) are skipped, not errors.
func (w *WAL) Records() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	defer file.Close()

	var records []Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan wal: %w", err)
	}

	return records, nil
}

// Path returns the backing file path.
func (w *WAL) Path() string {
	return w.path
}
