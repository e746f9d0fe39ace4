package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore is a file-backed lease store for single-host deployments. One
// JSON file per key; an in-process mutex makes acquire atomic.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates a file lease store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Acquire grants or takes over a lease on key.
func (s *FileStore) Acquire(_ context.Context, key, owner string, ttlSec int64) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	existing, err := s.readLease(key)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.ExpiresAt > now {
		return nil, nil
	}

	granted := &Lease{
		LeaseID:   uuid.NewString(),
		Key:       key,
		Owner:     owner,
		ExpiresAt: now + ttlSec,
	}

	if err := writeJSONFile(s.path(key), granted); err != nil {
		return nil, err
	}

	return granted, nil
}

// Release frees a lease held by owner. Absent keys are a no-op.
func (s *FileStore) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLease(key)
	if err != nil {
		return err
	}

	if existing == nil {
		return nil
	}

	if existing.Owner != owner {
		return ErrNotOwner
	}

	if err := os.Remove(s.path(key)); err != nil {
		return fmt.Errorf("failed to remove lease %s: %w", key, err)
	}

	return nil
}

// Get returns the current lease on key, expired or not, or nil.
func (s *FileStore) Get(_ context.Context, key string) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLease(key)
}

func (s *FileStore) readLease(key string) (*Lease, error) {
	var l Lease

	found, err := readJSONFile(s.path(key), &l)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease %s: %w", key, err)
	}

	if !found {
		return nil, nil
	}

	return &l, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, "leases", safeFileKey(key)+".json")
}

// FileIdempotencyStore is a file-backed idempotency store.
type FileIdempotencyStore struct {
	root string
	mu   sync.Mutex
}

// NewFileIdempotencyStore creates a file idempotency store rooted at the
// given directory.
func NewFileIdempotencyStore(root string) *FileIdempotencyStore {
	return &FileIdempotencyStore{root: root}
}

// Has reports whether an idempotency record exists for key.
func (s *FileIdempotencyStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to stat idempotency record %s: %w", key, err)
	}

	return true, nil
}

// Put stores an idempotency record for key.
func (s *FileIdempotencyStore) Put(_ context.Context, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSONFile(s.path(key), record)
}

// Get returns the idempotency record for key, or nil.
func (s *FileIdempotencyStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record Record

	found, err := readJSONFile(s.path(key), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record %s: %w", key, err)
	}

	if !found {
		return nil, nil
	}

	return &record, nil
}

func (s *FileIdempotencyStore) path(key string) string {
	return filepath.Join(s.root, "idempotency", safeFileKey(key)+".json")
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

func readJSONFile(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}

	return true, nil
}

func safeFileKey(key string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
			return c
		default:
			return '_'
		}
	}, key)
}

var (
	_ Store            = (*FileStore)(nil)
	_ IdempotencyStore = (*FileIdempotencyStore)(nil)
)
