// Package lease provides time-boxed mutual exclusion and idempotency
// tracking. Leases grant one owner exclusive access to a key until they
// expire; idempotency records mark operations as already performed so retries
// and replays become no-ops.
package lease

import (
	"context"
	"errors"
)

// ErrNotOwner is returned when a caller releases a lease it does not hold.
var ErrNotOwner = errors.New("lease held by another owner")

// Lease is one granted exclusivity claim.
type Lease struct {
	LeaseID   string `json:"lease_id"`
	Key       string `json:"key"`
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store grants and releases leases.
type Store interface {
	// Acquire grants a lease on key to owner for ttlSec seconds. Returns
	// nil when the key is already leased and the lease has not expired;
	// an expired lease is taken over.
	Acquire(ctx context.Context, key, owner string, ttlSec int64) (*Lease, error)

	// Release frees a lease held by owner. Releasing a key leased to a
	// different owner returns ErrNotOwner; releasing an absent key is a
	// no-op.
	Release(ctx context.Context, key, owner string) error

	// Get returns the current lease on key, expired or not, or nil.
	Get(ctx context.Context, key string) (*Lease, error)
}

// Record is one stored idempotency marker.
type Record struct {
	CreatedAt int64          `json:"created_at"`
	Value     map[string]any `json:"value,omitempty"`
}

// IdempotencyStore remembers which operations already happened.
type IdempotencyStore interface {
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, record Record) error
	Get(ctx context.Context, key string) (*Record, error)
}
