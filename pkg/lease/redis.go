package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lease only when owned by the caller. Running it
// server-side keeps the owner check and the delete atomic.
var releaseScript = redis.NewScript(`
	local raw = redis.call("GET", KEYS[1])
	if not raw then
		return 1
	end
	local lease = cjson.decode(raw)
	if lease.owner ~= ARGV[1] then
		return 0
	end
	redis.call("DEL", KEYS[1])
	return 1
`)

// RedisStore is a Redis-backed lease store for multi-host deployments.
// Expiry rides on Redis key TTLs, so expired leases vanish on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a lease store over an existing Redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ordino"
	}

	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient connects a Redis client from a redis:// URL.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Acquire grants a lease via SET NX with a TTL.
func (s *RedisStore) Acquire(ctx context.Context, key, owner string, ttlSec int64) (*Lease, error) {
	granted := &Lease{
		LeaseID:   uuid.NewString(),
		Key:       key,
		Owner:     owner,
		ExpiresAt: time.Now().Unix() + ttlSec,
	}

	data, err := json.Marshal(granted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.leaseKey(key), data, time.Duration(ttlSec)*time.Second).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	if !ok {
		return nil, nil
	}

	return granted, nil
}

// Release frees a lease held by owner.
func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	result, err := releaseScript.Run(ctx, s.client, []string{s.leaseKey(key)}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	if result == 0 {
		return ErrNotOwner
	}

	return nil
}

// Get returns the current lease on key, or nil once the TTL expired it.
func (s *RedisStore) Get(ctx context.Context, key string) (*Lease, error) {
	data, err := s.client.Get(ctx, s.leaseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get lease %s: %w", key, err)
	}

	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode lease %s: %w", key, err)
	}

	return &l, nil
}

func (s *RedisStore) leaseKey(key string) string {
	return s.prefix + ":lease:" + key
}

// RedisIdempotencyStore is a Redis-backed idempotency store.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore creates an idempotency store over an existing
// Redis client.
func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "ordino"
	}

	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

// Has reports whether an idempotency record exists for key.
func (s *RedisIdempotencyStore) Has(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.recordKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency record %s: %w", key, err)
	}

	return count > 0, nil
}

// Put stores an idempotency record for key. Records never expire; completed
// work stays deduplicated across replays.
func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record %s: %w", key, err)
	}

	if err := s.client.Set(ctx, s.recordKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record %s: %w", key, err)
	}

	return nil
}

// Get returns the idempotency record for key, or nil.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record %s: %w", key, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record %s: %w", key, err)
	}

	return &record, nil
}

func (s *RedisIdempotencyStore) recordKey(key string) string {
	return s.prefix + ":idempotency:" + key
}

var (
	_ Store            = (*RedisStore)(nil)
	_ IdempotencyStore = (*RedisIdempotencyStore)(nil)
)
