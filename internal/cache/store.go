// Package cache implements a tag-indexed, TTL-based key-value cache over a
// remote store. The Cache layer owns key namespacing, value serialization,
// operation statistics and the fail-open error policy; the Store interface
// abstracts the backing key-value server (Redis in production, an in-memory
// map for tests and local development).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when a key does not exist or has
// expired.
var ErrNotFound = errors.New("cache: key not found")

// TTL durations reported by Store.TTL, mirroring the Redis convention.
const (
	// TTLNone means the key exists but carries no expiration.
	TTLNone = -1 * time.Second
	// TTLMissing means the key does not exist.
	TTLMissing = -2 * time.Second
)

// Store abstracts the backing key-value server. All keys are fully
// namespaced storage keys; the Cache layer applies the KeyCodec before
// calling into a Store. Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the raw value for key. Returns ErrNotFound if the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetEx stores a value with the given TTL. TTL must be > 0.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes the given keys and reports how many actually existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// MGet retrieves many keys in one round-trip. The result preserves the
	// input order; missing keys yield nil slots.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// SAdd adds members to the set stored at key, creating it if absent.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns every member of the set stored at key. A missing
	// set yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// IncrBy atomically adds amount to the integer stored at key,
	// initializing it to zero first if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, amount int64) (int64, error)

	// Expire sets a TTL on an existing key. Reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key, TTLNone for keys without
	// an expiration, or TTLMissing for absent keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// ExecBatch executes the given operations as a single atomic
	// pipeline. Either every operation is applied or none is.
	ExecBatch(ctx context.Context, ops []BatchOp) error

	// FlushAll removes every key in the store's database.
	FlushAll(ctx context.Context) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

type batchKind int

const (
	batchSetEx batchKind = iota
	batchSAdd
	batchDel
)

// BatchOp is a single step in an atomic Store.ExecBatch pipeline. Construct
// with SetExOp, SAddOp or DelOp.
type BatchOp struct {
	kind    batchKind
	key     string
	value   []byte
	ttl     time.Duration
	members []string
	keys    []string
}

// SetExOp creates a batch step equivalent to Store.SetEx.
func SetExOp(key string, value []byte, ttl time.Duration) BatchOp {
	return BatchOp{kind: batchSetEx, key: key, value: value, ttl: ttl}
}

// SAddOp creates a batch step equivalent to Store.SAdd.
func SAddOp(key string, members ...string) BatchOp {
	return BatchOp{kind: batchSAdd, key: key, members: members}
}

// DelOp creates a batch step equivalent to Store.Del.
func DelOp(keys ...string) BatchOp {
	return BatchOp{kind: batchDel, keys: keys}
}
