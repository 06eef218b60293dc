package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultTTL is the entry lifetime used when a Set carries no explicit TTL
// and no default was configured.
const DefaultTTL = 5 * time.Minute

// DefaultHealthFloor is the hit-rate percentage below which Healthy reports
// false.
const DefaultHealthFloor = 50

// compressMin is the smallest payload worth gzipping. Below this the gzip
// framing costs more than it saves.
const compressMin = 1024

// Config holds construction-time settings for a Cache.
type Config struct {
	// Prefix is the key namespace, DefaultPrefix if empty. Fixed for the
	// lifetime of the cache.
	Prefix string
	// DefaultTTL applies to writes without an explicit TTL. DefaultTTL
	// constant if zero.
	DefaultTTL time.Duration
	// HealthFloor is the minimum hit-rate percentage for Healthy to report
	// true. Nil applies DefaultHealthFloor; an explicit 0 keeps the floor
	// at zero, so any nonzero hit rate counts as healthy.
	HealthFloor *float64
	// Logger receives fail-open diagnostics. slog.Default if nil.
	Logger *slog.Logger
}

// SetOptions controls a single Set call.
type SetOptions struct {
	// TTL overrides the cache's default entry lifetime when > 0.
	TTL time.Duration
	// Tags registers the key in each named tag set for later bulk
	// invalidation.
	Tags []string
	// Compress gzips payloads larger than a kilobyte before writing.
	Compress bool
}

// Entry is one element of a bulk MSet.
type Entry struct {
	Key   string   `json:"key"`
	Value any      `json:"value"`
	TTL   int64    `json:"ttl,omitempty"` // seconds, 0 = cache default
	Tags  []string `json:"tags,omitempty"`
}

// Cache provides namespaced, TTL-aware, tag-indexed access to a Store.
//
// Every operation is fail-open: a disconnected or erroring backend never
// surfaces an error to the caller. Reads degrade to misses, writes report
// false, and the errors counter records what happened. Caching degrades to
// "no cache" rather than becoming an availability dependency.
//
// Counter policy: hits and misses track lookups only. Absent keys and
// disconnected reads count as misses, so the hit rate stays meaningful
// across outages; backend failures count as both a miss and an error.
type Cache struct {
	store       Store
	codec       KeyCodec
	defaultTTL  time.Duration
	healthFloor float64
	log         *slog.Logger
	connected   atomic.Bool
	counters    counters
}

// New creates a Cache over the given store. The cache starts disconnected;
// call Connect before use.
func New(store Store, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	floor := float64(DefaultHealthFloor)
	if cfg.HealthFloor != nil {
		floor = *cfg.HealthFloor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		store:       store,
		codec:       NewKeyCodec(cfg.Prefix),
		defaultTTL:  cfg.DefaultTTL,
		healthFloor: floor,
		log:         cfg.Logger,
	}
}

// Codec returns the cache's key codec.
func (c *Cache) Codec() KeyCodec { return c.codec }

// DefaultTTL returns the configured default entry lifetime.
func (c *Cache) DefaultTTL() time.Duration { return c.defaultTTL }

// Connect verifies backend connectivity and marks the cache connected.
// Idempotent; a second call on a connected cache is a no-op.
func (c *Cache) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if err := c.store.Ping(ctx); err != nil {
		return err
	}
	c.connected.Store(true)
	return nil
}

// Disconnect marks the cache disconnected. Subsequent operations fail open
// without touching the backend. Idempotent.
func (c *Cache) Disconnect() {
	c.connected.Store(false)
}

// Connected reports whether the cache considers itself connected.
func (c *Cache) Connected() bool { return c.connected.Load() }

// Healthy reports whether the cache is connected and its hit rate is above
// the configured floor. A cache that has served no lookups yet reports
// unhealthy, because its hit rate is zero.
func (c *Cache) Healthy() bool {
	return c.connected.Load() && c.counters.snapshot().HitRate > c.healthFloor
}

// Stats returns a snapshot of the operation counters.
func (c *Cache) Stats() Stats { return c.counters.snapshot() }

// ResetStats zeroes the operation counters.
func (c *Cache) ResetStats() { c.counters.reset() }

// Get returns the decoded value stored at key, or nil if the key is absent,
// the backend is unreachable, or the cache is disconnected. Payloads that do
// not decode as JSON are returned as raw strings rather than failing the
// call.
func (c *Cache) Get(ctx context.Context, key string) any {
	if !c.connected.Load() {
		c.counters.misses.Add(1)
		c.log.Debug("cache get while disconnected", "key", key)
		return nil
	}
	data, err := c.store.Get(ctx, c.codec.Encode(key))
	if err == ErrNotFound {
		c.counters.misses.Add(1)
		return nil
	}
	if err != nil {
		c.counters.errors.Add(1)
		c.counters.misses.Add(1)
		c.log.Warn("cache get failed", "key", key, "error", err)
		return nil
	}
	c.counters.hits.Add(1)
	return decodeValue(data)
}

// GetJSON decodes the value stored at key into v, reporting whether a
// decodable entry was found. Lookups count toward hits and misses exactly
// like Get.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	if !c.connected.Load() {
		c.counters.misses.Add(1)
		c.log.Debug("cache get while disconnected", "key", key)
		return false
	}
	data, err := c.store.Get(ctx, c.codec.Encode(key))
	if err == ErrNotFound {
		c.counters.misses.Add(1)
		return false
	}
	if err != nil {
		c.counters.errors.Add(1)
		c.counters.misses.Add(1)
		c.log.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	data = decompress(data)
	if err := json.Unmarshal(data, v); err != nil {
		c.counters.misses.Add(1)
		c.log.Warn("cache entry not decodable", "key", key, "error", err)
		return false
	}
	c.counters.hits.Add(1)
	return true
}

// Set stores value at key. Strings and byte slices are written as-is,
// anything else is JSON-encoded. Returns true only if the primary write
// succeeded; tag registration failures are logged but never mask a
// successful primary write.
func (c *Cache) Set(ctx context.Context, key string, value any, opts SetOptions) bool {
	if !c.connected.Load() {
		c.log.Debug("cache set while disconnected", "key", key)
		return false
	}
	data, err := encodeValue(value)
	if err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache set: value not serializable", "key", key, "error", err)
		return false
	}
	if opts.Compress && len(data) >= compressMin {
		data = compress(data)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.SetEx(ctx, c.codec.Encode(key), data, ttl); err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	c.counters.sets.Add(1)
	if len(opts.Tags) > 0 {
		ops := make([]BatchOp, 0, len(opts.Tags))
		for _, tag := range opts.Tags {
			ops = append(ops, SAddOp(c.codec.Tag(tag), key))
		}
		if err := c.store.ExecBatch(ctx, ops); err != nil {
			c.counters.errors.Add(1)
			c.log.Warn("cache tag registration failed", "key", key, "tags", opts.Tags, "error", err)
		}
	}
	return true
}

// Delete removes the entry at key, reporting whether it existed. Stale tag
// memberships are left behind and cleaned up lazily during invalidation.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.connected.Load() {
		return false
	}
	removed, err := c.store.Del(ctx, c.codec.Encode(key))
	if err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache delete failed", "key", key, "error", err)
		return false
	}
	c.counters.deletes.Add(1)
	return removed > 0
}

// Exists reports whether key holds an unexpired entry.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	if !c.connected.Load() {
		return false
	}
	ok, err := c.store.Exists(ctx, c.codec.Encode(key))
	if err != nil {
		c.counters.errors.Add(1)
		return false
	}
	return ok
}

// MGet retrieves many keys in one round-trip, preserving input order. A
// backend outage yields a same-length all-nil slice, never an error. Each
// slot counts toward hits or misses.
func (c *Cache) MGet(ctx context.Context, keys []string) []any {
	out := make([]any, len(keys))
	if len(keys) == 0 {
		return out
	}
	if !c.connected.Load() {
		c.counters.misses.Add(uint64(len(keys)))
		return out
	}
	encoded := make([]string, len(keys))
	for i, k := range keys {
		encoded[i] = c.codec.Encode(k)
	}
	vals, err := c.store.MGet(ctx, encoded...)
	if err != nil {
		c.counters.errors.Add(1)
		c.counters.misses.Add(uint64(len(keys)))
		c.log.Warn("cache mget failed", "keys", len(keys), "error", err)
		return out
	}
	for i, data := range vals {
		if data == nil {
			c.counters.misses.Add(1)
			continue
		}
		c.counters.hits.Add(1)
		out[i] = decodeValue(data)
	}
	return out
}

// MSet writes every entry and its tag registrations in a single atomic
// batch. Returns true only if the whole round-trip succeeded.
func (c *Cache) MSet(ctx context.Context, entries []Entry) bool {
	if len(entries) == 0 {
		return true
	}
	if !c.connected.Load() {
		return false
	}
	ops := make([]BatchOp, 0, len(entries)*2)
	for _, e := range entries {
		data, err := encodeValue(e.Value)
		if err != nil {
			c.counters.errors.Add(1)
			c.log.Warn("cache mset: value not serializable", "key", e.Key, "error", err)
			return false
		}
		ttl := time.Duration(e.TTL) * time.Second
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		ops = append(ops, SetExOp(c.codec.Encode(e.Key), data, ttl))
		for _, tag := range e.Tags {
			ops = append(ops, SAddOp(c.codec.Tag(tag), e.Key))
		}
	}
	if err := c.store.ExecBatch(ctx, ops); err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache mset failed", "entries", len(entries), "error", err)
		return false
	}
	c.counters.sets.Add(uint64(len(entries)))
	return true
}

// InvalidateByTag deletes every key registered under tag along with the tag
// set itself, in one atomic batch. The return value counts memberships
// attempted, which may exceed the keys that still existed: stale memberships
// pointing at since-expired entries are included, and deleting them is a
// no-op. That discrepancy is an accepted approximation. A batch failure is
// logged and still reports the attempted count.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) int {
	if !c.connected.Load() {
		return 0
	}
	tagKey := c.codec.Tag(tag)
	members, err := c.store.SMembers(ctx, tagKey)
	if err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache invalidation: tag read failed", "tag", tag, "error", err)
		return 0
	}
	if len(members) == 0 {
		return 0
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = c.codec.Encode(m)
	}
	ops := []BatchOp{DelOp(keys...), DelOp(tagKey)}
	if err := c.store.ExecBatch(ctx, ops); err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache invalidation failed", "tag", tag, "keys", len(members), "error", err)
		return len(members)
	}
	c.counters.deletes.Add(uint64(len(members)))
	return len(members)
}

// Increment atomically adds amount to the counter at key and returns the new
// value, or 0 on failure.
func (c *Cache) Increment(ctx context.Context, key string, amount int64) int64 {
	if !c.connected.Load() {
		return 0
	}
	n, err := c.store.IncrBy(ctx, c.codec.Encode(key), amount)
	if err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache increment failed", "key", key, "error", err)
		return 0
	}
	return n
}

// Expire resets the TTL of an existing entry, reporting whether it existed.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.connected.Load() {
		return false
	}
	ok, err := c.store.Expire(ctx, c.codec.Encode(key), ttl)
	if err != nil {
		c.counters.errors.Add(1)
		return false
	}
	return ok
}

// TTLRemaining returns the remaining lifetime of key in whole seconds, or -1
// when the cache is disconnected, the key is absent, or the key never
// expires. It never fails.
func (c *Cache) TTLRemaining(ctx context.Context, key string) int64 {
	if !c.connected.Load() {
		return -1
	}
	d, err := c.store.TTL(ctx, c.codec.Encode(key))
	if err != nil {
		c.counters.errors.Add(1)
		return -1
	}
	if d < 0 {
		return -1
	}
	return int64(d / time.Second)
}

// Flush clears the store's database and resets the operation counters.
func (c *Cache) Flush(ctx context.Context) bool {
	if !c.connected.Load() {
		return false
	}
	if err := c.store.FlushAll(ctx); err != nil {
		c.counters.errors.Add(1)
		c.log.Warn("cache flush failed", "error", err)
		return false
	}
	c.counters.reset()
	return true
}

// Ping probes backend liveness without touching the counters.
func (c *Cache) Ping(ctx context.Context) bool {
	return c.store.Ping(ctx) == nil
}

// encodeValue serializes a value for storage: strings and byte slices pass
// through untouched, everything else becomes JSON.
func encodeValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeValue reverses encodeValue: gzip payloads are expanded first, JSON
// payloads are decoded, and anything else falls back to the raw string.
func decodeValue(data []byte) any {
	data = decompress(data)
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

var gzipMagic = []byte{0x1f, 0x8b}

func compress(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func decompress(data []byte) []byte {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}
