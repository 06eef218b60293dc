package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation with the same observable
// behavior as the Redis backend. It backs tests, local development and the
// CLI's --memory mode. A single mutex makes ExecBatch trivially atomic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	sets    map[string]map[string]struct{}
	closed  bool
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store with periodic eviction of
// expired entries.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		sets:    make(map[string]map[string]struct{}),
	}
	go s.evictLoop()
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired() {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (s *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key string, value []byte, ttl time.Duration) {
	if s.closed {
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = &memEntry{value: cp, expiresAt: expiresAt}
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delLocked(keys), nil
}

func (s *MemoryStore) delLocked(keys []string) int64 {
	var removed int64
	for _, key := range keys {
		// DEL counts existing keys, not the structures behind them.
		found := false
		if entry, ok := s.entries[key]; ok {
			found = !entry.expired()
			delete(s.entries, key)
		}
		if _, ok := s.sets[key]; ok {
			found = true
			delete(s.sets, key)
		}
		if found {
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && !entry.expired() {
		return true, nil
	}
	_, ok = s.sets[key]
	return ok, nil
}

func (s *MemoryStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if entry, ok := s.entries[key]; ok && !entry.expired() {
			cp := make([]byte, len(entry.value))
			copy(cp, entry.value)
			out[i] = cp
		}
	}
	return out, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saddLocked(key, members)
	return nil
}

func (s *MemoryStore) saddLocked(key string, members []string) {
	if s.closed {
		return
	}
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if entry, ok := s.entries[key]; ok && !entry.expired() {
		n, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache: value at %s is not an integer", key)
		}
		current = n
	}
	current += amount
	// Preserve the existing expiration, matching INCRBY.
	expiresAt := time.Time{}
	if entry, ok := s.entries[key]; ok {
		expiresAt = entry.expiresAt
	}
	s.entries[key] = &memEntry{value: []byte(strconv.FormatInt(current, 10)), expiresAt: expiresAt}
	return current, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired() {
		return false, nil
	}
	entry.expiresAt = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired() {
		if _, ok := s.sets[key]; ok {
			return TTLNone, nil
		}
		return TTLMissing, nil
	}
	if entry.expiresAt.IsZero() {
		return TTLNone, nil
	}
	return time.Until(entry.expiresAt), nil
}

func (s *MemoryStore) ExecBatch(_ context.Context, ops []BatchOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		switch op.kind {
		case batchSetEx:
			s.setLocked(op.key, op.value, op.ttl)
		case batchSAdd:
			s.saddLocked(op.key, op.members)
		case batchDel:
			s.delLocked(op.keys)
		}
	}
	return nil
}

func (s *MemoryStore) FlushAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.entries = make(map[string]*memEntry)
	s.sets = make(map[string]map[string]struct{})
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.sets = nil
	return nil
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		for key, entry := range s.entries {
			if entry.expired() {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}
