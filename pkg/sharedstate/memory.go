package sharedstate

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"
)

const shardCount = 64

// MemoryStore is an in-process Store. Keys are spread over striped locks so
// unrelated keys never contend.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.Mutex
	items map[string]*entry
}

type entry struct {
	value     []byte
	window    []time.Time
	expiresAt time.Time
	touchedAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// lookup returns the live entry for key. Caller must hold sh.mu.
func (sh *shard) lookup(key string, now time.Time) (*entry, bool) {
	e, ok := sh.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(sh.items, key)
		return nil, false
	}
	return e, true
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the value stored under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lookup(key, s.now())
	if !ok || e.value == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	sh.items[key] = &entry{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(now, ttl),
		touchedAt: now,
	}
	return nil
}

// Delete removes keys
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		delete(sh.items, key)
		sh.mu.Unlock()
	}
	return nil
}

// IncrBy atomically adds delta to the counter at key
func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	var current int64
	if e, ok := sh.lookup(key, now); ok && e.value != nil {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
		}
		current = v
	}

	current += delta
	sh.items[key] = &entry{
		value:     []byte(strconv.FormatInt(current, 10)),
		expiresAt: expiry(now, ttl),
		touchedAt: now,
	}
	return current, nil
}

// Update applies fn under the key's shard lock
func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	var current []byte
	e, exists := sh.lookup(key, now)
	if exists {
		current = append([]byte(nil), e.value...)
	}

	next, err := fn(current, exists && e.value != nil)
	if err != nil {
		return nil, err
	}

	if next == nil {
		delete(sh.items, key)
		return nil, nil
	}

	sh.items[key] = &entry{
		value:     append([]byte(nil), next...),
		expiresAt: expiry(now, ttl),
		touchedAt: now,
	}
	return next, nil
}

// SlidingWindow records now in the window at key when under limit
func (s *MemoryStore) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (WindowResult, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lookup(key, s.now())
	if !ok {
		e = &entry{}
		sh.items[key] = e
	}

	// Drop events at or before the window boundary
	cutoff := now.Add(-window)
	idx := sort.Search(len(e.window), func(i int) bool {
		return e.window[i].After(cutoff)
	})
	e.window = e.window[idx:]

	var oldest time.Time
	if len(e.window) > 0 {
		oldest = e.window[0]
	}

	if len(e.window) >= limit {
		return WindowResult{Allowed: false, Count: len(e.window), Oldest: oldest}, nil
	}

	e.window = append(e.window, now)
	e.touchedAt = now
	e.expiresAt = expiry(s.now(), window)
	if oldest.IsZero() {
		oldest = now
	}
	return WindowResult{Allowed: true, Count: len(e.window), Oldest: oldest}, nil
}

// Compact removes expired entries and entries untouched for longer than idle
func (s *MemoryStore) Compact(ctx context.Context, idle time.Duration) (int, error) {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for key, e := range sh.items {
			if e.expired(now) || now.Sub(e.touchedAt) > idle {
				delete(sh.items, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored entries, including ones not yet compacted
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
