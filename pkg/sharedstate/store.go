package sharedstate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired
	ErrNotFound = errors.New("sharedstate: key not found")
	// ErrConflict is returned when an optimistic update could not be applied
	// after repeated concurrent modifications of the same key
	ErrConflict = errors.New("sharedstate: too many concurrent updates")
)

// UpdateFunc computes the next value of a key from its current value.
// exists is false when the key is absent. Returning a nil value deletes the key.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// WindowResult is the outcome of a sliding window admission
type WindowResult struct {
	// Allowed reports whether the event was recorded in the window
	Allowed bool
	// Count is the number of events in the window after the call
	Count int
	// Oldest is the timestamp of the oldest event still in the window.
	// Zero when the window is empty.
	Oldest time.Time
}

// Store is a key-value store with TTL support shared across server processes
type Store interface {
	// Get returns the value of key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// IncrBy atomically adds delta to the integer stored at key and refreshes its ttl
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Update performs an atomic read-modify-write of a single key
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error)

	// SlidingWindow prunes events older than now-window, then records now when
	// fewer than limit events remain
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (WindowResult, error)

	// Compact removes entries that have been idle for longer than idle and
	// returns how many were removed
	Compact(ctx context.Context, idle time.Duration) (int, error)

	// Ping checks connectivity to the backing store
	Ping(ctx context.Context) error

	// Close releases resources held by the store
	Close() error
}
