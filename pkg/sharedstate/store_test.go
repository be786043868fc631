package sharedstate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStoreTest creates a miniredis instance and returns the store and cleanup function
func setupRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	store, err := NewRedisStore(RedisConfig{
		URL:       "redis://" + mr.Addr(),
		PoolSize:  10,
		KeyPrefix: "test",
	})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis store: %v", err)
	}

	cleanup := func() {
		store.Close()
		mr.Close()
	}
	return store, mr, cleanup
}

// storeFactories lets each contract test run against every implementation
func storeFactories(t *testing.T) map[string]func() (Store, func()) {
	return map[string]func() (Store, func()){
		"memory": func() (Store, func()) {
			return NewMemoryStore(), func() {}
		},
		"redis": func() (Store, func()) {
			s, _, cleanup := setupRedisStoreTest(t)
			return s, cleanup
		},
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store, cleanup := factory()
			defer cleanup()
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", string(got))

			require.NoError(t, store.Delete(ctx, "k", "never-set"))
			_, err = store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_IncrBy(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store, cleanup := factory()
			defer cleanup()
			ctx := context.Background()

			n, err := store.IncrBy(ctx, "counter", 3, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			n, err = store.IncrBy(ctx, "counter", -1, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

func TestStore_UpdateConcurrentIncrements(t *testing.T) {
	type counter struct {
		N int `json:"n"`
	}

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store, cleanup := factory()
			defer cleanup()
			ctx := context.Background()

			const workers = 10
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, "rmw", time.Minute, func(cur []byte, exists bool) ([]byte, error) {
						var c counter
						if exists {
							if err := json.Unmarshal(cur, &c); err != nil {
								return nil, err
							}
						}
						c.N++
						return json.Marshal(c)
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			data, err := store.Get(ctx, "rmw")
			require.NoError(t, err)
			var c counter
			require.NoError(t, json.Unmarshal(data, &c))
			assert.Equal(t, workers, c.N)
		})
	}
}

func TestStore_UpdateNilDeletes(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store, cleanup := factory()
			defer cleanup()
			ctx := context.Background()

			require.NoError(t, store.Set(ctx, "gone", []byte("x"), 0))
			_, err := store.Update(ctx, "gone", 0, func(cur []byte, exists bool) ([]byte, error) {
				assert.True(t, exists)
				return nil, nil
			})
			require.NoError(t, err)

			_, err = store.Get(ctx, "gone")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SlidingWindow(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store, cleanup := factory()
			defer cleanup()
			ctx := context.Background()

			start := time.Now().Truncate(time.Millisecond)
			window := 10 * time.Second

			for i := 0; i < 3; i++ {
				res, err := store.SlidingWindow(ctx, "client:default", start.Add(time.Duration(i)*time.Second), window, 3)
				require.NoError(t, err)
				assert.True(t, res.Allowed, "request %d should be admitted", i)
				assert.Equal(t, i+1, res.Count)
			}

			res, err := store.SlidingWindow(ctx, "client:default", start.Add(5*time.Second), window, 3)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 3, res.Count)
			assert.Equal(t, start.UnixMilli(), res.Oldest.UnixMilli())

			// First event falls out of the window exactly at start+window
			res, err = store.SlidingWindow(ctx, "client:default", start.Add(window), window, 3)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 3, res.Count)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Compact(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("v"), 0))
	_, err := store.SlidingWindow(ctx, "old-window", now, time.Hour, 10)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	require.NoError(t, store.Set(ctx, "fresh", []byte("v"), 0))

	removed, err := store.Compact(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestRedisStore_KeyPrefixAndTTL(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "circuit:default", []byte("{}"), 30*time.Second))
	assert.True(t, mr.Exists("test:circuit:default"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:circuit:default"))

	mr.FastForward(31 * time.Second)
	_, err := store.Get(ctx, "circuit:default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unreachable(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	mr.Close()
	ctx := context.Background()

	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = store.SlidingWindow(ctx, "k", time.Now(), time.Second, 1)
	assert.Error(t, err)
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{URL: "not-a-url://"})
	assert.Error(t, err)
}

func TestNewRedisStoreFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "")
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Set(context.Background(), "plain", []byte("v"), 0))
	assert.True(t, mr.Exists("plain"))
}
