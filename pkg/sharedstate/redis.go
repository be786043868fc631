package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// maxUpdateRetries bounds optimistic WATCH/MULTI retries for a single key
const maxUpdateRetries = 32

// slidingWindowScript prunes, counts and conditionally records an event in a
// sorted set in one round trip. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end

if count >= limit then
	return {0, count, oldest}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
if oldest == 0 then
	oldest = now
end
return {1, count + 1, oldest}
`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	// KeyPrefix namespaces every key written by the store
	KeyPrefix string
}

// RedisStore is a Store backed by Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Client exposes the underlying client for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the value stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Set stores value under key
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// IncrBy atomically increments the counter at key and refreshes its ttl
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k := s.key(key)

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, delta)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	return incr.Val(), nil
}

// Update performs an optimistic read-modify-write using WATCH/MULTI
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	k := s.key(key)
	var result []byte

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		exists := true
		if err == redis.Nil {
			current, exists = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		result = next

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
			} else {
				pipe.Set(ctx, k, next, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

// SlidingWindow runs the sliding window script against the sorted set at key
func (s *RedisStore) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (WindowResult, error) {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.key(key)},
		nowMs, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("redis sliding window failed: %w", err)
	}
	if len(res) != 3 {
		return WindowResult{}, fmt.Errorf("unexpected sliding window reply length %d", len(res))
	}

	result := WindowResult{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
	}
	if res[2] > 0 {
		result.Oldest = time.UnixMilli(res[2])
	}
	return result, nil
}

// Compact is a no-op for Redis. Every key carries a TTL and expires on its own.
func (s *RedisStore) Compact(ctx context.Context, idle time.Duration) (int, error) {
	return 0, nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
