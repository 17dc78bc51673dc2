package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// RedisStore handles the request/response Redis connection shared by all
// sessions of this instance. Pub/sub uses separate connections, see the
// broker package.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store and verifies the connection.
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// HashGetAll returns every field of a hash. A missing hash is empty.
func (s *RedisStore) HashGetAll(ctx context.Context, table string) (map[string][]byte, error) {
	defer observe("hgetall", time.Now())

	fields, err := s.client.HGetAll(ctx, table).Result()
	if err != nil {
		return nil, unavailable("hgetall "+table, err)
	}

	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}

// HashGet returns a single field; found is false when it does not exist.
func (s *RedisStore) HashGet(ctx context.Context, table, key string) ([]byte, bool, error) {
	defer observe("hget", time.Now())

	v, err := s.client.HGet(ctx, table, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("hget "+table, err)
	}
	return v, true, nil
}

// HashSet writes a field unconditionally.
func (s *RedisStore) HashSet(ctx context.Context, table, key string, value []byte) error {
	defer observe("hset", time.Now())

	if err := s.client.HSet(ctx, table, key, value).Err(); err != nil {
		return unavailable("hset "+table, err)
	}
	return nil
}

// HashSetNX writes a field only if it does not exist yet.
func (s *RedisStore) HashSetNX(ctx context.Context, table, key string, value []byte) (bool, error) {
	defer observe("hsetnx", time.Now())

	ok, err := s.client.HSetNX(ctx, table, key, value).Result()
	if err != nil {
		return false, unavailable("hsetnx "+table, err)
	}
	return ok, nil
}

// HashDelete removes a field. Deleting a missing field is not an error.
func (s *RedisStore) HashDelete(ctx context.Context, table, key string) error {
	defer observe("hdel", time.Now())

	if err := s.client.HDel(ctx, table, key).Err(); err != nil {
		return unavailable("hdel "+table, err)
	}
	return nil
}

// SortedSetAdd adds a value at the given score.
func (s *RedisStore) SortedSetAdd(ctx context.Context, set string, score float64, value []byte) error {
	defer observe("zadd", time.Now())

	err := s.client.ZAdd(ctx, set, redis.Z{
		Score:  score,
		Member: string(value),
	}).Err()
	if err != nil {
		return unavailable("zadd "+set, err)
	}
	return nil
}

// SortedSetAddTrim adds a value and drops everything but the highest-ranked
// keep entries, atomically.
func (s *RedisStore) SortedSetAddTrim(ctx context.Context, set string, score float64, value []byte, keep int64) error {
	defer observe("zadd_trim", time.Now())

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, set, redis.Z{
			Score:  score,
			Member: string(value),
		})
		// Ranks 0..-(keep+1) are everything below the newest keep entries
		pipe.ZRemRangeByRank(ctx, set, 0, -(keep + 1))
		return nil
	})
	if err != nil {
		return unavailable("zadd+trim "+set, err)
	}
	return nil
}

// SortedSetRange returns values between two ranks in ascending score order.
// Negative ranks index from the end, -1 being the highest score.
func (s *RedisStore) SortedSetRange(ctx context.Context, set string, start, stop int64) ([][]byte, error) {
	defer observe("zrange", time.Now())

	results, err := s.client.ZRange(ctx, set, start, stop).Result()
	if err != nil {
		return nil, unavailable("zrange "+set, err)
	}

	out := make([][]byte, len(results))
	for i, r := range results {
		out[i] = []byte(r)
	}
	return out, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func observe(op string, start time.Time) {
	metrics.RedisLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
