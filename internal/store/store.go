package store

import (
	"context"
	"errors"
)

// Redis keys shared by every relay instance.
const (
	MembersKey  = "members"
	MessagesKey = "messages"
)

var (
	// ErrStoreUnavailable wraps any failed store command.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPublish wraps a failed broker publish.
	ErrPublish = errors.New("publish failed")
)

// StateStore defines the hash and sorted set primitives the relay consumes.
// RedisStore implements this interface.
type StateStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Hash operations
	HashGetAll(ctx context.Context, table string) (map[string][]byte, error)
	HashGet(ctx context.Context, table, key string) ([]byte, bool, error)
	HashSet(ctx context.Context, table, key string, value []byte) error
	HashSetNX(ctx context.Context, table, key string, value []byte) (bool, error)
	HashDelete(ctx context.Context, table, key string) error

	// Sorted set operations
	SortedSetAdd(ctx context.Context, set string, score float64, value []byte) error
	SortedSetAddTrim(ctx context.Context, set string, score float64, value []byte, keep int64) error
	SortedSetRange(ctx context.Context, set string, start, stop int64) ([][]byte, error)
}
