package port

import (
	"context"
	"time"
)

// Cache is the key-value contract used for auth token lookups and
// last-seen presence. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A ttl <= 0 keeps the key until evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, distinct from transport errors.
var ErrMiss = errMiss{}

type errMiss struct{}

func (e errMiss) Error() string { return "cache: miss" }

// Key helpers keep the keyspace in one place.

func SessionTokenKey(token string) string { return "auth:session:" + token }

func LastSeenKey(userID string) string { return "presence:lastseen:" + userID }
