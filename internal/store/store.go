// Package store provides the durable key-value store used for approval
// records, rate-limit windows, trace ring buffers, and conversation history.
//
// Two implementations are provided: a Redis-backed store for production and
// an in-memory store for tests and degraded operation. Both satisfy the same
// narrow interface so callers never depend on a concrete client.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the durable storage contract. All operations honor context
// cancellation and return the underlying error unwrapped so callers can
// decide whether to fall back to in-process state.
type Store interface {
	// HSet writes the given fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll reads all fields of the hash at key. A missing key returns
	// ErrNotFound.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSetIfFieldEquals writes updates into the hash at key only when the
	// named field currently holds expect. The comparison and write are
	// atomic. Returns true when the write happened.
	HSetIfFieldEquals(ctx context.Context, key, field, expect string, updates map[string]string) (bool, error)

	// Expire sets the time-to-live of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// LPush prepends value to the list at key.
	LPush(ctx context.Context, key, value string) error

	// LTrim trims the list at key to the index range [start, stop].
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange reads the index range [start, stop] of the list at key.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Get reads the string value at key. A missing key returns ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the string value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Keys lists keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// SlidingWindowAdmit atomically admits one event into the sliding
	// window at key: entries older than window are evicted, the new entry
	// is added, and if the resulting count exceeds maxCalls the new entry
	// is removed again and false is returned.
	SlidingWindowAdmit(ctx context.Context, key string, now time.Time, window time.Duration, maxCalls int) (bool, error)

	// Publish sends payload on the named pub/sub channel.
	Publish(ctx context.Context, channel, payload string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
