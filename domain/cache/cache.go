// Package cache provides the domain interface for caching per-user derived
// data such as the visible stream tree.
package cache

import (
	"context"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Cache stores opaque values keyed by string.
// Implementations may be in-memory or Redis.
type Cache interface {
	// Get retrieves a cached value by key.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes cached entries. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all entries from the cache.
	Clear(ctx context.Context) error
}

// Stats provides cache statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64
	// Misses is the number of cache misses.
	Misses int64
	// Size is the current number of entries.
	Size int64
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int64
}

// StatsProvider is an optional interface for caches that support statistics.
type StatsProvider interface {
	// Stats returns current cache statistics.
	Stats() Stats
}

// UserPrefix is the key prefix of every entry derived from a user's data.
func UserPrefix(user storage.UserID) string {
	return "user:" + string(user) + ":"
}

// StreamTreeKey is the key of a user's stream tree.
func StreamTreeKey(user storage.UserID) string {
	return UserPrefix(user) + "streams"
}
