// Package cache stores the field values of persisted objects by object
// reference, so that reads by reference can skip the datastore.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for all object cache backends
type Cache interface {
	// Get returns the values stored under key. A miss is not an error.
	Get(ctx context.Context, key string) (map[string]any, bool, error)

	// Set stores values under key. A zero ttl selects the default TTL.
	Set(ctx context.Context, key string, values map[string]any, ttl time.Duration) error

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// Clear removes every entry
	Clear(ctx context.Context) error
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL applies when Set is called with a zero ttl. Zero means
	// entries never expire.
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "metaobjects:",
	}
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
