// Package cache provides a TTL-bounded in-process cache backed by ristretto.
// The catalog registry uses it to serve repeated mapping lookups without
// walking the full table.
package cache

import "time"

// Cache is a TTL key-value cache.
type Cache interface {
	// Get retrieves a value. ok is false when the key is absent or expired.
	Get(key string) (interface{}, bool)

	// Set stores a value with a TTL. Returns false when the entry was not
	// admitted.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a value.
	Delete(key string)

	// Clear removes all values.
	Clear()

	// Close releases cache resources.
	Close()
}
