package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Default sizing targets catalog-scale working sets: hundreds of mappings,
// not millions of keys.
const (
	defaultNumCounters = 10000
	defaultMaxCost     = 1000
	defaultBufferItems = 64
)

// RistrettoCache is a Cache backed by ristretto.
type RistrettoCache struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig holds configuration for the ristretto cache.
type RistrettoConfig struct {
	NumCounters int64 // keys to track frequency for (10x max items)
	MaxCost     int64 // maximum total cost (items; each entry costs 1)
	BufferItems int64 // keys per Get buffer
	Logger      *zap.Logger
}

// NewRistrettoCache creates a ristretto-backed cache. Zero sizing fields fall
// back to the defaults above.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = defaultNumCounters
	}

	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}

	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = defaultBufferItems
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &RistrettoCache{
		cache:  inner,
		logger: cfg.Logger,
	}, nil
}

// Get retrieves a value from the cache.
func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(key)
	if found {
		CacheHitsTotal.Inc()
	} else {
		CacheMissesTotal.Inc()
	}

	return value, found
}

// Set stores a value in the cache with a TTL. Each entry costs 1; the cache
// counts items, not bytes.
func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	admitted := r.cache.SetWithTTL(key, value, 1, ttl)
	if admitted {
		CacheSetsTotal.Inc()
	} else {
		r.logger.Debug("cache-set-dropped", zap.String("key", key))
	}

	return admitted
}

// Delete removes a value from the cache.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
	CacheDeletesTotal.Inc()
}

// Clear removes all values from the cache.
func (r *RistrettoCache) Clear() {
	r.cache.Clear()
	r.logger.Info("cache-cleared")
}

// Close closes the cache and releases resources.
func (r *RistrettoCache) Close() {
	r.cache.Close()
	r.logger.Info("cache-closed")
}

// Wait blocks until pending writes have been applied. Ristretto admits
// entries asynchronously; tests use this to observe their own sets.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}
