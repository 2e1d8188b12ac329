package proof

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// Default cache tuning. Entries are evicted by TTL or explicit clear only;
// regeneration is idempotent, so dropping the caches is always safe.
const (
	DefaultProofCacheTTL        = 5 * time.Minute
	DefaultVerificationCacheTTL = 2 * time.Minute
	defaultCacheSize            = 4096
)

// Cache memoizes computed values by key with a TTL, and coalesces concurrent
// computations of the same key into exactly one execution. Construct one per
// engine instance; there is no ambient shared cache.
type Cache[T any] struct {
	store *ccache.Cache[T]
	group singleflight.Group
	ttl   time.Duration
}

// NewCache builds a cache holding up to size entries with the given TTL.
func NewCache[T any](size int64, ttl time.Duration) *Cache[T] {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache[T]{
		store: ccache.New(ccache.Configure[T]().MaxSize(size)),
		ttl:   ttl,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[T]) Get(key string) (T, bool) {
	item := c.store.Get(key)
	if item == nil || item.Expired() {
		var zero T
		return zero, false
	}
	return item.Value(), true
}

// Set stores a value under key with the cache TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.store.Set(key, value, c.ttl)
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across all concurrent callers of the same key and caches its result. The
// reported hit flag is false for the caller whose computation ran. Failed
// computations are not cached; every coalesced waiter receives the error.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, compute func() (T, error)) (T, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	// computed records whether this caller's closure ran the computation.
	// Coalesced callers never execute their closure, so their flag stays
	// false and they report a hit. Reading it after the channel receive is
	// safe: the flight result is published before delivery.
	computed := false
	ch := c.group.DoChan(key, func() (any, error) {
		// A winner may have populated the entry between the miss above and
		// joining the flight.
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		computed = true
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, value)
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(T), !computed, nil
	}
}

// Delete removes the entry stored under key.
func (c *Cache[T]) Delete(key string) {
	c.store.Delete(key)
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.store.Clear()
}

// Len returns the number of resident entries, expired ones included.
func (c *Cache[T]) Len() int {
	return c.store.ItemCount()
}

// ProofCache memoizes generated handles by (subject, circuit, options)
// fingerprint.
type ProofCache = Cache[*Handle]

// VerificationCache memoizes verification outcomes by (proofHash, options)
// fingerprint.
type VerificationCache = Cache[*Outcome]

// NewProofCache builds a proof cache with the default size and TTL.
func NewProofCache(ttl time.Duration) *ProofCache {
	if ttl <= 0 {
		ttl = DefaultProofCacheTTL
	}
	return NewCache[*Handle](defaultCacheSize, ttl)
}

// NewVerificationCache builds a verification cache with the default size and
// TTL.
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	if ttl <= 0 {
		ttl = DefaultVerificationCacheTTL
	}
	return NewCache[*Outcome](defaultCacheSize, ttl)
}
