// Package capability answers "may this role do that" questions from a static
// policy, with an optional TTL cache in front of any AuthorizationChecker.
package capability

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/stepwise/model"
)

type cacheEntry struct {
	allowed bool
	expires time.Time
}

// CacheRecorder observes cache hits and misses. *observability.Metrics
// satisfies it.
type CacheRecorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

// CacheOption configures a CachedAuthorizer.
type CacheOption func(*CachedAuthorizer)

// WithCacheRecorder reports every lookup to rec.
func WithCacheRecorder(rec CacheRecorder) CacheOption {
	return func(c *CachedAuthorizer) { c.recorder = rec }
}

// CachedAuthorizer implements model.AuthorizationChecker with an in-memory
// cache in front of another checker. Errors are not cached.
type CachedAuthorizer struct {
	checker model.AuthorizationChecker
	ttl     time.Duration
	mu      sync.RWMutex
	cache   map[string]cacheEntry
	now     func() time.Time

	recorder CacheRecorder
}

// NewCachedAuthorizer wraps checker with a cache of the given TTL.
func NewCachedAuthorizer(checker model.AuthorizationChecker, ttl time.Duration, opts ...CacheOption) *CachedAuthorizer {
	c := &CachedAuthorizer{
		checker: checker,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(role, permission string) string {
	return role + "\x00" + permission
}

// HasPermission returns the cached answer for (role, permission) or asks the
// wrapped checker.
func (c *CachedAuthorizer) HasPermission(ctx context.Context, role, permission string) (bool, error) {
	key := cacheKey(role, permission)

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && c.now().Before(entry.expires) {
		c.mu.RUnlock()
		if c.recorder != nil {
			c.recorder.RecordCapabilityCacheHit()
		}
		return entry.allowed, nil
	}
	c.mu.RUnlock()
	if c.recorder != nil {
		c.recorder.RecordCapabilityCacheMiss()
	}

	allowed, err := c.checker.HasPermission(ctx, role, permission)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{allowed: allowed, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return allowed, nil
}

// Invalidate clears cached answers for role.
func (c *CachedAuthorizer) Invalidate(role string) {
	prefix := role + "\x00"
	c.mu.Lock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CachedAuthorizer) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}
