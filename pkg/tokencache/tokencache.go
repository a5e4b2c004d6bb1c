// Package tokencache implements the shared (backend,scope) -> bearer token
// cache described in spec.md §4.1 and §5 ("Token cache: map
// (backend,scope)→token; single-writer/multiple-reader... writers compute-
// or-install idempotently (double-fetch is acceptable)").
//
// It is backed by an in-process map by default, and transparently mirrors
// to redis when a client is configured — the same shared-cache role redis
// plays in the teacher's pkg/queue and pkg/middleware (session lookups).
package tokencache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cached bearer token and when it should be treated as expired.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// Cache is a keyed (backend,scope) -> Entry store. All methods are safe for
// concurrent use; writers race but converge (spec.md §5).
type Cache struct {
	mu    sync.RWMutex
	local map[string]Entry
	redis *redis.Client
}

// New creates a Cache. redisClient may be nil, in which case the cache is
// purely in-process.
func New(redisClient *redis.Client) *Cache {
	return &Cache{
		local: make(map[string]Entry),
		redis: redisClient,
	}
}

func key(backendName, scope string) string {
	return "ociregistryx:token:" + backendName + ":" + scope
}

// Get returns a non-expired cached token, if any.
func (c *Cache) Get(ctx context.Context, backendName, scope string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.local[key(backendName, scope)]
	c.mu.RUnlock()
	if ok && !e.expired(time.Now()) {
		return e, true
	}

	if c.redis == nil {
		return Entry{}, false
	}

	val, err := c.redis.Get(ctx, key(backendName, scope)).Result()
	if err != nil || val == "" {
		return Entry{}, false
	}
	// The token cache in redis carries only the token string; TTL is
	// enforced by redis's own expiry, so ExpiresAt is left zero (not
	// expired from the local side's perspective — redis already evicted
	// it if it were stale).
	entry := Entry{Token: val}
	c.mu.Lock()
	c.local[key(backendName, scope)] = entry
	c.mu.Unlock()
	return entry, true
}

// Put installs a token for (backendName,scope), computed or fetched by the
// caller. Multiple concurrent writers for the same key is fine: last write
// wins, matching spec.md §5's "double-fetch is acceptable".
func (c *Cache) Put(ctx context.Context, backendName, scope string, entry Entry) {
	c.mu.Lock()
	c.local[key(backendName, scope)] = entry
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if entry.ExpiresAt.IsZero() || ttl <= 0 {
		ttl = 5 * time.Minute
	}
	// Best-effort: a failed redis write just means the next reader falls
	// back to re-acquiring a token from upstream.
	_ = c.redis.Set(ctx, key(backendName, scope), entry.Token, ttl).Err()
}
