package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/storygate/internal/access"
)

type cacheEntry struct {
	ent     access.Entitlement
	fetched time.Time
}

// Cached memoizes another source for a TTL. Errors are not cached, so a
// failed read is retried on the next call.
type Cached struct {
	source access.EntitlementSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCached wraps source with a ttl memo. A non-positive ttl disables caching.
func NewCached(source access.EntitlementSource, ttl time.Duration) *Cached {
	return &Cached{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// FetchEntitlement implements access.EntitlementSource.
func (c *Cached) FetchEntitlement(ctx context.Context, userID string) (access.Entitlement, error) {
	if c.ttl > 0 {
		c.mu.Lock()
		e, ok := c.entries[userID]
		c.mu.Unlock()
		if ok && c.now().Sub(e.fetched) < c.ttl {
			return e.ent, nil
		}
	}

	ent, err := c.source.FetchEntitlement(ctx, userID)
	if err != nil {
		return access.Entitlement{}, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[userID] = cacheEntry{ent: ent, fetched: c.now()}
		c.mu.Unlock()
	}
	return ent, nil
}

// Invalidate drops the memo for userID, e.g. after a purchase.
func (c *Cached) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
