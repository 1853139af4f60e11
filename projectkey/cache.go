/*
Logic:  Maps an inbound project key to the HMAC secret used to verify
        the request body. Adapted from a Bearer-token auth
        middleware's sync.Map + TTL cache (the same shape: a bounded
        staleness window is fine because rotating a project key is a
        deliberate admin action). Cache misses are coalesced with
        singleflight so a burst of requests for a never-seen key
        triggers exactly one store read.
*/

package projectkey

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Secret is the cached record for one project.
type Secret struct {
	ProjectID  string
	HMACSecret string
	LoadedAt   time.Time
}

// Loader fetches a project's secret from durable storage. Returns
// ErrNotFound (via the implementation) when the key is unknown.
type Loader func(ctx context.Context, projectKey string) (Secret, error)

// Cache is a read-mostly, single-writer-on-miss cache of
// project_key -> Secret.
type Cache struct {
	load  Loader
	ttl   time.Duration
	cache sync.Map // project_key -> *entry
	group singleflight.Group
}

type entry struct {
	secret    Secret
	expiresAt time.Time
}

// New creates a project-key cache backed by load, with entries valid
// for ttl before they are re-fetched.
func New(load Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{load: load, ttl: ttl}
}

// Resolve returns the Secret for projectKey, serving from cache when
// fresh and coalescing concurrent misses behind a single store read.
func (c *Cache) Resolve(ctx context.Context, projectKey string) (Secret, error) {
	if v, ok := c.cache.Load(projectKey); ok {
		e := v.(*entry)
		if time.Now().Before(e.expiresAt) {
			return e.secret, nil
		}
		c.cache.Delete(projectKey)
	}

	v, err, _ := c.group.Do(projectKey, func() (interface{}, error) {
		secret, err := c.load(ctx, projectKey)
		if err != nil {
			return Secret{}, err
		}
		secret.LoadedAt = time.Now()
		c.cache.Store(projectKey, &entry{secret: secret, expiresAt: secret.LoadedAt.Add(c.ttl)})
		return secret, nil
	})
	if err != nil {
		return Secret{}, err
	}
	return v.(Secret), nil
}

// Invalidate drops a cached entry immediately, forcing the next
// Resolve to re-load from the store.
func (c *Cache) Invalidate(projectKey string) {
	c.cache.Delete(projectKey)
}
