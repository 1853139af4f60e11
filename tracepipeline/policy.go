/*
Logic:  Per-project content-storage policy lookup, cached with the
        same TTL + single-flight-coalesced shape as projectkey.Cache
        (see projectkey/cache.go) — a second keyed lookup reusing the
        construct rather than inventing new machinery, since policy
        changes are just as rare as HMAC-secret rotation.
*/

package tracepipeline

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// PolicyLoader loads a project's content-storage policy from durable
// storage.
type PolicyLoader func(ctx context.Context, projectID string) (ContentPolicy, error)

type policyEntry struct {
	policy   ContentPolicy
	loadedAt time.Time
}

// PolicyCache is a TTL cache of project_id -> content-storage policy.
type PolicyCache struct {
	load  PolicyLoader
	ttl   time.Duration
	cache sync.Map
	group singleflight.Group
}

// NewPolicyCache builds a policy cache; ttl <= 0 defaults to 5 minutes.
func NewPolicyCache(load PolicyLoader, ttl time.Duration) *PolicyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PolicyCache{load: load, ttl: ttl}
}

// Resolve returns the cached policy if fresh, otherwise coalesces a
// single store read across concurrent callers for the same project.
func (c *PolicyCache) Resolve(ctx context.Context, projectID string) (ContentPolicy, error) {
	if v, ok := c.cache.Load(projectID); ok {
		e := v.(policyEntry)
		if time.Since(e.loadedAt) < c.ttl {
			return e.policy, nil
		}
	}

	v, err, _ := c.group.Do(projectID, func() (interface{}, error) {
		policy, err := c.load(ctx, projectID)
		if err != nil {
			return ContentPolicy(""), err
		}
		c.cache.Store(projectID, policyEntry{policy: policy, loadedAt: time.Now()})
		return policy, nil
	})
	if err != nil {
		return "", err
	}
	return v.(ContentPolicy), nil
}

// StorePolicyLoader reads llm_project_settings, falling back to
// defaultPolicy when no row exists for the project yet.
func StorePolicyLoader(db *sql.DB, defaultPolicy ContentPolicy) PolicyLoader {
	return func(ctx context.Context, projectID string) (ContentPolicy, error) {
		var raw string
		err := db.QueryRowContext(ctx,
			`SELECT content_storage_policy FROM llm_project_settings WHERE project_id = ?`, projectID,
		).Scan(&raw)
		if err == sql.ErrNoRows {
			return defaultPolicy, nil
		}
		if err != nil {
			return "", err
		}
		return ContentPolicy(raw), nil
	}
}
