/*
Logic:  A small bounded existence cache keyed by (project_id,
        fingerprint), letting the flush loop skip a store round-trip
        when deciding whether an event's fingerprint needs a fresh
        sample-occurrence row. Backed by ristretto (TinyLFU admission),
        owned exclusively by the worker goroutine — no locking.
        Eviction under memory pressure only costs an extra sample
        insert on the next flush; it never changes aggregate
        correctness, since the durable upsert in error_aggregates does
        not consult this cache at all.
*/

package errorpipeline

import "github.com/dgraph-io/ristretto"

// Aggregator tracks which (project_id, fingerprint) pairs the worker
// has already flushed at least one sample occurrence for.
type Aggregator struct {
	cache *ristretto.Cache
}

// NewAggregator builds a bounded aggregator cache sized for a few
// hundred thousand distinct fingerprints, which comfortably covers a
// single modest-hardware deployment's working set.
func NewAggregator() (*Aggregator, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1_000_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Aggregator{cache: c}, nil
}

func aggregatorKey(projectID, fingerprint string) string {
	return projectID + ":" + fingerprint
}

// Seen reports whether (projectID, fingerprint) has been recorded by a
// prior flush. The worker calls it for each event during a flush, and
// MarkSeen runs only after that flush commits, so it reflects state as
// of "flush start" for every event in the batch uniformly.
func (a *Aggregator) Seen(projectID, fingerprint string) bool {
	_, ok := a.cache.Get(aggregatorKey(projectID, fingerprint))
	return ok
}

// MarkSeen records (projectID, fingerprint) after a successful flush.
func (a *Aggregator) MarkSeen(projectID, fingerprint string) {
	a.cache.Set(aggregatorKey(projectID, fingerprint), struct{}{}, 1)
}

// Close releases the cache's background goroutines.
func (a *Aggregator) Close() {
	a.cache.Close()
}
