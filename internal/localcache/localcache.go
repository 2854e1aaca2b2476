// Package localcache implements the four process-local tables C4 of
// spec.md §4.4 interposes between every publish/fetch and the overlay: a
// guid cache and decode cache that never expire, and a member cache and
// published set that are evicted on remove.
//
// GUID memoization for derived keys lives in internal/key, which already
// has its own never-expiring guid cache and evict-on-remove member cache
// (spec.md §4.1 folds that memoization into the key derivations
// themselves). This package owns the two caches key derivation does not:
// the decode cache (GUID -> materialized atom) and the published set
// (which atoms this process has already put to the overlay).
package localcache

import (
	"sync"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/overlay"
)

// Caches holds the decode cache and published set, each guarded by its own
// mutex (spec.md §5: "locks are held only across map lookups and
// insertions — never across an overlay call").
type Caches struct {
	decodeMu sync.Mutex
	decode   map[overlay.Key]*atom.Atom

	publishedMu sync.Mutex
	published   map[string]struct{} // keyed by atom identity
}

// New returns an empty pair of caches.
func New() *Caches {
	return &Caches{
		decode:    make(map[overlay.Key]*atom.Atom),
		published: make(map[string]struct{}),
	}
}

// DecodeGet returns the previously materialized atom at g, if any.
func (c *Caches) DecodeGet(g overlay.Key) (*atom.Atom, bool) {
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	a, ok := c.decode[g]
	return a, ok
}

// DecodePut installs a as the materialized atom at g. Entries never
// expire: the atom's content is immutable, so a cached decode is valid
// for the life of the process.
func (c *Caches) DecodePut(g overlay.Key, a *atom.Atom) {
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	c.decode[g] = a
}

// IsPublished reports whether a has already been put to the overlay by
// this process.
func (c *Caches) IsPublished(a *atom.Atom) bool {
	c.publishedMu.Lock()
	defer c.publishedMu.Unlock()
	_, ok := c.published[a.Identity()]
	return ok
}

// MarkPublished records a as published.
func (c *Caches) MarkPublished(a *atom.Atom) {
	c.publishedMu.Lock()
	defer c.publishedMu.Unlock()
	c.published[a.Identity()] = struct{}{}
}

// Forget evicts a from the published set, so that a subsequent store is
// treated as a fresh publication (spec.md §4.7 step 6). The decode cache
// entry is left untouched — the atom's content is still immutable and
// valid to serve from cache.
func (c *Caches) Forget(a *atom.Atom) {
	c.publishedMu.Lock()
	delete(c.published, a.Identity())
	c.publishedMu.Unlock()
}
