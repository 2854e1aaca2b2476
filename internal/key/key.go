// Package key computes the three overlay key derivations — GUID, MEMBER,
// and SPACE — that locate an atom's data in the DHT. All three are pure
// functions of their inputs; this package only adds memoization on top.
package key

import (
	"crypto/sha1"
	"sync"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/overlay"
)

// Serializer is the subset of the Codec Adapter (C2) that key derivation
// needs: canonical atom serialization.
type Serializer interface {
	EncodeAtom(a *atom.Atom) string
}

// Registry memoizes the GUID and MEMBER derivations per atom and the SPACE
// derivation per AtomSpace name, each guarded by its own mutex so that a
// miss on one never blocks a hit on another (spec.md §5's "locks are held
// only across map lookups and insertions, never across an overlay call" —
// here there is no overlay call at all, only a serializer invocation).
type Registry struct {
	codec Serializer
	space string

	guidMu    sync.Mutex
	guidCache map[string]overlay.Key // atom identity -> GUID

	memberMu    sync.Mutex
	memberCache map[string]overlay.Key // atom identity -> MEMBER(a, space)

	spaceMu    sync.Mutex
	spaceCache map[string]overlay.Key // space name -> SPACE(name)
}

// NewRegistry returns a key Registry for spaceName, deriving atom keys
// through codec.
func NewRegistry(codec Serializer, spaceName string) *Registry {
	return &Registry{
		codec:       codec,
		space:       spaceName,
		guidCache:   make(map[string]overlay.Key),
		memberCache: make(map[string]overlay.Key),
		spaceCache:  make(map[string]overlay.Key),
	}
}

// GUID returns hash(serialization(a)), memoized for the life of the
// Registry (spec.md §4.4: "guid cache: entries never expire").
func (r *Registry) GUID(a *atom.Atom) overlay.Key {
	ident := a.Identity()

	r.guidMu.Lock()
	if k, ok := r.guidCache[ident]; ok {
		r.guidMu.Unlock()
		return k
	}
	r.guidMu.Unlock()

	k := hash(r.codec.EncodeAtom(a))

	r.guidMu.Lock()
	r.guidCache[ident] = k
	r.guidMu.Unlock()
	return k
}

// Member returns hash(space ∥ serialization(a)), memoized until Forget is
// called for a (spec.md §4.4: "member cache: entries evicted on remove").
func (r *Registry) Member(a *atom.Atom) overlay.Key {
	ident := a.Identity()

	r.memberMu.Lock()
	if k, ok := r.memberCache[ident]; ok {
		r.memberMu.Unlock()
		return k
	}
	r.memberMu.Unlock()

	k := hash(r.space + r.codec.EncodeAtom(a))

	r.memberMu.Lock()
	r.memberCache[ident] = k
	r.memberMu.Unlock()
	return k
}

// Space returns hash(name), the key naming the membership multiset of the
// named AtomSpace. Memoized per name for the life of the Registry.
func (r *Registry) Space(name string) overlay.Key {
	r.spaceMu.Lock()
	if k, ok := r.spaceCache[name]; ok {
		r.spaceMu.Unlock()
		return k
	}
	r.spaceMu.Unlock()

	k := hash(name)

	r.spaceMu.Lock()
	r.spaceCache[name] = k
	r.spaceMu.Unlock()
	return k
}

// SpaceName returns the AtomSpace name this Registry derives MEMBER and
// SPACE keys for.
func (r *Registry) SpaceName() string { return r.space }

// Forget invalidates a's MEMBER cache entry only — the GUID cache entry
// survives because the atom's content, and therefore its GUID, never
// changes even after removal (spec.md §4.7 step 6).
func (r *Registry) Forget(a *atom.Atom) {
	r.memberMu.Lock()
	delete(r.memberCache, a.Identity())
	r.memberMu.Unlock()
}

// hash computes the 160-bit overlay key for s via SHA-1. A cryptographic
// hash isn't required here — only a uniform 160-bit digest is — but SHA-1
// is the overlay's own key width (20 bytes) and the standard library
// already provides a fixed-width digest of exactly that size, so no
// third-party hashing library earns its keep over crypto/sha1.
func hash(s string) overlay.Key {
	return overlay.Key(sha1.Sum([]byte(s)))
}
