// Package removal is the Removal Engine (C7): recursive and
// non-recursive atom deletion as tombstone publication and incoming-set
// retraction, per spec.md §4.7.
//
// Step 2's incoming-set check is racy by design: the overlay gives no
// linearization point, so a concurrent store can add a parent between
// the check and the tombstone publish. This is documented, not fixed
// (spec.md §4.7, §9 Open Questions).
package removal

import (
	"github.com/sirupsen/logrus"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/fetch"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
)

// Engine implements remove(a, recursive).
type Engine struct {
	Overlay overlay.Overlay
	Keys    *key.Registry
	Codec   *codec.Adapter
	Caches  *localcache.Caches
	Facade  atom.GraphFacade
	Fetch   *fetch.Engine
	Log     logrus.FieldLogger

	// Barrier flushes pending writes before the incoming-set check
	// (spec.md §4.7 step 1). The façade supplies its two-Loop()-call
	// implementation; tests may supply a no-op.
	Barrier func()
}

// New returns an Engine wired to the given collaborators.
func New(o overlay.Overlay, keys *key.Registry, c *codec.Adapter, caches *localcache.Caches, facade atom.GraphFacade, fe *fetch.Engine, barrier func()) *Engine {
	return &Engine{Overlay: o, Keys: keys, Codec: c, Caches: caches, Facade: facade, Fetch: fe, Barrier: barrier, Log: logrus.StandardLogger()}
}

// Remove implements spec.md §4.7's six-step remove(a, recursive).
func (e *Engine) Remove(a *atom.Atom, recursive bool) error {
	if e.Barrier != nil {
		e.Barrier()
	}

	parents, err := e.Fetch.GetIncoming(a)
	if err != nil {
		return err
	}
	if len(parents) > 0 {
		if !recursive {
			e.Log.WithField("atom", e.Codec.EncodeAtom(a)).Debug("remove: non-recursive remove refused, incoming set non-empty")
			return nil // spec.md §4.7 step 2: no effect, no overlay write
		}
		for _, p := range parents {
			if err := e.Remove(p, true); err != nil {
				return err
			}
		}
	}

	if e.Facade.IsLink(a) {
		parentHash := overlay.RecordID(e.Facade.ContentHash64(a))
		for _, c := range e.Facade.Outgoing(a) {
			e.Overlay.Put(e.Keys.Member(c), overlay.Record{
				Kind:     overlay.KindIncoming,
				RecordID: parentHash,
				Payload:  make([]byte, 20), // zero sentinel, supersedes the forward edge
			}, nil)
		}
	}

	e.Overlay.Put(e.Keys.Space(e.Keys.SpaceName()), overlay.Record{
		Kind:     overlay.KindSpace,
		RecordID: overlay.RecordID(e.Facade.ContentHash64(a)),
		Payload:  []byte(e.Codec.EncodeDrop(a)),
	}, nil)

	e.deleteAtomValues(a)

	e.Caches.Forget(a)
	e.Keys.Forget(a)
	e.Log.WithField("atom", e.Codec.EncodeAtom(a)).Info("remove: published drop tombstone")
	return nil
}

// deleteAtomValues publishes an empty VALUES tombstone at MEMBER(a, S)
// (spec.md §4.7 step 5).
func (e *Engine) deleteAtomValues(a *atom.Atom) {
	e.Overlay.Put(e.Keys.Member(a), overlay.Record{
		Kind:     overlay.KindValues,
		RecordID: 1,
		Payload:  []byte(""),
	}, nil)
}
