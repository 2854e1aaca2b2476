// Package publish is the Publish Engine (C5): writes atoms, value maps,
// and incoming-set entries into the overlay, enforcing spec.md §4.5's
// ordering contract (leaves before parents, atom before value).
package publish

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
)

// DefaultWaitTime is the bounded wait the publish engine uses for the one
// read it needs — checking whether an existing value map must be
// tombstoned — mirroring the fetch engine's default (spec.md §4.6).
const DefaultWaitTime = 4 * time.Second

// Engine implements store/store_recursive/publish against a single
// AtomSpace.
type Engine struct {
	Overlay  overlay.Overlay
	Keys     *key.Registry
	Codec    *codec.Adapter
	Caches   *localcache.Caches
	Facade   atom.GraphFacade
	WaitTime time.Duration
	Log      logrus.FieldLogger
}

// New returns an Engine with DefaultWaitTime, logging through
// logrus.StandardLogger() unless the caller overrides Log.
func New(o overlay.Overlay, keys *key.Registry, c *codec.Adapter, caches *localcache.Caches, facade atom.GraphFacade) *Engine {
	return &Engine{Overlay: o, Keys: keys, Codec: c, Caches: caches, Facade: facade, WaitTime: DefaultWaitTime, Log: logrus.StandardLogger()}
}

// Store implements the façade's store_atom: attach values, then
// recursively store a and its outgoing set (spec.md §4.5).
func (e *Engine) Store(a *atom.Atom) error {
	if err := e.storeValues(a); err != nil {
		return err
	}
	return e.storeRecursive(a, make(map[string]bool))
}

// storeValues applies step 1-2 of spec.md §4.5's ordering contract: value
// keys and value-atoms first, then the value map itself (or a tombstone).
func (e *Engine) storeValues(a *atom.Atom) error {
	keys := e.Facade.Keys(a)
	for _, k := range keys {
		if err := e.storeRecursive(k, make(map[string]bool)); err != nil {
			return err
		}
	}

	memberKey := e.Keys.Member(a)
	if len(keys) > 0 {
		return e.putValues(memberKey, e.Codec.EncodeAtomValues(a))
	}

	existing := e.hasNonEmptyValues(memberKey)
	if existing {
		return e.putValues(memberKey, "")
	}
	return nil
}

func (e *Engine) putValues(memberKey overlay.Key, payload string) error {
	e.Overlay.Put(memberKey, overlay.Record{
		Kind:     overlay.KindValues,
		RecordID: 1,
		Payload:  []byte(payload),
	}, nil)
	return nil
}

// hasNonEmptyValues performs the one bounded read the publish engine
// needs: does the overlay already hold a non-empty VALUES record at
// memberKey? (spec.md §4.5 step 2's "otherwise skip" branch.)
func (e *Engine) hasNonEmptyValues(memberKey overlay.Key) bool {
	ch := e.Overlay.Get(memberKey, func(k overlay.Kind) bool { return k == overlay.KindValues })
	select {
	case recs := <-ch:
		for _, r := range recs {
			if len(r.Payload) > 0 {
				return true
			}
		}
		return false
	case <-time.After(e.WaitTime):
		return false
	}
}

// storeRecursive implements spec.md §4.5 step 3: nodes publish directly;
// links recurse on children leaves-first, publish themselves, then
// publish an INCOMING edge at each child. visited short-circuits repeat
// work within one store() call — the atom content is immutable, so once
// an atom (keyed by its identity string) has been visited in this
// recursion there is nothing further to discover beneath it.
func (e *Engine) storeRecursive(a *atom.Atom, visited map[string]bool) error {
	ident := a.Identity()
	if visited[ident] {
		return nil
	}
	visited[ident] = true

	if e.Facade.IsNode(a) {
		return e.publish(a)
	}

	for _, c := range e.Facade.Outgoing(a) {
		if err := e.storeRecursive(c, visited); err != nil {
			return err
		}
	}
	if err := e.publish(a); err != nil {
		return err
	}

	parentHash := a.ContentHash64()
	guid := e.Keys.GUID(a)
	for _, c := range e.Facade.Outgoing(a) {
		e.Overlay.Put(e.Keys.Member(c), overlay.Record{
			Kind:     overlay.KindIncoming,
			RecordID: overlay.RecordID(parentHash),
			Payload:  guid[:],
		}, nil)
	}
	return nil
}

// publish implements spec.md §4.5's publish(a): short-circuits through the
// published set, otherwise puts the ATOM and SPACE records and marks a
// published.
func (e *Engine) publish(a *atom.Atom) error {
	if e.Caches.IsPublished(a) {
		e.Log.WithField("atom", e.Codec.EncodeAtom(a)).Debug("publish: already published, skipping")
		return nil
	}

	e.Overlay.Put(e.Keys.GUID(a), overlay.Record{
		Kind:     overlay.KindAtom,
		RecordID: 1,
		Payload:  []byte(e.Codec.EncodeAtom(a)),
	}, nil)

	space := e.Keys.Space(e.spaceName())
	e.Overlay.Put(space, overlay.Record{
		Kind:     overlay.KindSpace,
		RecordID: overlay.RecordID(a.ContentHash64()),
		Payload:  []byte(e.Codec.EncodeAdd(a)),
	}, nil)

	e.Caches.MarkPublished(a)
	e.Log.WithFields(logrus.Fields{"atom": e.Codec.EncodeAtom(a), "space": e.spaceName()}).Debug("publish: wrote ATOM and SPACE records")
	return nil
}

// spaceName recovers the AtomSpace name the key Registry was built for, so
// that publish doesn't need its own separate copy of the name.
func (e *Engine) spaceName() string { return e.Keys.SpaceName() }
