// Package bulk is the Bulk Engine (C8): streams whole-AtomSpace save/load
// with periodic fencing against the overlay, per spec.md §4.8.
package bulk

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/atomerr"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/fetch"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/overlay"
	"github.com/dreamware/atomdht/internal/publish"
)

// barrierEvery is how many stores elapse between fencing Loop() calls
// during store_atomspace, so the overlay doesn't drop records under
// sustained put pressure (spec.md §4.8, §5 "Rate limiting").
const barrierEvery = 500

// DefaultWaitTime bounds the one overlay Get load_atomspace issues.
const DefaultWaitTime = 4 * time.Second

// Source is the enumeration surface load_atomspace/store_atomspace need
// beyond spec.md §6's GraphFacade — "iterate the caller's table twice,
// once yielding all nodes, then all links" (spec.md §4.8). atom.Space
// implements this directly.
type Source interface {
	Nodes() []*atom.Atom
	Links() []*atom.Atom
	AddAtom(a *atom.Atom) *atom.Atom
}

// Engine implements load_atomspace/store_atomspace.
type Engine struct {
	Overlay  overlay.Overlay
	Keys     *key.Registry
	Codec    *codec.Adapter
	Publish  *publish.Engine
	Fetch    *fetch.Engine
	Barrier  func()
	WaitTime time.Duration
	Log      logrus.FieldLogger
}

// New returns an Engine wired to the given collaborators.
func New(o overlay.Overlay, keys *key.Registry, c *codec.Adapter, pe *publish.Engine, fe *fetch.Engine, barrier func()) *Engine {
	return &Engine{Overlay: o, Keys: keys, Codec: c, Publish: pe, Fetch: fe, Barrier: barrier, WaitTime: DefaultWaitTime, Log: logrus.StandardLogger()}
}

// StoreAtomSpace iterates src's table twice — all nodes, then all links —
// calling Store on each, barriering every 500 stores (spec.md §4.8).
func (e *Engine) StoreAtomSpace(src Source) error {
	count := 0
	for _, a := range src.Nodes() {
		if err := e.Publish.Store(a); err != nil {
			return err
		}
		count++
		if count%barrierEvery == 0 && e.Barrier != nil {
			e.Log.WithField("count", count).Debug("store_atomspace: issuing periodic barrier")
			e.Barrier()
		}
	}
	for _, a := range src.Links() {
		if err := e.Publish.Store(a); err != nil {
			return err
		}
		count++
		if count%barrierEvery == 0 && e.Barrier != nil {
			e.Log.WithField("count", count).Debug("store_atomspace: issuing periodic barrier")
			e.Barrier()
		}
	}
	e.Log.WithField("count", count).Info("store_atomspace: complete")
	return nil
}

// LoadAtomSpace gets every record at SPACE(name), keeps the ones tagged
// "add ", decodes each s-expression, fetches its value map, and interns
// the result into dst (spec.md §4.8). Atoms whose most recent SPACE
// record is a "drop " tombstone are filtered client-side: spec.md §1
// excludes server-side type/membership queries from scope, so every
// filter here runs on the client after a full SPACE Get.
func (e *Engine) LoadAtomSpace(dst Source, name string) error {
	return e.loadFiltered(dst, name, "")
}

// LoadType is LoadAtomSpace restricted to atoms of type t, the client-side
// filter spec.md §4.9's Non-goals reserve for the caller ("querying by
// type across the whole overlay" stays out of scope; filtering the
// caller's own already-fetched load does not).
func (e *Engine) LoadType(dst Source, name, t string) error {
	return e.loadFiltered(dst, name, t)
}

func (e *Engine) loadFiltered(dst Source, name, wantType string) error {
	spaceKey := e.Keys.Space(name)
	ch := e.Overlay.Get(spaceKey, func(k overlay.Kind) bool { return k == overlay.KindSpace })

	var recs []overlay.Record
	select {
	case recs = <-ch:
	case <-time.After(e.waitTime()):
		return atomerr.NewOverlayUnavailable(name, e.waitTime())
	}

	// Collapse to one live entry per record-id: a later "drop" for the
	// same record-id retracts an earlier "add" (I3). Two distinct atoms
	// that collided on a record-id never both appear here: the SPACE edit
	// callback rejected the later one, so only the earlier atom's record
	// was stored. Records whose latest entry is a "drop" are skipped below.
	latestByRecordID := make(map[overlay.RecordID]overlay.Record)
	order := make([]overlay.RecordID, 0, len(recs))
	for _, r := range recs {
		if _, ok := latestByRecordID[r.RecordID]; !ok {
			order = append(order, r.RecordID)
		}
		latestByRecordID[r.RecordID] = r
	}
	slices.Sort(order)

	for _, rid := range order {
		r := latestByRecordID[rid]
		payload := string(r.Payload)
		op, offset, ok := codec.SpacePrefix(payload)
		if !ok || op != "add" {
			continue
		}
		a, _, err := e.Codec.DecodeAtom(payload, offset)
		if err != nil {
			return atomerr.NewDecodeError(payload, err)
		}
		if wantType != "" && a.Type() != wantType {
			continue
		}
		interned := dst.AddAtom(a)
		if err := e.Fetch.FetchValues(interned); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) waitTime() time.Duration {
	if e.WaitTime <= 0 {
		return DefaultWaitTime
	}
	return e.WaitTime
}
