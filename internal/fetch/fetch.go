// Package fetch is the Fetch Engine (C6): reads atoms, value maps, and
// incoming sets from the overlay, decoding and resolving references per
// spec.md §4.6.
package fetch

import (
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/atomerr"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
)

// DefaultWaitTime is the bounded wait every overlay Get uses before
// raising OverlayUnavailable (spec.md §4.6 "Bounded wait").
const DefaultWaitTime = 4 * time.Second

// zeroKey is the sentinel INCOMING payload marking a retracted edge
// (spec.md §3 "INCOMING... or a sentinel zero hash (tombstone)").
var zeroKey overlay.Key

// Engine implements fetch_atom_by_guid/fetch_values/get_incoming/
// get_incoming_by_type against a single AtomSpace.
type Engine struct {
	Overlay  overlay.Overlay
	Keys     *key.Registry
	Codec    *codec.Adapter
	Caches   *localcache.Caches
	Facade   atom.GraphFacade
	WaitTime time.Duration
	Log      logrus.FieldLogger
}

// New returns an Engine with DefaultWaitTime.
func New(o overlay.Overlay, keys *key.Registry, c *codec.Adapter, caches *localcache.Caches, facade atom.GraphFacade) *Engine {
	return &Engine{Overlay: o, Keys: keys, Codec: c, Caches: caches, Facade: facade, WaitTime: DefaultWaitTime, Log: logrus.StandardLogger()}
}

// get performs one bounded-wait overlay Get, translating window expiry
// into OverlayUnavailable (spec.md §4.6, §5 "Suspension points").
func (e *Engine) get(k overlay.Key, filter func(overlay.Kind) bool) ([]overlay.Record, error) {
	ch := e.Overlay.Get(k, filter)
	select {
	case recs := <-ch:
		return recs, nil
	case <-time.After(e.waitTime()):
		if e.Log != nil {
			e.Log.WithField("key", hex.EncodeToString(k[:])).Warn("fetch: overlay get exceeded wait window")
		}
		return nil, atomerr.NewOverlayUnavailable(hex.EncodeToString(k[:]), e.waitTime())
	}
}

func (e *Engine) waitTime() time.Duration {
	if e.WaitTime <= 0 {
		return DefaultWaitTime
	}
	return e.WaitTime
}

// FetchAtomByGUID resolves the immutable atom stored at g, consulting the
// decode cache first. All ATOM records at a key are byte-equal by I2, so
// any one record's payload suffices.
func (e *Engine) FetchAtomByGUID(g overlay.Key) (*atom.Atom, error) {
	if a, ok := e.Caches.DecodeGet(g); ok {
		return a, nil
	}

	recs, err := e.get(g, func(k overlay.Kind) bool { return k == overlay.KindAtom })
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, atomerr.NewNotFound(hex.EncodeToString(g[:]))
	}

	payload := string(recs[0].Payload)
	a, _, err := e.Codec.DecodeAtom(payload, 0)
	if err != nil {
		return nil, atomerr.NewDecodeError(payload, err)
	}

	e.Caches.DecodePut(g, a)
	return a, nil
}

// FetchAtom resolves GUID(a) and returns the canonical stored copy.
func (e *Engine) FetchAtom(a *atom.Atom) (*atom.Atom, error) {
	return e.FetchAtomByGUID(e.Keys.GUID(a))
}

// FetchValues installs a's value map from the MEMBER(a, S) VALUES record
// with the greatest overlay-assigned timestamp (spec.md §4.6, T7).
func (e *Engine) FetchValues(a *atom.Atom) error {
	memberKey := e.Keys.Member(a)
	recs, err := e.get(memberKey, func(k overlay.Kind) bool { return k == overlay.KindValues })
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	latest := recs[0]
	for _, r := range recs[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}

	a.ClearValues()
	payload := string(latest.Payload)
	if payload == "" {
		return nil // tombstone: value map intentionally empty
	}
	if err := e.Codec.DecodeAlist(a, payload); err != nil {
		return atomerr.NewDecodeError(payload, err)
	}
	return nil
}

// GetIncoming returns every live parent of a: atoms whose INCOMING record
// at MEMBER(a, S) is not the zero sentinel (spec.md §4.6, T5).
func (e *Engine) GetIncoming(a *atom.Atom) ([]*atom.Atom, error) {
	return e.getIncomingFiltered(a, "")
}

// GetIncomingByType is GetIncoming restricted to parents of type t.
func (e *Engine) GetIncomingByType(a *atom.Atom, t string) ([]*atom.Atom, error) {
	return e.getIncomingFiltered(a, t)
}

func (e *Engine) getIncomingFiltered(a *atom.Atom, wantType string) ([]*atom.Atom, error) {
	memberKey := e.Keys.Member(a)
	recs, err := e.get(memberKey, func(k overlay.Kind) bool { return k == overlay.KindIncoming })
	if err != nil {
		return nil, err
	}

	var out []*atom.Atom
	seen := make(map[string]bool)
	for _, r := range recs {
		var g overlay.Key
		copy(g[:], r.Payload)
		if g == zeroKey {
			continue
		}
		parent, err := e.FetchAtomByGUID(g)
		if err != nil {
			if atomerr.HasCode(err, atomerr.CodeNotFound) {
				continue // parent record expired or never propagated
			}
			return nil, err
		}
		if wantType != "" && e.Facade.Type(parent) != wantType {
			continue
		}
		if seen[parent.Identity()] {
			continue
		}
		seen[parent.Identity()] = true
		if err := e.FetchValues(parent); err != nil {
			return nil, err
		}
		out = append(out, parent)
	}
	return out, nil
}
