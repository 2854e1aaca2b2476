// Package policy declares the four overlay record kinds — ATOM, SPACE,
// VALUES, INCOMING — and their per-kind store/edit conflict-resolution
// callbacks (spec.md §4.3). Callbacks run on arbitrary overlay threads, so
// they must be pure functions of their payloads and thread-safe; the only
// shared mutable state they touch is the atomic statistics table below.
package policy

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/atomdht/internal/overlay"
)

// DefaultLifetime is the per-kind overlay expiry spec.md §9's builder
// discipline defaults to: one week.
const DefaultLifetime = 7 * 24 * time.Hour

// Stats holds atomic per-kind counters. Updated on arbitrary overlay
// threads (lock-free, mirroring the teacher's shard statistics), read by
// the façade's print_stats/clear_stats.
type Stats struct {
	Stores  uint64
	Accepts uint64
	Rejects uint64
}

// Table holds one façade instance's counters, keyed by record kind. The
// process-wide registry of these tables is instances below (spec.md §9
// "Global state").
type Table struct {
	atom     Stats
	space    Stats
	values   Stats
	incoming Stats
}

func (t *Table) forKind(k overlay.Kind) *Stats {
	switch k {
	case overlay.KindAtom:
		return &t.atom
	case overlay.KindSpace:
		return &t.space
	case overlay.KindValues:
		return &t.values
	case overlay.KindIncoming:
		return &t.incoming
	default:
		return &Stats{} // unreachable for registered kinds; avoids a nil deref
	}
}

func (t *Table) recordStore(k overlay.Kind) {
	atomic.AddUint64(&t.forKind(k).Stores, 1)
}

func (t *Table) recordEdit(k overlay.Kind, accepted bool) {
	s := t.forKind(k)
	if accepted {
		atomic.AddUint64(&s.Accepts, 1)
	} else {
		atomic.AddUint64(&s.Rejects, 1)
	}
}

// Snapshot returns a point-in-time copy of kind's counters.
func (t *Table) Snapshot(k overlay.Kind) Stats {
	s := t.forKind(k)
	return Stats{
		Stores:  atomic.LoadUint64(&s.Stores),
		Accepts: atomic.LoadUint64(&s.Accepts),
		Rejects: atomic.LoadUint64(&s.Rejects),
	}
}

// Clear zeroes every kind's counters.
func (t *Table) Clear() {
	for _, s := range []*Stats{&t.atom, &t.space, &t.values, &t.incoming} {
		atomic.StoreUint64(&s.Stores, 0)
		atomic.StoreUint64(&s.Accepts, 0)
		atomic.StoreUint64(&s.Rejects, 0)
	}
}

// NewTable returns an empty statistics table.
func NewTable() *Table { return &Table{} }

// instances is the process-wide statistics table keyed by (instance-id,
// kind) spec.md §9's "Global state" calls for: policy callbacks run on
// overlay threads with no access to the façade instance that issued the
// original put, so a façade can only find its own counters back through
// an id it was handed at construction time. github.com/google/uuid gives
// each façade instance that id.
var (
	instancesMu sync.Mutex
	instances   = map[string]*Table{}
)

// NewInstance allocates a fresh statistics table under a new random
// instance id and registers it in the process-wide table, returning both
// so the façade can hand the table to RegisterAll's callbacks and later
// recover the same table by id through Lookup.
func NewInstance() (id string, table *Table) {
	id = uuid.NewString()
	table = NewTable()
	instancesMu.Lock()
	instances[id] = table
	instancesMu.Unlock()
	return id, table
}

// Lookup returns the statistics table registered under id, or nil if none.
func Lookup(id string) *Table {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	return instances[id]
}

// Forget removes id's statistics table, called when a façade instance
// closes.
func Forget(id string) {
	instancesMu.Lock()
	delete(instances, id)
	instancesMu.Unlock()
}

// RegisterAll installs all four kinds' lifetimes and callbacks on o, ticking
// stats into table as each callback runs. lifetime is the per-kind overlay
// expiry spec.md §9's builder discipline makes configurable
// (config.Config.RecordLifetime); a non-positive lifetime falls back to
// DefaultLifetime rather than disabling expiry, since spec.md §4.3
// declares every kind's lifetime "default: one week", not "indefinite".
func RegisterAll(o overlay.Overlay, table *Table, lifetime time.Duration) {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	o.RegisterType(overlay.KindAtom, overlay.TypePolicy{
		Lifetime: lifetime,
		Store: func(overlay.Key, overlay.Record) bool {
			table.recordStore(overlay.KindAtom)
			return true
		},
		Edit: func(_ overlay.Key, _, _ overlay.Record) bool {
			// I2: an ATOM record is immutable in content, so any update at
			// the same key is guaranteed (by the publisher) to carry the
			// same serialization. Always accept.
			table.recordEdit(overlay.KindAtom, true)
			return true
		},
	})

	o.RegisterType(overlay.KindSpace, overlay.TypePolicy{
		Lifetime: lifetime,
		Store: func(overlay.Key, overlay.Record) bool {
			table.recordStore(overlay.KindSpace)
			return true
		},
		Edit: func(_ overlay.Key, old, next overlay.Record) bool {
			accept := spaceSexprsEqual(string(old.Payload), string(next.Payload))
			table.recordEdit(overlay.KindSpace, accept)
			return accept
		},
	})

	o.RegisterType(overlay.KindValues, overlay.TypePolicy{
		Lifetime: lifetime,
		Store: func(overlay.Key, overlay.Record) bool {
			table.recordStore(overlay.KindValues)
			return true
		},
		Edit: func(overlay.Key, overlay.Record, overlay.Record) bool {
			// Last writer wins; fetch_values resolves among coexisting
			// records by timestamp, so the edit callback always accepts.
			table.recordEdit(overlay.KindValues, true)
			return true
		},
	})

	o.RegisterType(overlay.KindIncoming, overlay.TypePolicy{
		Lifetime: lifetime,
		Store: func(overlay.Key, overlay.Record) bool {
			table.recordStore(overlay.KindIncoming)
			return true
		},
		Edit: func(overlay.Key, overlay.Record, overlay.Record) bool {
			// Both admissible payloads (a parent GUID or the zero
			// sentinel) are valid transitions; always accept.
			table.recordEdit(overlay.KindIncoming, true)
			return true
		},
	})
}

// spaceSexprsEqual implements the SPACE.edit rule from spec.md §4.3: if
// next begins with "add " or "drop ", compare the s-expression portion of
// old and next, accepting only when equal. Any other shape is rejected:
// two different atoms collided on a 64-bit record-id, and the rejection
// keeps the newer one from replacing the older atom's record (the overlay
// keeps the older record and does not store the newer one).
func spaceSexprsEqual(old, next string) bool {
	nextSexpr, ok := sexprPortion(next)
	if !ok {
		return false
	}
	oldSexpr, ok := sexprPortion(old)
	if !ok {
		return false
	}
	return oldSexpr == nextSexpr
}

// sexprPortion strips the "add <t> " or "drop <t> " prefix from a SPACE
// payload, returning the trailing s-expression.
func sexprPortion(payload string) (string, bool) {
	for _, tag := range [...]string{"add ", "drop "} {
		if !strings.HasPrefix(payload, tag) {
			continue
		}
		rest := payload[len(tag):]
		idx := strings.IndexByte(rest, ' ')
		if idx < 0 {
			return "", false
		}
		return rest[idx+1:], true
	}
	return "", false
}
