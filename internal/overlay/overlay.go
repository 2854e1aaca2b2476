// Package overlay defines the Overlay interface spec.md §6 consumes (a
// Kademlia-style DHT: put/get/register_type/bootstrap/loop/shutdown) and
// ships memoverlay, an in-process implementation sufficient to exercise
// every invariant in spec.md §8 deterministically.
//
// A real networked Kademlia overlay (UDP routing table, peer discovery,
// NAT traversal) is out of scope per spec.md §1 — the underlying DHT node
// implementation is itself an external collaborator. memoverlay's job is
// only to honor the same contract a real one would: fire-and-forget Put,
// bounded-wait Get, per-kind conflict-resolution callbacks, record
// lifetimes, and a local rate limit.
package overlay

import (
	"context"
	"time"
)

// Key is a 160-bit overlay identifier, wide enough to hold a SHA-1
// digest — the GUID/MEMBER/SPACE keyspace from spec.md §3.
type Key [20]byte

// Kind identifies one of the four record kinds from spec.md §3/§6. The
// numeric values match the wire constants in spec.md §6.
type Kind uint16

const (
	KindAtom     Kind = 4097
	KindSpace    Kind = 4098
	KindValues   Kind = 4099
	KindIncoming Kind = 4100
)

func (k Kind) String() string {
	switch k {
	case KindAtom:
		return "ATOM"
	case KindSpace:
		return "SPACE"
	case KindValues:
		return "VALUES"
	case KindIncoming:
		return "INCOMING"
	default:
		return "UNKNOWN"
	}
}

// RecordID is the 64-bit disambiguator carried on every overlay record
// (spec.md GLOSSARY "Record-id").
type RecordID uint64

// Record is one value stored at an overlay key, tagged with its kind and
// record-id, and stamped with the overlay-assigned timestamp used for
// VALUES last-writer-wins resolution (spec.md §4.6).
type Record struct {
	Kind      Kind
	RecordID  RecordID
	Payload   []byte
	Timestamp time.Time
}

// StoreCallback runs on a replica before accepting a new record. Per
// spec.md §4.3 it always accepts; it exists for instrumentation.
type StoreCallback func(key Key, rec Record) bool

// EditCallback runs on a replica when a record with the same (key,
// record-id) already exists, deciding accept/reject per spec.md §4.3. It
// must be a pure function of the two payloads, safe to call from
// arbitrary overlay threads.
type EditCallback func(key Key, oldRec, newRec Record) bool

// TypePolicy is what RegisterType installs for one record kind.
type TypePolicy struct {
	Lifetime time.Duration
	Store    StoreCallback
	Edit     EditCallback
}

// Overlay is the DHT contract spec.md §6 consumes. Put is fire-and-forget
// (spec.md §5: "every put is fire-and-forget and returns immediately").
// Get returns a future and never blocks; the core bounds its wait on that
// future, so it never blocks unboundedly on the overlay (spec.md §5's
// "Suspension points").
type Overlay interface {
	// Run starts (or, for an already-bound local node, re-binds) the
	// overlay's network identity on port and begins serving Put/Get.
	Run(port int) error

	// Bootstrap connects this node to a known peer so that records
	// published by either become visible, eventually, to both.
	Bootstrap(ctx context.Context, host string, port int) error

	// Put publishes rec at key, fire-and-forget. done, if non-nil, is
	// invoked (on an arbitrary goroutine) once the write has been
	// accepted or rejected locally.
	Put(key Key, rec Record, done func(ok bool))

	// Get returns a future of every record currently stored at key
	// whose kind matches filter (nil means "all kinds"). The caller is
	// responsible for bounding how long it waits on the returned
	// channel; Get itself never blocks.
	Get(key Key, filter func(Kind) bool) <-chan []Record

	// RegisterType installs lifetime and callbacks for kind. Must be
	// called before any Put/Get of that kind.
	RegisterType(kind Kind, policy TypePolicy)

	// Loop drains one pass of the overlay's internal queues. barrier()
	// in the backing-store façade calls this twice.
	Loop()

	// Shutdown asynchronously tears the node down, invoking cb once
	// fully stopped.
	Shutdown(cb func())

	// Join blocks until a prior Shutdown has completed.
	Join()

	// IsRunning reports whether the node is currently serving requests.
	IsRunning() bool
}
