// Package storage is the Backing Store Façade (C9) spec.md §4.9
// describes: the contract a Graph Façade layer calls into, tying
// together key derivation (C1), the codec adapter (C2), the policy
// registry (C3), the local caches (C4), and the publish/fetch/removal/
// bulk engines (C5-C8) behind a single lifecycle.
//
// A Store is opened against a "dht://[host][:port]/<space-name>" URI
// (spec.md §6). An empty or single-character space name puts the Store
// into observing mode: reads are served normally, but every write
// operation fails with ObservingOnly.
//
// Store methods are synchronous from the caller's point of view even
// though the underlying overlay's Put is fire-and-forget and Get returns
// a future — spec.md §9 "Coroutine control flow" is explicit that façade
// methods must not themselves be modeled as asynchronous.
package storage
