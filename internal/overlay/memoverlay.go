package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/atomdht/internal/atomerr"
)

var (
	directoryMu sync.Mutex
	directory   = map[string]*Node{}
)

func addr(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }

// Config tunes a Node's local behavior, mirroring spec.md §9's
// "Builder/config discipline" for the options that are the overlay's to
// own (vs. the façade's wait_time/record_lifetime, which travel through
// RegisterType and the façade's own Get timeout).
type Config struct {
	// MaxReqPerSec bounds how many Put records this node will accept to
	// process per drain cycle; -1 means unlimited (spec.md §9 default
	// for a local, isolated node).
	MaxReqPerSec int
	// MaxPeerReqPerSec is the per-peer limit setting. Records replicated
	// from bootstrapped peers are not counted: replicate admits them all
	// unless the limit is exactly 0, and NewNode turns 0 into -1
	// (unlimited).
	MaxPeerReqPerSec int
	// DrainInterval is how often the background goroutine auto-drains
	// the put queue, simulating the DHT's own eventual propagation
	// without requiring an explicit barrier(). Zero disables
	// auto-draining — only explicit Loop() calls propagate writes,
	// which is how tests get deterministic behavior.
	DrainInterval time.Duration
	// SweepInterval is how often the background sweeper goroutine scans
	// for records that have outlived their kind's registered Lifetime
	// (spec.md §4.3's "default: one week", threaded from
	// config.Config.RecordLifetime via policy.RegisterAll). Zero
	// disables the background goroutine entirely, the same convention
	// DrainInterval uses — Sweep can still be called directly, which is
	// how tests fast-forward expiry through an injected Clock without
	// waiting on a real ticker. storage.Open sets this explicitly to
	// DefaultSweepInterval; callers building a Node directly (including
	// tests) get no sweeping unless they ask for it.
	SweepInterval time.Duration
	// Clock overrides time.Now, mainly for tests: both record
	// timestamping (Put) and lifetime-expiry comparison (Sweep) read
	// the same clock, so fast-forwarding it in a test makes records
	// both "written in the past" and "now expired" consistently.
	Clock func() time.Time
}

// DefaultSweepInterval is the sweeper cadence storage.Open requests for a
// production façade. A Node built directly with a zero Config.SweepInterval
// (the zero value, and every test in this package) runs no sweeper goroutine
// at all.
const DefaultSweepInterval = time.Minute

// queuedPut is one pending write, buffered until a drain (background
// ticker or explicit Loop()) applies it.
type queuedPut struct {
	key  Key
	rec  Record
	done func(ok bool)
}

// Node is an in-process Overlay implementation: a key -> []Record
// multimap with per-kind store/edit callbacks, a fire-and-forget put
// queue, and a rate limiter. It is the default, local-only backing for a
// "dht:///<name>" URI; bootstrapping against another Node simulates
// joining a swarm without a real network transport (spec.md §1 keeps the
// DHT node implementation itself out of scope).
type Node struct {
	mu       sync.Mutex
	addr     string
	cfg      Config
	records  map[Key][]Record
	policies map[Kind]TypePolicy
	queue    []queuedPut
	peers    []*Node
	running  bool
	seq      uint64
	stopCh   chan struct{}
	wg       sync.WaitGroup
	dropped  uint64
}

// NewNode creates an unstarted overlay node.
func NewNode(cfg Config) *Node {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxReqPerSec == 0 {
		cfg.MaxReqPerSec = -1
	}
	if cfg.MaxPeerReqPerSec == 0 {
		cfg.MaxPeerReqPerSec = -1
	}
	return &Node{
		cfg:      cfg,
		records:  make(map[Key][]Record),
		policies: make(map[Kind]TypePolicy),
	}
}

// Run binds the node's identity to host:port (recorded in the package
// directory so Bootstrap can find it) and starts the background drain
// goroutine, if configured.
func (n *Node) Run(port int) error {
	return n.run("", port)
}

// maxPortRetries is how many successive ports Run tries before giving up
// with PortInUse (spec.md §7, §9 "retry up to +10 on PortInUse").
const maxPortRetries = 10

func (n *Node) run(host string, port int) error {
	firstPort := port
	bound := ""
	for attempt := 0; attempt < maxPortRetries; attempt++ {
		candidate := addr(host, port+attempt)
		directoryMu.Lock()
		if _, taken := directory[candidate]; !taken {
			directory[candidate] = n
			directoryMu.Unlock()
			bound = candidate
			break
		}
		directoryMu.Unlock()
	}
	if bound == "" {
		return atomerr.NewPortInUse(firstPort)
	}

	n.mu.Lock()
	n.addr = bound
	n.running = true
	n.stopCh = make(chan struct{})
	n.mu.Unlock()

	if n.cfg.DrainInterval > 0 {
		n.wg.Add(1)
		go n.autoDrain()
	}
	if n.cfg.SweepInterval > 0 {
		n.wg.Add(1)
		go n.autoSweep()
	}
	return nil
}

func (n *Node) autoDrain() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Loop()
		case <-n.stopCh:
			return
		}
	}
}

// autoSweep is the background sweeper goroutine SPEC_FULL.md §4 promises:
// it periodically evicts records that have outlived their kind's
// registered Lifetime, the bounded record lifetimes spec.md §3/§4.3
// impose on every overlay record. Grounded on the teacher's
// internal/coordinator.HealthMonitor — a ticker-driven goroutine
// mutating a mutex-guarded map on a fixed interval, stoppable via a
// done channel.
func (n *Node) autoSweep() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Sweep()
		case <-n.stopCh:
			return
		}
	}
}

// Sweep evicts every record whose kind has a registered Lifetime and
// whose age (per Config.Clock, which tests fast-forward to exercise
// expiry deterministically) meets or exceeds it. Returns the number of
// records evicted. Safe to call directly — the background goroutine is
// only one caller of it.
func (n *Node) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.cfg.Clock()
	evicted := 0
	for key, recs := range n.records {
		kept := recs[:0]
		for _, r := range recs {
			policy, known := n.policies[r.Kind]
			if known && policy.Lifetime > 0 && now.Sub(r.Timestamp) >= policy.Lifetime {
				evicted++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(n.records, key)
		} else {
			n.records[key] = kept
		}
	}
	return evicted
}

// Bootstrap connects to a peer already registered in the directory under
// host:port. Both nodes begin forwarding drained writes to each other.
func (n *Node) Bootstrap(ctx context.Context, host string, port int) error {
	peerAddr := addr(host, port)
	directoryMu.Lock()
	peer, ok := directory[peerAddr]
	directoryMu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: no node listening at %s", peerAddr)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n.mu.Lock()
	n.peers = append(n.peers, peer)
	n.mu.Unlock()

	peer.mu.Lock()
	peer.peers = append(peer.peers, n)
	// Seed the new member with everything the peer already holds, the
	// in-process stand-in for a real DHT's replication-on-join.
	seed := make(map[Key][]Record, len(peer.records))
	for k, recs := range peer.records {
		cp := make([]Record, len(recs))
		copy(cp, recs)
		seed[k] = cp
	}
	peer.mu.Unlock()

	n.mu.Lock()
	for k, recs := range seed {
		n.records[k] = append(n.records[k], recs...)
	}
	n.mu.Unlock()
	return nil
}

// RegisterType installs kind's lifetime and callbacks.
func (n *Node) RegisterType(kind Kind, policy TypePolicy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.policies[kind] = policy
}

// Put enqueues rec at key for the next drain. Fire-and-forget: it never
// blocks on network or disk, matching spec.md §5.
func (n *Node) Put(key Key, rec Record, done func(ok bool)) {
	n.mu.Lock()
	n.seq++
	rec.Timestamp = n.cfg.Clock().Add(time.Duration(n.seq) * time.Nanosecond)
	n.queue = append(n.queue, queuedPut{key: key, rec: rec, done: done})
	n.mu.Unlock()
}

// Get returns a future of the records at key matching filter. The
// returned channel receives exactly once.
func (n *Node) Get(key Key, filter func(Kind) bool) <-chan []Record {
	ch := make(chan []Record, 1)
	n.mu.Lock()
	recs := n.records[key]
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if filter == nil || filter(r.Kind) {
			out = append(out, r)
		}
	}
	n.mu.Unlock()
	ch <- out
	return ch
}

// Loop drains every currently-queued Put, applying each kind's store and
// edit callbacks, then propagates the result to bootstrapped peers. This
// is what barrier() in the backing-store façade calls twice.
func (n *Node) Loop() {
	n.mu.Lock()
	batch := n.queue
	n.queue = nil
	peers := append([]*Node(nil), n.peers...)
	limit := n.cfg.MaxReqPerSec
	n.mu.Unlock()

	applied := 0
	for _, job := range batch {
		if limit >= 0 && applied >= limit {
			atomicIncDropped(n)
			if job.done != nil {
				job.done(false)
			}
			continue
		}
		ok := n.apply(job.key, job.rec)
		applied++
		if job.done != nil {
			job.done(ok)
		}
		if ok {
			for _, p := range peers {
				p.replicate(job.key, job.rec)
			}
		}
	}
}

func atomicIncDropped(n *Node) {
	n.mu.Lock()
	n.dropped++
	n.mu.Unlock()
}

// replicate applies an incoming record from a bootstrapped peer. A peer
// rate limit of exactly 0 means "accept nothing from peers"; anything
// else (including -1, unlimited) admits the record to apply's own
// per-kind conflict policy.
func (n *Node) replicate(key Key, rec Record) {
	n.mu.Lock()
	limit := n.cfg.MaxPeerReqPerSec
	n.mu.Unlock()
	if limit == 0 {
		return
	}
	n.apply(key, rec)
}

// apply runs the registered store/edit callbacks for rec's kind and
// inserts, replaces, or rejects it at key. Returns whether the record is
// now live at key.
func (n *Node) apply(key Key, rec Record) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	policy, known := n.policies[rec.Kind]
	if known && policy.Store != nil && !policy.Store(key, rec) {
		return false
	}

	existing := n.records[key]
	for i, old := range existing {
		if old.Kind != rec.Kind || old.RecordID != rec.RecordID {
			continue
		}
		accept := true
		if known && policy.Edit != nil {
			accept = policy.Edit(key, old, rec)
		}
		if accept {
			existing[i] = rec
		}
		return accept
	}
	n.records[key] = append(existing, rec)
	return true
}

// Shutdown asynchronously stops the drain goroutine and unregisters the
// node from the directory, then invokes cb.
func (n *Node) Shutdown(cb func()) {
	go func() {
		n.mu.Lock()
		running := n.running
		stopCh := n.stopCh
		a := n.addr
		n.running = false
		n.mu.Unlock()

		if running {
			close(stopCh)
			n.wg.Wait()
			directoryMu.Lock()
			delete(directory, a)
			directoryMu.Unlock()
		}
		if cb != nil {
			cb()
		}
	}()
}

// Join blocks until the drain goroutine (if any) has stopped.
func (n *Node) Join() {
	n.wg.Wait()
}

// IsRunning reports whether the node is currently serving.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Dropped returns the number of queued puts discarded by the local rate
// limiter since the node started — the observable side effect of
// spec.md §5's "this causes silent drops".
func (n *Node) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// ResetDirectory clears the package directory; exported only for tests that need
// isolation between overlay instances sharing the process.
func ResetDirectory() {
	directoryMu.Lock()
	defer directoryMu.Unlock()
	directory = map[string]*Node{}
}
