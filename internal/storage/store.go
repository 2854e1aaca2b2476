package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/atomerr"
	"github.com/dreamware/atomdht/internal/bulk"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/config"
	"github.com/dreamware/atomdht/internal/fetch"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
	"github.com/dreamware/atomdht/internal/policy"
	"github.com/dreamware/atomdht/internal/publish"
	"github.com/dreamware/atomdht/internal/removal"
)

// DefaultPort is the Kademlia overlay's conventional port, used when a
// URI omits one (spec.md §6).
const DefaultPort = 4343

// ParsedURI is a decomposed "dht://[host][:port]/<space-name>" string.
type ParsedURI struct {
	Host      string
	Port      int
	SpaceName string
	Observing bool
}

// ParseURI validates and decomposes uri per spec.md §6's grammar. A space
// name of length 0 or 1 signals observing mode.
func ParseURI(uri string) (ParsedURI, error) {
	const scheme = "dht://"
	if !strings.HasPrefix(uri, scheme) {
		return ParsedURI{}, atomerr.NewBadURI(uri, "missing dht:// scheme")
	}
	rest := uri[len(scheme):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return ParsedURI{}, atomerr.NewBadURI(uri, "missing /<space-name>")
	}
	hostport := rest[:idx]
	space := rest[idx+1:]

	host := hostport
	port := DefaultPort
	if hostport != "" {
		if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
			host = hostport[:i]
			p, err := strconv.Atoi(hostport[i+1:])
			if err != nil || p < 0 || p > 65535 {
				return ParsedURI{}, atomerr.NewBadURI(uri, "invalid port")
			}
			port = p
		}
	}

	return ParsedURI{Host: host, Port: port, SpaceName: space, Observing: len(space) <= 1}, nil
}

// opCounters tracks the per-operation detail spec.md §9's "print_stats"
// supplements beyond the four per-kind policy counters — atoms/values/
// incoming edges stored and fetched, and removes, mirroring the
// original's Stats struct (SPEC_FULL.md §5).
type opCounters struct {
	storeAtom     uint64
	fetchAtom     uint64
	storeValue    uint64
	fetchValue    uint64
	storeIncoming uint64
	fetchIncoming uint64
	remove        uint64
}

// Store is the Backing Store Façade (C9).
type Store struct {
	mu sync.Mutex

	uri       string
	parsed    ParsedURI
	connected bool

	cfg config.Config
	log logrus.FieldLogger

	overlay     overlay.Overlay
	keys        *key.Registry
	codec       *codec.Adapter
	caches      *localcache.Caches
	facade      atom.GraphFacade
	instanceID  string
	policyTable *policy.Table
	ops         opCounters

	publishEngine *publish.Engine
	fetchEngine   *fetch.Engine
	removalEngine *removal.Engine
	bulkEngine    *bulk.Engine
}

// Option configures Open.
type Option func(*options)

type options struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	overlay overlay.Overlay
}

// WithConfig overrides the façade's tunables (default: config.Default()).
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithLogger overrides the façade's logger (default:
// logrus.StandardLogger()).
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithOverlay injects a pre-built Overlay, mainly so tests and
// Bootstrap-by-directory scenarios can share an existing memoverlay.Node
// instead of Open constructing a fresh one.
func WithOverlay(o overlay.Overlay) Option {
	return func(opt *options) { opt.overlay = o }
}

// Open parses uri, binds (or adopts) an overlay node, registers the four
// record-kind policies, and constructs the C5-C8 engines. facade and ser
// are the Graph Façade and Serializer external collaborators spec.md §6
// treats as out of scope; this repo's atom.Space/sexpr.Codec are the
// concrete defaults.
func Open(uri string, facade atom.GraphFacade, ser codec.Serializer, opts ...Option) (*Store, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	o := options{cfg: nil, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := config.Default()
	if o.cfg != nil {
		cfg = *o.cfg
	}

	ov := o.overlay
	if ov == nil {
		node := overlay.NewNode(overlay.Config{
			MaxReqPerSec:     cfg.MaxReqPerSec,
			MaxPeerReqPerSec: cfg.MaxPeerReqPerSec,
			SweepInterval:    overlay.DefaultSweepInterval,
		})
		if err := node.Run(parsed.Port); err != nil {
			return nil, err
		}
		ov = node
	}

	instanceID, table := policy.NewInstance()
	policy.RegisterAll(ov, table, cfg.RecordLifetime)

	c := codec.New(ser)
	keys := key.NewRegistry(c, parsed.SpaceName)
	caches := localcache.New()

	st := &Store{
		uri:         uri,
		parsed:      parsed,
		connected:   true,
		cfg:         cfg,
		log:         o.log,
		overlay:     ov,
		keys:        keys,
		codec:       c,
		caches:      caches,
		facade:      facade,
		instanceID:  instanceID,
		policyTable: table,
	}

	pe := publish.New(ov, keys, c, caches, facade)
	pe.WaitTime = cfg.WaitTime
	pe.Log = st.log
	fe := fetch.New(ov, keys, c, caches, facade)
	fe.WaitTime = cfg.WaitTime
	fe.Log = st.log
	re := removal.New(ov, keys, c, caches, facade, fe, st.Barrier)
	re.Log = st.log
	be := bulk.New(ov, keys, c, pe, fe, st.Barrier)
	be.WaitTime = cfg.WaitTime
	be.Log = st.log

	st.publishEngine = pe
	st.fetchEngine = fe
	st.removalEngine = re
	st.bulkEngine = be

	st.log.WithFields(logrus.Fields{"uri": uri, "observing": parsed.Observing}).Info("storage: opened")
	return st, nil
}

// Close drains both overlay queues, shuts the overlay node down, and
// releases this instance's statistics table (spec.md §5 "Shutdown").
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	s.Barrier()

	done := make(chan struct{})
	s.overlay.Shutdown(func() { close(done) })
	<-done
	s.overlay.Join()

	policy.Forget(s.instanceID)
	s.log.WithField("uri", s.uri).Info("storage: closed")
	return nil
}

// Bootstrap connects this façade's overlay node to a known peer
// (spec.md §4.9).
func (s *Store) Bootstrap(peerURI string) error {
	if !s.requireConnected("bootstrap") {
		return atomerr.NewNotConnected("bootstrap")
	}
	parsed, err := ParseURI(peerURI)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.waitTime())
	defer cancel()
	if err := s.overlay.Bootstrap(ctx, parsed.Host, parsed.Port); err != nil {
		return err
	}
	s.log.WithField("peer", peerURI).Info("storage: bootstrapped")
	return nil
}

// StoreAtom implements store_atom(a) (spec.md §4.9).
func (s *Store) StoreAtom(a *atom.Atom) error {
	if err := s.requireWritable("store_atom"); err != nil {
		return err
	}
	if err := s.publishEngine.Store(a); err != nil {
		return err
	}
	atomic.AddUint64(&s.ops.storeAtom, 1)
	if len(s.facade.Keys(a)) > 0 {
		atomic.AddUint64(&s.ops.storeValue, 1)
	}
	if a.IsLink() {
		atomic.AddUint64(&s.ops.storeIncoming, uint64(len(s.facade.Outgoing(a))))
	}
	return nil
}

// FetchAtom implements fetch_atom(a): resolve GUID(a) and install its
// current value map.
func (s *Store) FetchAtom(a *atom.Atom) (*atom.Atom, error) {
	if !s.requireConnected("fetch_atom") {
		return nil, atomerr.NewNotConnected("fetch_atom")
	}
	resolved, err := s.fetchEngine.FetchAtom(a)
	if err != nil {
		return nil, err
	}
	if err := s.fetchEngine.FetchValues(resolved); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.ops.fetchAtom, 1)
	if len(s.facade.Keys(resolved)) > 0 {
		atomic.AddUint64(&s.ops.fetchValue, 1)
	}
	return resolved, nil
}

// FetchNode implements fetch_node(t, name).
func (s *Store) FetchNode(t, name string) (*atom.Atom, error) {
	return s.FetchAtom(atom.NewNode(t, name))
}

// FetchLink implements fetch_link(t, outgoing).
func (s *Store) FetchLink(t string, outgoing []*atom.Atom) (*atom.Atom, error) {
	return s.FetchAtom(atom.NewLink(t, outgoing))
}

// GetIncomingSet implements get_incoming_set(a).
func (s *Store) GetIncomingSet(a *atom.Atom) ([]*atom.Atom, error) {
	if !s.requireConnected("get_incoming_set") {
		return nil, atomerr.NewNotConnected("get_incoming_set")
	}
	out, err := s.fetchEngine.GetIncoming(a)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.ops.fetchIncoming, uint64(len(out)))
	return out, nil
}

// GetIncomingByType implements get_incoming_by_type(a, t).
func (s *Store) GetIncomingByType(a *atom.Atom, t string) ([]*atom.Atom, error) {
	if !s.requireConnected("get_incoming_by_type") {
		return nil, atomerr.NewNotConnected("get_incoming_by_type")
	}
	out, err := s.fetchEngine.GetIncomingByType(a, t)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.ops.fetchIncoming, uint64(len(out)))
	return out, nil
}

// Remove implements remove(a, recursive).
func (s *Store) Remove(a *atom.Atom, recursive bool) error {
	if err := s.requireWritable("remove"); err != nil {
		return err
	}
	if err := s.removalEngine.Remove(a, recursive); err != nil {
		return err
	}
	atomic.AddUint64(&s.ops.remove, 1)
	return nil
}

// LoadAtomSpace implements load_atomspace(as, name): dst receives every
// atom currently live under name.
func (s *Store) LoadAtomSpace(dst bulk.Source, name string) error {
	if !s.requireConnected("load_atomspace") {
		return atomerr.NewNotConnected("load_atomspace")
	}
	return s.bulkEngine.LoadAtomSpace(dst, name)
}

// LoadType implements load_type(as, t): as LoadAtomSpace, filtered to
// atoms of type t.
func (s *Store) LoadType(dst bulk.Source, name, t string) error {
	if !s.requireConnected("load_type") {
		return atomerr.NewNotConnected("load_type")
	}
	return s.bulkEngine.LoadType(dst, name, t)
}

// StoreAtomSpace implements store_atomspace(as): every node then every
// link in src is stored.
func (s *Store) StoreAtomSpace(src bulk.Source) error {
	if err := s.requireWritable("store_atomspace"); err != nil {
		return err
	}
	return s.bulkEngine.StoreAtomSpace(src)
}

// Barrier invokes the overlay's internal queue pump twice, per spec.md
// §4.9/§5 — a local fencing operation, not a cluster-wide sync point.
func (s *Store) Barrier() {
	s.overlay.Loop()
	s.overlay.Loop()
}

// Connected reports whether this façade instance is open and its overlay
// node believes itself to be running.
func (s *Store) Connected() bool {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	return connected && s.overlay.IsRunning()
}

// PrintStats renders the four per-kind policy counters and the
// per-operation counters as a human-readable report (spec.md §6's
// "stats" CLI name, SPEC_FULL.md §5's print_stats supplement).
func (s *Store) PrintStats() string {
	var b strings.Builder
	fmt.Fprintf(&b, "atomspace: %s\n", s.parsed.SpaceName)
	for _, k := range []overlay.Kind{overlay.KindAtom, overlay.KindSpace, overlay.KindValues, overlay.KindIncoming} {
		snap := s.policyTable.Snapshot(k)
		fmt.Fprintf(&b, "  %-9s stores=%-6d accepts=%-6d rejects=%-6d\n", k, snap.Stores, snap.Accepts, snap.Rejects)
	}
	fmt.Fprintf(&b, "  store_atom=%d fetch_atom=%d store_value=%d fetch_value=%d store_incoming=%d fetch_incoming=%d remove=%d\n",
		atomic.LoadUint64(&s.ops.storeAtom), atomic.LoadUint64(&s.ops.fetchAtom),
		atomic.LoadUint64(&s.ops.storeValue), atomic.LoadUint64(&s.ops.fetchValue),
		atomic.LoadUint64(&s.ops.storeIncoming), atomic.LoadUint64(&s.ops.fetchIncoming),
		atomic.LoadUint64(&s.ops.remove))
	return b.String()
}

// ClearStats zeroes every counter this instance owns.
func (s *Store) ClearStats() {
	s.policyTable.Clear()
	atomic.StoreUint64(&s.ops.storeAtom, 0)
	atomic.StoreUint64(&s.ops.fetchAtom, 0)
	atomic.StoreUint64(&s.ops.storeValue, 0)
	atomic.StoreUint64(&s.ops.fetchValue, 0)
	atomic.StoreUint64(&s.ops.storeIncoming, 0)
	atomic.StoreUint64(&s.ops.fetchIncoming, 0)
	atomic.StoreUint64(&s.ops.remove, 0)
}

// Examine performs a raw, all-kinds Get at keyHex and returns whatever
// records are currently stored there, decoded only as far as their kind
// tag — the sniff/snuff supplement SPEC_FULL.md's "examine" CLI command
// exposes, useful for poking at a key without knowing in advance which
// record kind lives there.
func (s *Store) Examine(keyHex string) ([]overlay.Record, error) {
	if !s.requireConnected("examine") {
		return nil, atomerr.NewNotConnected("examine")
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 20 {
		return nil, atomerr.NewBadURI(keyHex, "key must be 40 hex characters")
	}
	var k overlay.Key
	copy(k[:], raw)

	ch := s.overlay.Get(k, nil)
	select {
	case recs := <-ch:
		return recs, nil
	case <-time.After(s.waitTime()):
		return nil, atomerr.NewOverlayUnavailable(keyHex, s.waitTime())
	}
}

// AtomSpaceHash returns the hex-encoded SPACE(name) key for the given
// space name, for the "atomspace-hash" CLI command.
func (s *Store) AtomSpaceHash(name string) string {
	k := s.keys.Space(name)
	return hex.EncodeToString(k[:])
}

// ImmutableHash returns the hex-encoded GUID(a) key, for the
// "immutable-hash" CLI command.
func (s *Store) ImmutableHash(a *atom.Atom) string {
	k := s.keys.GUID(a)
	return hex.EncodeToString(k[:])
}

// AtomHash returns a's 64-bit content hash as a hex string, for the
// "atom-hash" CLI command.
func (s *Store) AtomHash(a *atom.Atom) string {
	return strconv.FormatUint(a.ContentHash64(), 16)
}

// NodeInfo reports this instance's overlay identity and connection state,
// for the "node-info" CLI command.
func (s *Store) NodeInfo() string {
	return fmt.Sprintf("uri=%s space=%s observing=%t connected=%t", s.uri, s.parsed.SpaceName, s.parsed.Observing, s.Connected())
}

// URI returns the URI this Store was opened with.
func (s *Store) URI() string { return s.uri }

// SpaceName returns the AtomSpace name this Store persists to.
func (s *Store) SpaceName() string { return s.parsed.SpaceName }

// Observing reports whether this instance is in observing mode (writes
// forbidden).
func (s *Store) Observing() bool { return s.parsed.Observing }

func (s *Store) waitTime() time.Duration {
	if s.cfg.WaitTime <= 0 {
		return 4 * time.Second
	}
	return s.cfg.WaitTime
}

func (s *Store) requireConnected(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// requireWritable enforces NotConnected and ObservingOnly for every write
// path (spec.md §4.9 "Any write operation invoked while in observing mode
// fails with ObservingOnly").
func (s *Store) requireWritable(op string) error {
	if !s.requireConnected(op) {
		return atomerr.NewNotConnected(op)
	}
	if s.parsed.Observing {
		return atomerr.NewObservingOnly(op, s.uri)
	}
	return nil
}
