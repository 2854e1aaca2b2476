package atom

import "sync"

// Space is a minimal, process-local implementation of GraphFacade: a flat
// table of atoms kept alive by identity, with a by-type index for
// ForeachByType. It plays the role "AtomTable" plays in the original
// implementation this module's persistence layer is modeled on, but
// carries none of the pattern-matching machinery of a real AtomSpace —
// callers that need more should implement GraphFacade directly.
type Space struct {
	mu      sync.RWMutex
	byIdent map[string]*Atom
	byType  map[string]map[string]*Atom // type -> identity -> atom
}

// NewSpace creates an empty in-memory graph.
func NewSpace() *Space {
	return &Space{
		byIdent: make(map[string]*Atom),
		byType:  make(map[string]map[string]*Atom),
	}
}

// AddAtom inserts a (or returns the already-present equal atom), the same
// "intern" semantics the backing store relies on for content addressing.
func (s *Space) AddAtom(a *Atom) *Atom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(a)
}

func (s *Space) addLocked(a *Atom) *Atom {
	id := a.Identity()
	if existing, ok := s.byIdent[id]; ok {
		return existing
	}
	s.byIdent[id] = a
	if s.byType[a.typ] == nil {
		s.byType[a.typ] = make(map[string]*Atom)
	}
	s.byType[a.typ][id] = a
	return a
}

// CreateNode interns a node atom.
func (s *Space) CreateNode(t, name string) *Atom {
	return s.AddAtom(NewNode(t, name))
}

// CreateLink interns a link atom, first interning each child.
func (s *Space) CreateLink(t string, outgoing []*Atom) *Atom {
	resolved := make([]*Atom, len(outgoing))
	for i, c := range outgoing {
		resolved[i] = s.AddAtom(c)
	}
	return s.AddAtom(NewLink(t, resolved))
}

// IsNode reports whether a is a node.
func (s *Space) IsNode(a *Atom) bool { return a.IsNode() }

// IsLink reports whether a is a link.
func (s *Space) IsLink(a *Atom) bool { return a.IsLink() }

// Outgoing returns a's children.
func (s *Space) Outgoing(a *Atom) []*Atom { return a.Outgoing() }

// Type returns a's type name.
func (s *Space) Type(a *Atom) string { return a.Type() }

// Name returns a's name (nodes only).
func (s *Space) Name(a *Atom) string { return a.Name() }

// ContentHash64 returns a's 64-bit content hash.
func (s *Space) ContentHash64(a *Atom) uint64 { return a.ContentHash64() }

// Keys returns a's value-map keys.
func (s *Space) Keys(a *Atom) []*Atom { return a.Keys() }

// GetValue returns the value a carries under key.
func (s *Space) GetValue(a *Atom, key *Atom) (Value, bool) { return a.GetValue(key) }

// SetValue attaches v to a under key.
func (s *Space) SetValue(a *Atom, key *Atom, v Value) { a.SetValue(key, v) }

// ForeachByType calls cb for every atom of type t currently interned. When
// recursive is true it also visits every subtype — this default
// implementation has no type hierarchy, so recursive has no additional
// effect beyond t itself.
func (s *Space) ForeachByType(t string, recursive bool, cb func(*Atom)) {
	s.mu.RLock()
	atoms := make([]*Atom, 0, len(s.byType[t]))
	for _, a := range s.byType[t] {
		atoms = append(atoms, a)
	}
	s.mu.RUnlock()
	for _, a := range atoms {
		cb(a)
	}
	_ = recursive
}

// Size returns the number of distinct atoms currently interned.
func (s *Space) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdent)
}

// Nodes returns every interned node atom, in no particular order. Used by
// the Bulk Engine's store_atomspace, which iterates nodes before links
// (spec.md §4.8) so that links never reference an atom not yet stored.
func (s *Space) Nodes() []*Atom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Atom, 0, len(s.byIdent))
	for _, a := range s.byIdent {
		if a.IsNode() {
			out = append(out, a)
		}
	}
	return out
}

// Links returns every interned link atom, in no particular order.
func (s *Space) Links() []*Atom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Atom, 0, len(s.byIdent))
	for _, a := range s.byIdent {
		if a.IsLink() {
			out = append(out, a)
		}
	}
	return out
}
