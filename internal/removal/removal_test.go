package removal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/fetch"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
	"github.com/dreamware/atomdht/internal/policy"
	"github.com/dreamware/atomdht/internal/publish"
	"github.com/dreamware/atomdht/sexpr"
)

type fixture struct {
	pe *publish.Engine
	fe *fetch.Engine
	re *Engine
	sp *atom.Space
	n  *overlay.Node
}

func newFixture(t *testing.T, port int) fixture {
	t.Helper()
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(port))
	policy.RegisterAll(n, policy.NewTable(), policy.DefaultLifetime)

	space := atom.NewSpace()
	c := codec.New(sexpr.New(space))
	keys := key.NewRegistry(c, "testspace")
	caches := localcache.New()

	pe := publish.New(n, keys, c, caches, space)
	fe := fetch.New(n, keys, c, caches, space)
	barrier := func() { n.Loop(); n.Loop() }
	re := New(n, keys, c, caches, space, fe, barrier)
	return fixture{pe: pe, fe: fe, re: re, sp: space, n: n}
}

func TestNonRecursiveRemoveRefusedWithNonEmptyIncoming(t *testing.T) {
	f := newFixture(t, 400)
	foo := f.sp.CreateNode("Concept", "foo")
	bar := f.sp.CreateNode("Concept", "bar")
	link := f.sp.CreateLink("List", []*atom.Atom{foo, bar})
	require.NoError(t, f.pe.Store(link))
	f.n.Loop()

	require.NoError(t, f.re.Remove(foo, false))

	got, err := f.fe.FetchAtomByGUID(f.fe.Keys.GUID(foo))
	require.NoError(t, err)
	assert.Equal(t, foo.Identity(), got.Identity())
}

func TestRecursiveRemoveClearsIncomingSet(t *testing.T) {
	f := newFixture(t, 401)
	blort := f.sp.CreateNode("Predicate", "blort")
	foo := f.sp.CreateNode("Concept", "foo")
	bar := f.sp.CreateNode("Concept", "bar")
	listLink := f.sp.CreateLink("List", []*atom.Atom{foo, bar})
	eval := f.sp.CreateLink("Evaluation", []*atom.Atom{blort, listLink})

	require.NoError(t, f.pe.Store(eval))
	f.n.Loop()

	require.NoError(t, f.re.Remove(foo, true))
	f.n.Loop()

	incoming, err := f.fe.GetIncoming(blort)
	require.NoError(t, err)
	assert.Empty(t, incoming, "T6: removing foo must retract the Evaluation from blort's incoming set")
}

func TestRemoveDeletesAtomValues(t *testing.T) {
	f := newFixture(t, 402)
	foo := f.sp.CreateNode("Concept", "foo")
	tvKey := f.sp.CreateNode("PredicateNode", "*-TruthValueKey-*")
	foo.SetValue(tvKey, atom.TruthValue{Strength: 0.5, Confidence: 0.5})

	require.NoError(t, f.pe.Store(foo))
	f.n.Loop()

	require.NoError(t, f.re.Remove(foo, false))
	f.n.Loop()

	fresh := atom.NewNode("Concept", "foo")
	require.NoError(t, f.fe.FetchValues(fresh))
	_, ok := fresh.GetValue(tvKey)
	assert.False(t, ok)
}

func TestRemoveEvictsPublishedAndMemberCache(t *testing.T) {
	f := newFixture(t, 403)
	foo := f.sp.CreateNode("Concept", "foo")
	require.NoError(t, f.pe.Store(foo))
	f.n.Loop()

	require.NoError(t, f.re.Remove(foo, false))

	// Republishing after remove must be treated as new (spec.md §4.4).
	require.NoError(t, f.pe.Store(foo))
	f.n.Loop()

	spaceKey := f.fe.Keys.Space("testspace")
	recs := <-f.n.Get(spaceKey, func(k overlay.Kind) bool { return k == overlay.KindSpace })
	require.Len(t, recs, 1, "the add after drop must collapse back to one live SPACE record")
}
