package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/internal/codec"
	"github.com/dreamware/atomdht/internal/key"
	"github.com/dreamware/atomdht/internal/localcache"
	"github.com/dreamware/atomdht/internal/overlay"
	"github.com/dreamware/atomdht/internal/policy"
	"github.com/dreamware/atomdht/sexpr"
)

func newEngine(t *testing.T, port int) (*Engine, *atom.Space, *overlay.Node) {
	t.Helper()
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(port))
	policy.RegisterAll(n, policy.NewTable(), policy.DefaultLifetime)

	space := atom.NewSpace()
	c := codec.New(sexpr.New(space))
	keys := key.NewRegistry(c, "testspace")
	caches := localcache.New()
	return New(n, keys, c, caches, space), space, n
}

func TestStoreNodeProducesAtomAndSpaceRecords(t *testing.T) {
	e, space, n := newEngine(t, 200)
	a := space.CreateNode("Concept", "foobar")

	require.NoError(t, e.Store(a))
	n.Loop()

	guid := e.Keys.GUID(a)
	atomRecs := <-n.Get(guid, func(k overlay.Kind) bool { return k == overlay.KindAtom })
	require.Len(t, atomRecs, 1)
	assert.Equal(t, `(Concept "foobar")`, string(atomRecs[0].Payload))

	spaceKey := e.Keys.Space("testspace")
	spaceRecs := <-n.Get(spaceKey, func(k overlay.Kind) bool { return k == overlay.KindSpace })
	require.Len(t, spaceRecs, 1)
	assert.Contains(t, string(spaceRecs[0].Payload), "add ")
}

func TestStoreIsIdempotent(t *testing.T) {
	e, space, n := newEngine(t, 201)
	a := space.CreateNode("Concept", "foobar")

	require.NoError(t, e.Store(a))
	n.Loop()
	require.NoError(t, e.Store(a))
	n.Loop()

	spaceKey := e.Keys.Space("testspace")
	spaceRecs := <-n.Get(spaceKey, func(k overlay.Kind) bool { return k == overlay.KindSpace })
	assert.Len(t, spaceRecs, 1, "T4: at most one live SPACE record per distinct atom")
}

func TestStoreLinkPublishesIncomingEdges(t *testing.T) {
	e, space, n := newEngine(t, 202)
	foo := space.CreateNode("Concept", "foo")
	bar := space.CreateNode("Concept", "bar")
	link := space.CreateLink("List", []*atom.Atom{foo, bar})

	require.NoError(t, e.Store(link))
	n.Loop()

	fooMember := e.Keys.Member(foo)
	incoming := <-n.Get(fooMember, func(k overlay.Kind) bool { return k == overlay.KindIncoming })
	require.Len(t, incoming, 1)
	assert.Equal(t, e.Keys.GUID(link)[:], incoming[0].Payload)
}

func TestStoreValuesPublishesAssociationList(t *testing.T) {
	e, space, n := newEngine(t, 203)
	foo := space.CreateNode("Concept", "foo")
	tvKey := space.CreateNode("PredicateNode", "*-TruthValueKey-*")
	foo.SetValue(tvKey, atom.TruthValue{Strength: 0.7, Confidence: 0.9})

	require.NoError(t, e.Store(foo))
	n.Loop()

	memberKey := e.Keys.Member(foo)
	recs := <-n.Get(memberKey, func(k overlay.Kind) bool { return k == overlay.KindValues })
	require.Len(t, recs, 1)
	assert.Contains(t, string(recs[0].Payload), "TruthValue")
}
