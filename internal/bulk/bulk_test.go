package bulk

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

func newFixture(t *testing.T, port int) (*Engine, *atom.Space, *overlay.Node) {
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
	be := New(n, keys, c, pe, fe, barrier)
	return be, space, n
}

func TestStoreAtomSpaceThenLoadRoundTrips(t *testing.T) {
	be, src, n := newFixture(t, 500)
	foo := src.CreateNode("Concept", "foo")
	bar := src.CreateNode("Concept", "bar")
	src.CreateLink("List", []*atom.Atom{foo, bar})

	require.NoError(t, be.StoreAtomSpace(src))
	n.Loop()

	dst := atom.NewSpace()
	require.NoError(t, be.LoadAtomSpace(dst, "testspace"))

	assert.Equal(t, 3, dst.Size())
	got := dst.CreateNode("Concept", "foo")
	assert.Equal(t, foo.Identity(), got.Identity())
}

func TestLoadTypeFiltersByType(t *testing.T) {
	be, src, n := newFixture(t, 501)
	src.CreateNode("Concept", "foo")
	src.CreateNode("Predicate", "blort")

	require.NoError(t, be.StoreAtomSpace(src))
	n.Loop()

	dst := atom.NewSpace()
	require.NoError(t, be.LoadType(dst, "testspace", "Concept"))

	assert.Equal(t, 1, dst.Size())
	var names []string
	dst.ForeachByType("Concept", false, func(a *atom.Atom) { names = append(names, a.Name()) })
	assert.Equal(t, []string{"foo"}, names)
}

func TestLoadAtomSpaceSkipsDroppedRecords(t *testing.T) {
	be, src, n := newFixture(t, 502)
	foo := src.CreateNode("Concept", "foo")
	require.NoError(t, be.Publish.Store(foo))
	n.Loop()

	// Publish a drop tombstone directly at the same record-id, as the
	// removal engine would, then confirm the client-side collapse in
	// loadFiltered treats it as gone.
	spaceKey := be.Keys.Space("testspace")
	n.Put(spaceKey, overlay.Record{
		Kind:     overlay.KindSpace,
		RecordID: overlay.RecordID(foo.ContentHash64()),
		Payload:  []byte(be.Codec.EncodeDrop(foo)),
	}, nil)
	n.Loop()

	dst := atom.NewSpace()
	require.NoError(t, be.LoadAtomSpace(dst, "testspace"))
	assert.Equal(t, 0, dst.Size())
}

func TestStoreAtomSpaceEmptySourceIsNoop(t *testing.T) {
	be, src, n := newFixture(t, 503)
	require.NoError(t, be.StoreAtomSpace(src))
	n.Loop()

	dst := atom.NewSpace()
	require.NoError(t, be.LoadAtomSpace(dst, "testspace"))
	assert.Equal(t, 0, dst.Size())
}
