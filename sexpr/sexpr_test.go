package sexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atomdht/atom"
)

func TestEncodeDecodeNode(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)

	n := atom.NewNode("Concept", "foobar")
	enc := c.EncodeAtom(n)
	assert.Equal(t, `(Concept "foobar")`, enc)

	decoded, next, err := c.DecodeAtom(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, len(enc), next)
	assert.Equal(t, n.Identity(), decoded.Identity())
}

func TestEncodeDecodeLink(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)

	foo := space.CreateNode("Concept", "foo")
	bar := space.CreateNode("Concept", "bar")
	list := space.CreateLink("List", []*atom.Atom{foo, bar})
	pred := space.CreateNode("Predicate", "blort")
	link := space.CreateLink("Evaluation", []*atom.Atom{pred, list})

	enc := c.EncodeAtom(link)
	decoded, _, err := c.DecodeAtom(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, link.Identity(), decoded.Identity())
}

func TestEscapedNameRoundTrips(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)

	n := atom.NewNode("Concept", `quote " and backslash \ here`)
	enc := c.EncodeAtom(n)
	decoded, _, err := c.DecodeAtom(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, n.Name(), decoded.Name())
}

func TestEncodeDecodeValues(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)

	tv := atom.TruthValue{Strength: 0.7, Confidence: 0.9}
	enc := c.EncodeValue(tv)
	assert.Equal(t, "(TruthValue 0.7 0.9)", enc)

	decoded, err := c.DecodeValue(enc)
	require.NoError(t, err)
	assert.Equal(t, tv, decoded)
}

func TestEncodeDecodeAlist(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)

	foo := space.CreateNode("Concept", "foo")
	key := space.CreateNode("PredicateNode", "*-TruthValueKey-*")
	foo.SetValue(key, atom.TruthValue{Strength: 0.7, Confidence: 0.9})

	payload := c.EncodeAtomValues(foo)
	assert.NotEmpty(t, payload)

	fresh := atom.NewNode("Concept", "foo")
	err := c.DecodeAlist(fresh, payload)
	require.NoError(t, err)

	v, ok := fresh.GetValue(key)
	require.True(t, ok)
	assert.Equal(t, atom.TruthValue{Strength: 0.7, Confidence: 0.9}, v)
}

func TestEncodeAtomValuesEmpty(t *testing.T) {
	space := atom.NewSpace()
	c := New(space)
	foo := space.CreateNode("Concept", "foo")
	assert.Equal(t, "", c.EncodeAtomValues(foo))
}
