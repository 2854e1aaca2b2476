package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atomdht/atom"
	"github.com/dreamware/atomdht/sexpr"
)

func TestEncodeAddHasTagAndTimestamp(t *testing.T) {
	space := atom.NewSpace()
	a := New(sexpr.New(space))
	n := atom.NewNode("Concept", "foobar")

	payload := a.EncodeAdd(n)
	require.True(t, strings.HasPrefix(payload, "add "))

	op, offset, ok := SpacePrefix(payload)
	require.True(t, ok)
	assert.Equal(t, "add", op)
	assert.Equal(t, `(Concept "foobar")`, payload[offset:])
}

func TestEncodeDropHasTagAndTimestamp(t *testing.T) {
	space := atom.NewSpace()
	a := New(sexpr.New(space))
	n := atom.NewNode("Concept", "foobar")

	payload := a.EncodeDrop(n)
	op, offset, ok := SpacePrefix(payload)
	require.True(t, ok)
	assert.Equal(t, "drop", op)
	assert.Equal(t, `(Concept "foobar")`, payload[offset:])
}

func TestSpacePrefixRejectsUnknownTag(t *testing.T) {
	_, _, ok := SpacePrefix("keep 1.000000 (Concept \"a\")")
	assert.False(t, ok)
}

func TestTimestampHasSixFractionalDigits(t *testing.T) {
	ts := timestamp()
	parts := strings.SplitN(ts, ".", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 6)
}
