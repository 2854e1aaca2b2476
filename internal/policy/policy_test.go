package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atomdht/internal/overlay"
)

func TestAtomEditAlwaysAccepts(t *testing.T) {
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(100))
	table := NewTable()
	RegisterAll(n, table, DefaultLifetime)

	var key overlay.Key
	key[0] = 1
	n.Put(key, overlay.Record{Kind: overlay.KindAtom, RecordID: 1, Payload: []byte("(Concept \"a\")")}, nil)
	n.Loop()
	n.Put(key, overlay.Record{Kind: overlay.KindAtom, RecordID: 1, Payload: []byte("(Concept \"a\")")}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), table.Snapshot(overlay.KindAtom).Accepts)
}

func TestSpaceEditRejectsOnCollisionBetweenDistinctAtoms(t *testing.T) {
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(101))
	table := NewTable()
	RegisterAll(n, table, DefaultLifetime)

	var key overlay.Key
	key[0] = 2
	n.Put(key, overlay.Record{Kind: overlay.KindSpace, RecordID: 7, Payload: []byte(`add 1.000000 (Concept "a")`)}, nil)
	n.Loop()
	n.Put(key, overlay.Record{Kind: overlay.KindSpace, RecordID: 7, Payload: []byte(`add 2.000000 (Concept "b")`)}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Contains(t, string(recs[0].Payload), `(Concept "a")`)
	assert.Equal(t, uint64(1), table.Snapshot(overlay.KindSpace).Rejects)
}

func TestSpaceEditAcceptsDropOfSameAtom(t *testing.T) {
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(102))
	table := NewTable()
	RegisterAll(n, table, DefaultLifetime)

	var key overlay.Key
	key[0] = 3
	n.Put(key, overlay.Record{Kind: overlay.KindSpace, RecordID: 9, Payload: []byte(`add 1.000000 (Concept "a")`)}, nil)
	n.Loop()
	n.Put(key, overlay.Record{Kind: overlay.KindSpace, RecordID: 9, Payload: []byte(`drop 2.000000 (Concept "a")`)}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.True(t, len(recs[0].Payload) > 5 && string(recs[0].Payload[:5]) == "drop ")
}

func TestValuesEditAlwaysAccepts(t *testing.T) {
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(103))
	table := NewTable()
	RegisterAll(n, table, DefaultLifetime)

	var key overlay.Key
	key[0] = 4
	n.Put(key, overlay.Record{Kind: overlay.KindValues, RecordID: 1, Payload: []byte("((a . b))")}, nil)
	n.Loop()
	n.Put(key, overlay.Record{Kind: overlay.KindValues, RecordID: 1, Payload: []byte("")}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Empty(t, string(recs[0].Payload))
}

func TestClearResetsAllCounters(t *testing.T) {
	overlay.ResetDirectory()
	n := overlay.NewNode(overlay.Config{})
	require.NoError(t, n.Run(104))
	table := NewTable()
	RegisterAll(n, table, DefaultLifetime)

	var key overlay.Key
	n.Put(key, overlay.Record{Kind: overlay.KindAtom, RecordID: 1, Payload: []byte("x")}, nil)
	n.Loop()
	table.Clear()
	assert.Equal(t, Stats{}, table.Snapshot(overlay.KindAtom))
}
