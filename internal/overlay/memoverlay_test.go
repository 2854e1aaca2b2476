package overlay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptAll(Key, Record) bool { return true }

func TestPutGetRoundTrip(t *testing.T) {
	ResetDirectory()
	n := NewNode(Config{})
	require.NoError(t, n.Run(1))
	n.RegisterType(KindAtom, TypePolicy{Store: acceptAll, Edit: func(Key, Record, Record) bool { return true }})

	var key Key
	key[0] = 1
	n.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("hello")}, nil)

	// Before a drain, the put is not yet visible.
	recs := <-n.Get(key, nil)
	assert.Empty(t, recs)

	n.Loop()
	recs = <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", string(recs[0].Payload))
}

func TestAtomEditAcceptsOnlyIdenticalPayload(t *testing.T) {
	ResetDirectory()
	n := NewNode(Config{})
	require.NoError(t, n.Run(2))
	n.RegisterType(KindAtom, TypePolicy{
		Store: acceptAll,
		Edit: func(_ Key, old, next Record) bool {
			return string(old.Payload) == string(next.Payload)
		},
	})

	var key Key
	key[0] = 7
	n.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("(Concept \"a\")")}, nil)
	n.Loop()
	n.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("(Concept \"b\")")}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "(Concept \"a\")", string(recs[0].Payload))
}

func TestSpaceEditKeepsOlderRecordOnCollision(t *testing.T) {
	ResetDirectory()
	n := NewNode(Config{})
	require.NoError(t, n.Run(3))
	n.RegisterType(KindSpace, TypePolicy{
		Store: acceptAll,
		Edit: func(_ Key, old, next Record) bool {
			oldTag, oldSexpr := splitTag(string(old.Payload))
			newTag, newSexpr := splitTag(string(next.Payload))
			_ = oldTag
			_ = newTag
			return oldSexpr == newSexpr
		},
	})

	var key Key
	key[0] = 9
	// Two distinct atoms collide on the same 64-bit record-id.
	n.Put(key, Record{Kind: KindSpace, RecordID: 42, Payload: []byte("add 1.0 (Concept \"a\")")}, nil)
	n.Loop()
	n.Put(key, Record{Kind: KindSpace, RecordID: 42, Payload: []byte("add 2.0 (Concept \"b\")")}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Contains(t, string(recs[0].Payload), "(Concept \"a\")")
}

func splitTag(s string) (string, string) {
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 3 {
		return "", s
	}
	return parts[0], parts[2]
}

func TestBootstrapSeedsExistingRecords(t *testing.T) {
	ResetDirectory()
	a := NewNode(Config{})
	require.NoError(t, a.Run(10))
	a.RegisterType(KindAtom, TypePolicy{Store: acceptAll, Edit: func(Key, Record, Record) bool { return true }})

	var key Key
	key[0] = 5
	a.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("seed")}, nil)
	a.Loop()

	b := NewNode(Config{})
	require.NoError(t, b.Run(11))
	require.NoError(t, b.Bootstrap(context.Background(), "", 10))

	recs := <-b.Get(key, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "seed", string(recs[0].Payload))
}

func TestRateLimitDropsExcessPuts(t *testing.T) {
	ResetDirectory()
	n := NewNode(Config{MaxReqPerSec: 1})
	require.NoError(t, n.Run(20))
	n.RegisterType(KindAtom, TypePolicy{Store: acceptAll, Edit: func(Key, Record, Record) bool { return true }})

	var k1, k2 Key
	k1[0], k2[0] = 1, 2
	n.Put(k1, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("a")}, nil)
	n.Put(k2, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("b")}, nil)
	n.Loop()

	assert.Equal(t, uint64(1), n.Dropped())
}

func TestSweepEvictsRecordsPastTheirLifetime(t *testing.T) {
	ResetDirectory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	n := NewNode(Config{SweepInterval: 0, Clock: func() time.Time { return clock() }})
	require.NoError(t, n.Run(30))
	n.RegisterType(KindAtom, TypePolicy{Lifetime: time.Hour, Store: acceptAll, Edit: func(Key, Record, Record) bool { return true }})

	var key Key
	key[0] = 11
	n.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("short-lived")}, nil)
	n.Loop()

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)

	// Fast-forward the injected clock past the kind's registered
	// Lifetime and sweep directly, without waiting on the real ticker.
	now = now.Add(2 * time.Hour)
	evicted := n.Sweep()
	assert.Equal(t, 1, evicted)

	recs = <-n.Get(key, nil)
	assert.Empty(t, recs)
}

func TestSweepKeepsRecordsWithNoRegisteredLifetime(t *testing.T) {
	ResetDirectory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := NewNode(Config{SweepInterval: 0, Clock: func() time.Time { return now }})
	require.NoError(t, n.Run(31))
	n.RegisterType(KindAtom, TypePolicy{Store: acceptAll, Edit: func(Key, Record, Record) bool { return true }})

	var key Key
	key[0] = 12
	n.Put(key, Record{Kind: KindAtom, RecordID: 1, Payload: []byte("no-expiry")}, nil)
	n.Loop()

	now = now.Add(365 * 24 * time.Hour)
	assert.Equal(t, 0, n.Sweep())

	recs := <-n.Get(key, nil)
	require.Len(t, recs, 1)
}
