package victim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/covered/internal/keyspace"
)

func TestLocalVictimsOrderingAndTieBreak(t *testing.T) {
	tr := NewTracker()
	tr.OnAdmit(keyspace.Key("a"), 5, 1, 10)
	tr.OnAdmit(keyspace.Key("b"), 2, 2, 10)
	tr.OnAdmit(keyspace.Key("c"), 2, 1, 10) // same reward as b, earlier vtime

	ss := tr.LocalVictims(10)
	assert.Equal(t, []string{"c", "b", "a"}, keysOf(ss))
}

func TestLocalVictimsTopK(t *testing.T) {
	tr := NewTracker()
	for i, k := range []string{"a", "b", "c", "d"} {
		tr.OnAdmit(keyspace.Key(k), 0, uint64(i), 1)
	}
	ss := tr.LocalVictims(2)
	assert.Len(t, ss, 2)
}

func TestOnEvictRemovesEntry(t *testing.T) {
	tr := NewTracker()
	tr.OnAdmit(keyspace.Key("a"), 1, 1, 1)
	tr.OnEvict(keyspace.Key("a"))
	assert.Equal(t, 0, tr.Len())
}

func TestIngestIdempotent(t *testing.T) {
	tr := NewTracker()
	ss := Syncset{{Key: keyspace.Key("x"), Reward: 1, LastVTime: 1, SizeBytes: 4}}

	tr.Ingest(2, ss)
	before := tr.GlobalCandidates()

	tr.Ingest(2, ss) // replay of the identical snapshot
	after := tr.GlobalCandidates()

	assert.Equal(t, before, after)
}

func TestGlobalCandidatesMergesLocalAndNeighbors(t *testing.T) {
	tr := NewTracker()
	tr.OnAdmit(keyspace.Key("local"), 3, 1, 1)
	tr.Ingest(1, Syncset{{Key: keyspace.Key("neighbor"), Reward: 1, LastVTime: 1, SizeBytes: 1}})

	floor, ok := tr.Floor()
	assert.True(t, ok)
	assert.Equal(t, floor, tr.GlobalCandidates()[0].Reward)

	names := make(map[string]bool)
	for _, c := range tr.GlobalCandidates() {
		names[string(c.Key)] = true
	}
	assert.True(t, names["local"])
	assert.True(t, names["neighbor"])
}

func TestFloorEmptyWhenNoCandidates(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Floor()
	assert.False(t, ok)
}

func TestSyncsetEqual(t *testing.T) {
	a := Syncset{{Key: keyspace.Key("x"), Reward: 1, LastVTime: 2, SizeBytes: 3}}
	b := Syncset{{Key: keyspace.Key("x"), Reward: 1, LastVTime: 2, SizeBytes: 3}}
	assert.True(t, a.Equal(b))

	c := Syncset{{Key: keyspace.Key("y"), Reward: 1, LastVTime: 2, SizeBytes: 3}}
	assert.False(t, a.Equal(c))
}

func keysOf(ss Syncset) []string {
	out := make([]string, len(ss))
	for i, e := range ss {
		out[i] = string(e.Key)
	}
	return out
}
