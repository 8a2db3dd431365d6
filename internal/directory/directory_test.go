package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/victim"
)

func newTestTable(lease time.Duration) *Table {
	pop := popularity.NewTracker(100, reward.NewWeightCell(reward.Weights{W1: 1, W2: 1}), reward.Default)
	vic := victim.NewTracker()
	return NewTable(pop, vic, 8, lease)
}

func TestAdmitThenLookupIsValid(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")

	res := tbl.Admit(key, 0, nil, nil)
	assert.False(t, res.IsBeingWritten)
	assert.False(t, res.IsNeighborCached)

	lk := tbl.Lookup(key, 1, nil, nil)
	assert.True(t, lk.Valid)
	assert.Equal(t, keyspace.EdgeIndex(0), lk.Info.OwnerEdge)
}

func TestAdmitIsIdempotentPerKeyFromEdge(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")

	tbl.Admit(key, 0, nil, nil)
	res := tbl.Admit(key, 0, nil, nil)
	assert.False(t, res.IsNeighborCached)

	state, info, multi := tbl.Snapshot(key)
	assert.Equal(t, StateCached, state)
	assert.Equal(t, keyspace.EdgeIndex(0), info.OwnerEdge)
	assert.False(t, multi)
}

func TestAdmitSecondEdgeTogglesMulti(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")

	tbl.Admit(key, 0, nil, nil)
	res := tbl.Admit(key, 1, nil, nil)
	assert.True(t, res.IsNeighborCached)
	assert.ElementsMatch(t, []keyspace.EdgeIndex{0, 1}, res.EdgesetToNotify)

	_, info, multi := tbl.Snapshot(key)
	assert.True(t, multi)
	assert.Equal(t, keyspace.EdgeIndex(0), info.OwnerEdge) // owner unchanged
}

func TestEvictLastOtherTogglesMultiOff(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.Admit(key, 1, nil, nil)

	res := tbl.Evict(key, 1, nil)
	assert.ElementsMatch(t, []keyspace.EdgeIndex{0}, res.EdgesetToNotify)

	_, _, multi := tbl.Snapshot(key)
	assert.False(t, multi)
}

func TestEvictAllTransitionsAbsent(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.Evict(key, 0, nil)

	state, _, _ := tbl.Snapshot(key)
	assert.Equal(t, StateAbsent, state)

	lk := tbl.Lookup(key, 1, nil, nil)
	assert.False(t, lk.Valid)
}

func TestLookupDuringWriteIsBeingWritten(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.AcquireWrite(key, 2)

	lk := tbl.Lookup(key, 1, nil, nil)
	assert.True(t, lk.IsBeingWritten)
	assert.False(t, lk.Valid)
}

func TestWriteLockSingleHolderOnly(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")

	first := tbl.AcquireWrite(key, 0)
	require.Equal(t, Granted, first.Result)

	second := tbl.AcquireWrite(key, 1)
	assert.Equal(t, Busy, second.Result)

	// Idempotent re-acquire by the same holder.
	reacquire := tbl.AcquireWrite(key, 0)
	assert.Equal(t, Granted, reacquire.Result)
	assert.Equal(t, first.Generation, reacquire.Generation)
}

func TestAcquireWriteInvalidatesExistingCopies(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.Admit(key, 1, nil, nil)

	res := tbl.AcquireWrite(key, 2)
	require.Equal(t, Granted, res.Result)
	assert.ElementsMatch(t, []keyspace.EdgeIndex{0, 1}, res.CopiesToInvalidate)
}

func TestReleaseWriteProducesCachedSingleOwner(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	acq := tbl.AcquireWrite(key, 2)

	rel := tbl.ReleaseWrite(key, 2, acq.Generation, true)
	assert.True(t, rel.Accepted)

	state, info, multi := tbl.Snapshot(key)
	assert.Equal(t, StateCached, state)
	assert.False(t, multi)
	assert.Equal(t, keyspace.EdgeIndex(2), info.OwnerEdge)
}

func TestReleaseWriteWithoutValueGoesAbsent(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	acq := tbl.AcquireWrite(key, 2)

	rel := tbl.ReleaseWrite(key, 2, acq.Generation, false)
	assert.True(t, rel.Accepted)

	state, _, _ := tbl.Snapshot(key)
	assert.Equal(t, StateAbsent, state)
}

func TestReleaseWriteRejectsStaleGeneration(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	acq := tbl.AcquireWrite(key, 2)

	rel := tbl.ReleaseWrite(key, 2, acq.Generation+1, true)
	assert.False(t, rel.Accepted)
}

func TestReleaseWriteRejectsNonHolder(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	acq := tbl.AcquireWrite(key, 2)

	rel := tbl.ReleaseWrite(key, 9, acq.Generation, true)
	assert.False(t, rel.Accepted)
}

func TestReapExpiredLeasesReclaimsAndListsInvalidated(t *testing.T) {
	tbl := newTestTable(time.Millisecond)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.AcquireWrite(key, 2)

	time.Sleep(5 * time.Millisecond)
	reclaimed := tbl.ReapExpiredLeases(time.Now())
	require.Contains(t, reclaimed, string(key))
	assert.ElementsMatch(t, []keyspace.EdgeIndex{0}, reclaimed[string(key)])

	state, _, _ := tbl.Snapshot(key)
	assert.Equal(t, StateAbsent, state)
}

func TestEvictIdempotentReplay(t *testing.T) {
	tbl := newTestTable(time.Second)
	key := keyspace.Key("a")
	tbl.Admit(key, 0, nil, nil)
	tbl.Evict(key, 0, nil)
	// Replaying the same evict must be a no-op, not an error.
	res := tbl.Evict(key, 0, nil)
	assert.False(t, res.IsBeingWritten)
	assert.Empty(t, res.EdgesetToNotify)
}

func TestCacherInsertLookupInvalidate(t *testing.T) {
	c := NewCacher(2)
	c.Insert(keyspace.Key("a"), DirectoryInfo{OwnerEdge: 1})
	info, ok := c.Lookup(keyspace.Key("a"))
	require.True(t, ok)
	assert.Equal(t, keyspace.EdgeIndex(1), info.OwnerEdge)

	c.Invalidate(keyspace.Key("a"))
	_, ok = c.Lookup(keyspace.Key("a"))
	assert.False(t, ok)
}

func TestCacherEvictsLRUBeyondCapacity(t *testing.T) {
	c := NewCacher(2)
	c.Insert(keyspace.Key("a"), DirectoryInfo{OwnerEdge: 0})
	c.Insert(keyspace.Key("b"), DirectoryInfo{OwnerEdge: 0})
	c.Lookup(keyspace.Key("a")) // touch a, making b the LRU entry
	c.Insert(keyspace.Key("c"), DirectoryInfo{OwnerEdge: 0})

	_, ok := c.Lookup(keyspace.Key("b"))
	assert.False(t, ok)
	_, ok = c.Lookup(keyspace.Key("a"))
	assert.True(t, ok)
	_, ok = c.Lookup(keyspace.Key("c"))
	assert.True(t, ok)
}
