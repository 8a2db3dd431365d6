package popularity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/reward"
)

func newTestTracker(cap int) *Tracker {
	return NewTracker(cap, reward.NewWeightCell(reward.Weights{W1: 1, W2: 1}), reward.Default)
}

func TestObserveAccessCachedBumpsFrequency(t *testing.T) {
	tr := newTestTracker(10)
	key := keyspace.Key("k1")

	tr.ObserveAccess(key, true)
	tr.ObserveAccess(key, true)

	r, ok := tr.CachedSnapshot(key)
	require.True(t, ok)
	assert.Equal(t, reward.Reward(2), r)
}

func TestKeyInExactlyOneTable(t *testing.T) {
	tr := newTestTracker(10)
	key := keyspace.Key("k1")

	tr.ObserveAccess(key, false)
	cached, uncached := tr.Len()
	assert.Equal(t, 0, cached)
	assert.Equal(t, 1, uncached)

	tr.OnAdmit(key)
	cached, uncached = tr.Len()
	assert.Equal(t, 1, cached)
	assert.Equal(t, 0, uncached)

	tr.OnEvict(key)
	cached, uncached = tr.Len()
	assert.Equal(t, 0, cached)
	assert.Equal(t, 1, uncached)
}

func TestUncachedTableEvictsFloorWhenFull(t *testing.T) {
	tr := newTestTracker(2)

	tr.ObserveAccess(keyspace.Key("a"), false)
	tr.ObserveAccess(keyspace.Key("b"), false)
	// c has higher vtime (more recent) but identical frequency: by the
	// ascending-reward/ascending-vtime tie-break, "a" (oldest) is the
	// floor and should be evicted to make room.
	tr.ObserveAccess(keyspace.Key("c"), false)

	_, uncached := tr.Len()
	assert.Equal(t, 2, uncached)

	keys := tr.UncachedKeysByReward()
	assert.NotContains(t, keys, "a")
}

func TestEpochTickHalvesFrequencyTwice(t *testing.T) {
	tr := newTestTracker(10)
	key := keyspace.Key("k1")
	for i := 0; i < 8; i++ {
		tr.ObserveAccess(key, true)
	}
	r1, _ := tr.CachedSnapshot(key)
	assert.Equal(t, reward.Reward(8), r1)

	tr.EpochTick()
	r2, _ := tr.CachedSnapshot(key)
	assert.Equal(t, reward.Reward(4), r2)

	tr.EpochTick()
	r3, _ := tr.CachedSnapshot(key)
	assert.Equal(t, reward.Reward(2), r3)
}

func TestCollectedPopularityRoundTrip(t *testing.T) {
	tr := newTestTracker(10)
	key := keyspace.Key("k1")
	tr.ObserveAccess(key, false)

	cp := tr.CollectedPopularityFor(key)
	assert.True(t, cp.IsTracked)
	assert.Greater(t, cp.LocalUncachedPopularity, reward.Reward(0))

	tr.MergeCollected(key, 7, cp)
	merged := tr.CollectedFor(key)
	assert.Equal(t, cp, merged[7])
}
