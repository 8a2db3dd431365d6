package placement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/store"
	"github.com/dreamware/covered/internal/victim"
)

func newTestEngine(capacity uint64) (*Engine, *popularity.Tracker, *victim.Tracker, store.LocalCacheStore) {
	weights := reward.NewWeightCell(reward.Weights{W1: 1, W2: 1})
	pop := popularity.NewTracker(100, weights, reward.Default)
	vic := victim.NewTracker()
	st := store.NewBoundedMemoryStore(capacity)
	return NewEngine(pop, vic, st, weights, reward.Default, 4), pop, vic, st
}

func TestDecideAdmitsWhenNoFloorYet(t *testing.T) {
	eng, pop, _, _ := newTestEngine(1024)
	key := keyspace.Key("a")
	pop.ObserveAccess(key, false)
	pop.OnAdmit(key) // simulate the key moving into the cached table

	d := eng.Decide(key, 10)
	assert.Equal(t, Admit, d.Verdict)
}

func TestDecideDeclinesOversizeValue(t *testing.T) {
	eng, pop, _, _ := newTestEngine(4)
	key := keyspace.Key("a")
	pop.OnAdmit(key)

	d := eng.Decide(key, 100)
	assert.Equal(t, Decline, d.Verdict)
}

func TestDecideSelectsVictimsWhenStoreFull(t *testing.T) {
	eng, pop, vic, st := newTestEngine(10)
	require.NoError(t, st.Put(keyspace.Key("old"), []byte("12345678")))
	vic.OnAdmit(keyspace.Key("old"), 0, 1, 8)

	pop.OnAdmit(keyspace.Key("new"))
	pop.ObserveAccess(keyspace.Key("new"), true) // reward 1 clears old's floor of 0
	d := eng.Decide(keyspace.Key("new"), 5)
	assert.Equal(t, Admit, d.Verdict)
	require.Len(t, d.Victims, 1)
	assert.Equal(t, keyspace.Key("old"), d.Victims[0].Key)
}

func TestAdmitSyncEvictsAndStores(t *testing.T) {
	eng, pop, vic, st := newTestEngine(10)
	require.NoError(t, st.Put(keyspace.Key("old"), []byte("12345678")))
	vic.OnAdmit(keyspace.Key("old"), 0, 1, 8)
	pop.OnAdmit(keyspace.Key("new"))
	pop.ObserveAccess(keyspace.Key("new"), true) // reward 1 clears old's floor of 0

	d := eng.Decide(keyspace.Key("new"), 5)
	require.NoError(t, eng.AdmitSync(keyspace.Key("new"), []byte("12345"), d, 2))

	assert.False(t, st.Has(keyspace.Key("old")))
	assert.True(t, st.Has(keyspace.Key("new")))
	assert.Equal(t, 1, vic.Len()) // only "new" remains live
}

func TestAdmitAsyncRunsInBackground(t *testing.T) {
	eng, pop, _, st := newTestEngine(1024)
	pop.OnAdmit(keyspace.Key("k"))
	d := eng.Decide(keyspace.Key("k"), 4)

	done := make(chan error, 1)
	eng.Admit(context.Background(), keyspace.Key("k"), []byte("data"), d, 1, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("admit did not complete")
	}
	assert.True(t, st.Has(keyspace.Key("k")))
}
