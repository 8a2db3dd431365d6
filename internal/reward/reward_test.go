package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStats struct {
	freq    float64
	vtime   uint64
	neighor bool
}

func (f fakeStats) Frequency() float64      { return f.freq }
func (f fakeStats) LastVTime() uint64       { return f.vtime }
func (f fakeStats) IsNeighborCached() bool  { return f.neighor }

func TestDefaultCachedWithoutNeighbor(t *testing.T) {
	w := Weights{W1: 2, W2: 5}
	got := Default(w, fakeStats{freq: 3}, true)
	assert.Equal(t, Reward(6), got)
}

func TestDefaultCachedWithNeighbor(t *testing.T) {
	w := Weights{W1: 2, W2: 5}
	got := Default(w, fakeStats{freq: 3, neighor: true}, true)
	assert.Equal(t, Reward(6+15), got)
}

func TestDefaultUncached(t *testing.T) {
	w := Weights{W1: 2, W2: 5}
	got := Default(w, fakeStats{freq: 4}, false)
	assert.Equal(t, Reward(20), got)
}

func TestLessTieBreak(t *testing.T) {
	assert.True(t, Less(1, 1, 5, 10))
	assert.False(t, Less(1, 1, 10, 5))
	assert.True(t, Less(1, 2, 999, 0))
}

func TestAdmitPreferredTieBreak(t *testing.T) {
	assert.True(t, AdmitPreferred(1, 1, 10, 5))
	assert.False(t, AdmitPreferred(1, 1, 5, 10))
	assert.True(t, AdmitPreferred(2, 1, 0, 999))
}

func TestWeightCell(t *testing.T) {
	c := NewWeightCell(Weights{W1: 1, W2: 1})
	assert.Equal(t, Weights{W1: 1, W2: 1}, c.Load())
	c.Store(Weights{W1: 9, W2: 9})
	assert.Equal(t, Weights{W1: 9, W2: 9}, c.Load())
}
