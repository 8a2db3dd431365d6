// Package reward implements the scalar ordering used everywhere the
// cooperative cache manager has to decide which key matters more:
// eviction order in victim, admission comparisons in placement, and the
// sort key of a VictimSyncset.
//
// The exact formula is deliberately pluggable (spec.md §9, "exact reward
// formula weighting" is an open question the source leaves to an
// implementer). Fn is the extension point; Weights is the only tunable
// input it is handed.
package reward

import "sync/atomic"

// Reward is a total-ordered scalar: higher means more valuable to keep
// cached / more worth admitting.
type Reward float64

// Weights bundles the two knobs named in spec.md §6: w1 rewards local
// hits, w2 rewards cooperative (cross-edge) hits.
type Weights struct {
	W1 float64 // local-hit weight
	W2 float64 // cooperative-hit weight
}

// WeightCell is a read-mostly atomic holder for Weights, replacing the
// "process-wide static state" pattern the Design Notes flag: runtime code
// reads through Load(); only explicit configuration reload paths call
// Store().
type WeightCell struct {
	v atomic.Value // holds Weights
}

// NewWeightCell constructs a cell pre-populated with the given weights.
func NewWeightCell(w Weights) *WeightCell {
	c := &WeightCell{}
	c.v.Store(w)
	return c
}

// Load returns the current weights.
func (c *WeightCell) Load() Weights {
	return c.v.Load().(Weights)
}

// Store replaces the current weights.
func (c *WeightCell) Store(w Weights) {
	c.v.Store(w)
}

// Stats is the minimal view of a per-key statistics record (cached or
// uncached) that a reward function needs.
type Stats interface {
	Frequency() float64
	LastVTime() uint64
	IsNeighborCached() bool
}

// Fn computes the reward for a key given its stats and whether it is
// presently cached locally. Implementations must be pure and must not
// retain s beyond the call.
type Fn func(w Weights, s Stats, cached bool) Reward

// Default is the formula this implementation settles on for the open
// question in spec.md §9: a cached key earns its local-hit weight times
// observed frequency, plus a cooperative contribution when a neighbor is
// also caching it (folding the "neighbor-cached" signal into the reward
// directly, since that is the only cross-edge information PerkeyCachedStats
// carries per spec.md §3). An uncached-but-tracked key is scored purely on
// its cooperative demand potential (w2 * frequency), reflecting that it has
// not yet proven local value but has been observed.
func Default(w Weights, s Stats, cached bool) Reward {
	if !cached {
		return Reward(w.W2 * s.Frequency())
	}
	r := w.W1 * s.Frequency()
	if s.IsNeighborCached() {
		r += w.W2 * s.Frequency()
	}
	return Reward(r)
}

// Less implements the eviction ordering: ascending reward, ties broken by
// ascending vtime (LRU — the least recently touched of equally-rewarded
// keys goes first).
func Less(aReward, bReward Reward, aVTime, bVTime uint64) bool {
	if aReward != bReward {
		return aReward < bReward
	}
	return aVTime < bVTime
}

// AdmitPreferred implements the admission preference ordering among
// candidates of equal reward: MRU wins (the more recently touched
// candidate is preferred for admission), which is the documented
// opposite tie-break from Less.
func AdmitPreferred(aReward, bReward Reward, aVTime, bVTime uint64) bool {
	if aReward != bReward {
		return aReward > bReward
	}
	return aVTime > bVTime
}
