// Package popularity tracks per-key access counters and recency, for both
// currently-cached and currently-uncached-but-tracked keys on one edge, and
// aggregates the popularity contributions collected from peers during
// cooperation rounds. It is the direct input to reward.Fn.
//
// Per spec.md §4.2: a key is in exactly one of {cached table, uncached
// table, absent}. Callers are expected to hold the relevant per-key write
// lock (lockset.PerKeyRwLockTable) around every mutating call; this
// package does not lock individual keys itself, only its own maps.
package popularity

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/reward"
)

// CachedStats is the per-key, per-edge record kept while a key is cached
// locally (spec.md §3 PerkeyCachedStats).
type CachedStats struct {
	GroupID          uint32
	freq             float64
	vtime            uint64
	IsNeighborCached bool
}

func (s *CachedStats) Frequency() float64 { return s.freq }
func (s *CachedStats) LastVTime() uint64  { return s.vtime }

// reward.Stats adapter; IsNeighborCached is a field so we need a thin
// wrapper satisfying the interface without renaming the exported field.
type cachedStatsView struct{ s *CachedStats }

func (v cachedStatsView) Frequency() float64     { return v.s.freq }
func (v cachedStatsView) LastVTime() uint64      { return v.s.vtime }
func (v cachedStatsView) IsNeighborCached() bool { return v.s.IsNeighborCached }

// UncachedStats extends CachedStats with recency, per spec.md §3. It
// represents a key this edge has observed missing but deems worth
// tracking for future admission.
type UncachedStats struct {
	CachedStats
	Recency uint64
}

func (s *UncachedStats) view() reward.Stats {
	return cachedStatsView{s: &s.CachedStats}
}

// CollectedPopularity is the uncached-side reward contribution an edge
// advertises to peers, piggy-backed on cooperation messages (spec.md §3).
type CollectedPopularity struct {
	IsTracked                bool
	LocalUncachedPopularity reward.Reward
}

// Tracker is the per-edge popularity store. vclock is a monotonic logical
// clock standing in for the "vtime" referenced throughout spec.md; it is
// bumped once per ObserveAccess call.
type Tracker struct {
	mu       sync.Mutex
	cached   map[string]*CachedStats
	uncached map[string]*UncachedStats
	collected map[string]map[keyspace.EdgeIndex]CollectedPopularity

	uncachedCap int
	weights     *reward.WeightCell
	fn          reward.Fn
	vclock      uint64
}

// NewTracker builds an empty tracker. uncachedCap bounds the
// tracked-but-not-cached table (spec.md §3's "bounded by a cap").
func NewTracker(uncachedCap int, weights *reward.WeightCell, fn reward.Fn) *Tracker {
	if fn == nil {
		fn = reward.Default
	}
	return &Tracker{
		cached:      make(map[string]*CachedStats),
		uncached:    make(map[string]*UncachedStats),
		collected:   make(map[string]map[keyspace.EdgeIndex]CollectedPopularity),
		uncachedCap: uncachedCap,
		weights:     weights,
		fn:          fn,
	}
}

func (t *Tracker) tick() uint64 {
	return atomic.AddUint64(&t.vclock, 1)
}

// ObserveAccess bumps frequency and vtime for key. If cached is false and
// the key is not already tracked uncached, it is inserted (subject to the
// uncached table's capacity, admitting via reward compare + LRU
// tie-break per spec.md §4.2).
func (t *Tracker) ObserveAccess(key keyspace.Key, cached bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := string(key)
	vt := t.tick()

	if cached {
		cs, ok := t.cached[ks]
		if !ok {
			cs = &CachedStats{}
			t.cached[ks] = cs
		}
		cs.freq++
		cs.vtime = vt
		return
	}

	us, ok := t.uncached[ks]
	if ok {
		us.freq++
		us.vtime = vt
		us.Recency = vt
		return
	}

	t.admitUncachedLocked(ks, &UncachedStats{
		CachedStats: CachedStats{freq: 1, vtime: vt},
		Recency:     vt,
	})
}

// admitUncachedLocked inserts a new uncached entry, evicting the
// lowest-reward (LRU tie-break) entry first if the table is at capacity.
// Caller must hold t.mu.
func (t *Tracker) admitUncachedLocked(ks string, us *UncachedStats) {
	if t.uncachedCap > 0 && len(t.uncached) >= t.uncachedCap {
		floorKey, floor := t.findUncachedFloorLocked()
		if floorKey != "" {
			w := t.weights.Load()
			newR := t.fn(w, us.view(), false)
			floorR := t.fn(w, floor.view(), false)
			if !reward.Less(floorR, newR, floor.vtime, us.vtime) {
				// The incoming candidate is not more valuable than the
				// current floor: do not admit it into the tracker.
				return
			}
			delete(t.uncached, floorKey)
		}
	}
	t.uncached[ks] = us
}

func (t *Tracker) findUncachedFloorLocked() (string, *UncachedStats) {
	var floorKey string
	var floor *UncachedStats
	w := t.weights.Load()
	for k, us := range t.uncached {
		if floor == nil {
			floorKey, floor = k, us
			continue
		}
		r1 := t.fn(w, us.view(), false)
		r2 := t.fn(w, floor.view(), false)
		if reward.Less(r1, r2, us.vtime, floor.vtime) {
			floorKey, floor = k, us
		}
	}
	return floorKey, floor
}

// OnAdmit moves key's stats (if tracked uncached) into the cached table,
// atomically with respect to this tracker's own maps. If key had no
// uncached record, a fresh CachedStats is created.
func (t *Tracker) OnAdmit(key keyspace.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := string(key)
	if us, ok := t.uncached[ks]; ok {
		delete(t.uncached, ks)
		cs := us.CachedStats
		t.cached[ks] = &cs
		return
	}
	if _, ok := t.cached[ks]; !ok {
		t.cached[ks] = &CachedStats{vtime: t.tick()}
	}
}

// OnEvict moves key's stats from the cached table into the uncached
// table (subject to uncached capacity), or drops them entirely if the
// uncached table rejects the candidate.
func (t *Tracker) OnEvict(key keyspace.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := string(key)
	cs, ok := t.cached[ks]
	if !ok {
		return
	}
	delete(t.cached, ks)
	t.admitUncachedLocked(ks, &UncachedStats{CachedStats: *cs, Recency: cs.vtime})
}

// CollectedPopularityFor returns this edge's current contribution for key,
// to be attached to an outgoing cooperation message.
func (t *Tracker) CollectedPopularityFor(key keyspace.Key) CollectedPopularity {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := string(key)
	if us, ok := t.uncached[ks]; ok {
		w := t.weights.Load()
		return CollectedPopularity{
			IsTracked:               true,
			LocalUncachedPopularity: t.fn(w, us.view(), false),
		}
	}
	return CollectedPopularity{}
}

// MergeCollected records a neighbor's contribution for key, used by the
// beacon when deciding placement.
func (t *Tracker) MergeCollected(key keyspace.Key, from keyspace.EdgeIndex, cp CollectedPopularity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := string(key)
	m, ok := t.collected[ks]
	if !ok {
		m = make(map[keyspace.EdgeIndex]CollectedPopularity)
		t.collected[ks] = m
	}
	m[from] = cp
}

// CollectedFor returns every neighbor contribution merged for key so far.
func (t *Tracker) CollectedFor(key keyspace.Key) map[keyspace.EdgeIndex]CollectedPopularity {
	t.mu.Lock()
	defer t.mu.Unlock()

	src := t.collected[string(key)]
	out := make(map[keyspace.EdgeIndex]CollectedPopularity, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SetNeighborCached records whether some other edge also holds a
// cooperative copy of key, the signal a metadata-update message carries
// (spec.md §4.6) and the only input that activates reward.Default's
// cooperative term for an already-cached key. A no-op if key is not
// presently in the cached table.
func (t *Tracker) SetNeighborCached(key keyspace.Key, neighborCached bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cs, ok := t.cached[string(key)]; ok {
		cs.IsNeighborCached = neighborCached
	}
}

// CachedSnapshot returns the reward for key if it is presently in the
// cached table, and whether it was found.
func (t *Tracker) CachedSnapshot(key keyspace.Key) (reward.Reward, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.cached[string(key)]
	if !ok {
		return 0, false
	}
	return t.fn(t.weights.Load(), cachedStatsView{s: cs}, true), true
}

// EpochTick halves every frequency in both tables, implementing the
// exponential decay epoch rollover from spec.md §4.2. Running it twice
// with no accesses in between halves the frequencies twice (testable
// property 5).
func (t *Tracker) EpochTick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cs := range t.cached {
		cs.freq /= 2
	}
	for _, us := range t.uncached {
		us.freq /= 2
	}
}

// Len returns the number of keys presently tracked cached and uncached,
// for instrumentation.
func (t *Tracker) Len() (cached, uncached int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cached), len(t.uncached)
}

// UncachedKeysByReward returns uncached keys ordered ascending by reward,
// for diagnostics and tests.
func (t *Tracker) UncachedKeysByReward() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type kv struct {
		k string
		r reward.Reward
		v uint64
	}
	w := t.weights.Load()
	items := make([]kv, 0, len(t.uncached))
	for k, us := range t.uncached {
		items = append(items, kv{k, t.fn(w, us.view(), false), us.vtime})
	}
	sort.Slice(items, func(i, j int) bool {
		return reward.Less(items[i].r, items[j].r, items[i].v, items[j].v)
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}
