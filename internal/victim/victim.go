// Package victim maintains, for one edge, the set of currently-cached keys
// ordered by reward ascending, and exchanges the lowest-reward k of them
// (a VictimSyncset) with neighbors on every cooperation round.
//
// Per the design decision in spec.md §4.3: a neighbor's advertised victims
// are trusted for ordering only. This edge never evicts a key because a
// neighbor's snapshot says so; it only uses neighbor snapshots to compute
// a globally-coherent reward floor for admission decisions in placement.
package victim

import (
	"sort"
	"sync"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/reward"
)

// Cacheinfo is one entry of a VictimSyncset (spec.md §3 VictimCacheinfo).
type Cacheinfo struct {
	Key       keyspace.Key
	Reward    reward.Reward
	LastVTime uint64
	SizeBytes uint32
}

// Syncset is an ordered, at-most-k sequence of Cacheinfo: ascending
// reward, ties by ascending vtime. Once constructed it must be treated as
// immutable and shared by value (Design Note: "victim-set passed by
// reference across threads" is re-architected by simply never handing out
// a pointer to a producer's live buffer).
type Syncset []Cacheinfo

// Equal reports whether two syncsets contain the same entries in the
// same order.
func (s Syncset) Equal(o Syncset) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		a, b := s[i], o[i]
		if a.Reward != b.Reward || a.LastVTime != b.LastVTime || a.SizeBytes != b.SizeBytes {
			return false
		}
		if string(a.Key) != string(b.Key) {
			return false
		}
	}
	return true
}

func sortSyncset(s Syncset) {
	sort.Slice(s, func(i, j int) bool {
		return reward.Less(s[i].Reward, s[j].Reward, s[i].LastVTime, s[j].LastVTime)
	})
}

// entry is the tracker's live record for one cached key.
type entry struct {
	key    keyspace.Key
	reward reward.Reward
	vtime  uint64
	size   uint32
}

// Tracker holds this edge's live cached-key set ordered by reward, plus
// the most recent snapshot received from each neighbor.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	neighbors map[keyspace.EdgeIndex]Syncset
}

// NewTracker builds an empty victim tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries:   make(map[string]*entry),
		neighbors: make(map[keyspace.EdgeIndex]Syncset),
	}
}

// OnAdmit registers (or updates) a newly-cached key's position.
func (t *Tracker) OnAdmit(key keyspace.Key, r reward.Reward, vtime uint64, size uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[string(key)] = &entry{key: key, reward: r, vtime: vtime, size: size}
}

// OnAccess updates an already-cached key's reward/vtime after an access.
func (t *Tracker) OnAccess(key keyspace.Key, r reward.Reward, vtime uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[string(key)]; ok {
		e.reward = r
		e.vtime = vtime
	}
}

// OnEvict removes key from the live set.
func (t *Tracker) OnEvict(key keyspace.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, string(key))
}

// Len returns the number of live cached keys tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// LocalVictims returns the lowest-reward k entries from this edge's live
// set, sorted ascending reward then ascending vtime.
func (t *Tracker) LocalVictims(k int) Syncset {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(Syncset, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Cacheinfo{Key: e.key, Reward: e.reward, LastVTime: e.vtime, SizeBytes: e.size})
	}
	sortSyncset(out)
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Ingest stores the latest snapshot received from a neighbor, overwriting
// any prior snapshot for that edge. Receiving the same snapshot twice is a
// no-op by construction (the new value simply equals the old).
func (t *Tracker) Ingest(from keyspace.EdgeIndex, ss Syncset) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make(Syncset, len(ss))
	copy(cp, ss)
	t.neighbors[from] = cp
}

// GlobalCandidates merges this edge's live victims with every ingested
// neighbor snapshot into one ascending view. The result must never be
// used to evict a neighbor's entry directly — only to compute a reward
// floor (spec.md §4.3's pertinent design decision).
func (t *Tracker) GlobalCandidates() []Cacheinfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Cacheinfo, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Cacheinfo{Key: e.key, Reward: e.reward, LastVTime: e.vtime, SizeBytes: e.size})
	}
	for _, ss := range t.neighbors {
		out = append(out, ss...)
	}
	sort.Slice(out, func(i, j int) bool {
		return reward.Less(out[i].Reward, out[j].Reward, out[i].LastVTime, out[j].LastVTime)
	})
	return out
}

// Floor returns the lowest reward among global candidates, and whether
// any candidate exists at all (an empty view has no floor, and placement
// should treat that as "always admit").
func (t *Tracker) Floor() (reward.Reward, bool) {
	candidates := t.GlobalCandidates()
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[0].Reward, true
}
