// Package placement implements the admission/placement engine (spec.md
// §4.5): given a key's observed reward and the lowest reward known to be
// held anywhere in the cooperating edge set, decide whether to admit it
// locally, and if so which victims must first be evicted to make room.
package placement

import (
	"context"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/store"
	"github.com/dreamware/covered/internal/victim"
)

// Verdict is the admission/placement decision for one key.
type Verdict int

const (
	// Decline means the key's reward does not clear the global floor, or
	// the value can never fit even in an empty store: do not cache it.
	Decline Verdict = iota
	// Admit means the key should be stored locally, evicting the Victims
	// list first if necessary to make room.
	Admit
)

// Decision is the result of Engine.Decide.
type Decision struct {
	Verdict Verdict
	Reward  reward.Reward
	// Victims lists the local entries (lowest reward first) that must be
	// evicted, in order, to free enough room for the admitted value. Empty
	// if no eviction is needed.
	Victims []victim.Cacheinfo
}

// Engine implements the placement decision and the asynchronous admission
// that follows it. It never performs network I/O itself; callers
// (edgemanager) are responsible for notifying the beacon and neighbors
// once Admit has run.
type Engine struct {
	pop *popularity.Tracker
	vic *victim.Tracker
	st  store.LocalCacheStore

	weights *reward.WeightCell
	fn      reward.Fn

	workers chan struct{} // admission concurrency gate
}

// NewEngine builds a placement engine over the given trackers and local
// store. maxConcurrentAdmits bounds how many background Admit calls may run
// at once, so a burst of global misses can't spawn unbounded goroutines.
func NewEngine(pop *popularity.Tracker, vic *victim.Tracker, st store.LocalCacheStore, weights *reward.WeightCell, fn reward.Fn, maxConcurrentAdmits int) *Engine {
	if maxConcurrentAdmits < 1 {
		maxConcurrentAdmits = 1
	}
	return &Engine{
		pop:     pop,
		vic:     vic,
		st:      st,
		weights: weights,
		fn:      fn,
		workers: make(chan struct{}, maxConcurrentAdmits),
	}
}

// Decide implements spec.md §4.5 steps 1-4: compute the candidate's reward,
// compare it against the lowest reward held anywhere in the known
// cooperating set (the global floor), and if it clears that floor, select
// the local victims (if any) that eviction would need to remove to free
// valueSize bytes.
func (e *Engine) Decide(key keyspace.Key, valueSize uint32) Decision {
	candidateReward, cached := e.pop.CachedSnapshot(key)
	if !cached {
		// A key not yet admitted keeps its observed popularity in the
		// uncached table.
		candidateReward = e.pop.CollectedPopularityFor(key).LocalUncachedPopularity
	}

	floor, haveFloor := e.vic.Floor()
	if haveFloor && candidateReward <= floor {
		// candidateReward does not exceed the global floor: nothing
		// anywhere is a worse keep than this key would be, so admitting it
		// wouldn't actually improve the cooperating set's hit rate.
		return Decision{Verdict: Decline, Reward: candidateReward}
	}

	if uint64(valueSize) > e.st.Capacity() {
		return Decision{Verdict: Decline, Reward: candidateReward}
	}

	var victims []victim.Cacheinfo
	if bms, ok := e.st.(interface{ FreeBytes() uint64 }); ok {
		free := bms.FreeBytes()
		if free < uint64(valueSize) {
			victims = e.selectVictims(uint64(valueSize) - free)
		}
	}

	return Decision{Verdict: Admit, Reward: candidateReward, Victims: victims}
}

// selectVictims walks the local victim set in ascending-reward order,
// accumulating entries until their combined size covers need bytes.
func (e *Engine) selectVictims(need uint64) []victim.Cacheinfo {
	candidates := e.vic.LocalVictims(-1) // negative k: no truncation
	var out []victim.Cacheinfo
	var freed uint64
	for _, c := range candidates {
		if freed >= need {
			break
		}
		out = append(out, c)
		freed += uint64(c.SizeBytes)
	}
	return out
}

// Admit applies a Decision: evicts the listed victims, stores value, and
// updates the popularity/victim trackers. It runs off the engine's bounded
// worker pool so a burst of concurrent admissions can't overrun the store;
// callers that need synchronous completion should call AdmitSync instead.
func (e *Engine) Admit(ctx context.Context, key keyspace.Key, value []byte, decision Decision, vtime uint64, done func(error)) {
	select {
	case e.workers <- struct{}{}:
	case <-ctx.Done():
		if done != nil {
			done(ctx.Err())
		}
		return
	}

	go func() {
		defer func() { <-e.workers }()
		err := e.AdmitSync(key, value, decision, vtime)
		if done != nil {
			done(err)
		}
	}()
}

// AdmitSync performs the admission synchronously on the calling goroutine.
func (e *Engine) AdmitSync(key keyspace.Key, value []byte, decision Decision, vtime uint64) error {
	for _, v := range decision.Victims {
		if err := e.st.Delete(v.Key); err != nil {
			return err
		}
		e.pop.OnEvict(v.Key)
		e.vic.OnEvict(v.Key)
	}

	if err := e.st.Put(key, value); err != nil {
		return err
	}
	e.pop.OnAdmit(key)
	e.vic.OnAdmit(key, decision.Reward, vtime, uint32(len(value)))
	return nil
}
