// Package directory implements the beacon-side authoritative directory
// state machine (spec.md §4.4.1) and the non-beacon DirectoryCacher
// (§4.4.2). Every key has exactly one beacon edge, assigned by
// keyspace.Topology.BeaconFor; Table is only ever constructed and called
// on that edge for that key.
package directory

import (
	"sync"
	"time"

	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/victim"
)

// State is one of the four beacon-side directory states from spec.md
// §4.4.1.
type State int

const (
	StateAbsent State = iota
	StateCached
	StateCachedWriting
	StateAbsentWriting
)

// LockResult is the outcome of a write-lock acquisition attempt.
type LockResult int

const (
	Granted LockResult = iota
	Busy
)

// DirectoryInfo is the owner-edge pointer carried inside a valid entry
// (spec.md §3).
type DirectoryInfo struct {
	OwnerEdge keyspace.EdgeIndex
}

// entry is the beacon's full per-key record. cachedBy is the live set of
// edges presently holding a valid copy; owner is the edge that performed
// the first admission and is preserved across multi <-> single
// transitions per spec.md §4.4.1.
type entry struct {
	state State

	owner    keyspace.EdgeIndex
	hasOwner bool
	cachedBy map[keyspace.EdgeIndex]struct{}

	writeHolder   keyspace.EdgeIndex
	generation    uint64
	leaseDeadline time.Time
	invalidated   []keyspace.EdgeIndex // snapshot of cachedBy at the moment a write-lock was granted
}

func newEntry() *entry {
	return &entry{state: StateAbsent, cachedBy: make(map[keyspace.EdgeIndex]struct{})}
}

func (e *entry) multi() bool { return len(e.cachedBy) > 1 }

// MetadataUpdateRequired reports whether an admit/evict transition that
// changed multi from prevMulti to newMulti requires notifying the
// remaining caching edges, grounded on the original source's
// metadata_update_requirement helper (see SPEC_FULL.md §6): a
// notification is only needed when the multi-copy flag actually flips.
func MetadataUpdateRequired(prevMulti, newMulti bool) bool {
	return prevMulti != newMulti
}

// LookupResult is the response to a directory lookup (spec.md §4.6).
type LookupResult struct {
	IsBeingWritten bool
	Valid          bool
	Info           DirectoryInfo
	SyncsetBack    victim.Syncset
}

// AdmitResult is the response to a directory admit. EdgesetToNotify is a
// generalization of the minimal signature in spec.md §4.4.1 (listed with
// a trailing "…"): it names the edges that must receive a metadata-update
// message when this admission flips multi from false to true, since
// someone has to carry that edge list and Evict already does so
// symmetrically.
type AdmitResult struct {
	IsBeingWritten   bool
	IsNeighborCached bool
	EdgesetToNotify  []keyspace.EdgeIndex
	SyncsetBack      victim.Syncset
}

// EvictResult is the response to a directory evict.
type EvictResult struct {
	IsBeingWritten   bool
	EdgesetToNotify  []keyspace.EdgeIndex
	SyncsetBack      victim.Syncset
}

// AcquireWriteResult is the response to a write-lock acquisition.
type AcquireWriteResult struct {
	Result             LockResult
	CopiesToInvalidate []keyspace.EdgeIndex
	Generation         uint64
}

// ReleaseWriteResult is the response to a write-lock release.
type ReleaseWriteResult struct {
	Accepted      bool
	EdgesToNotify []keyspace.EdgeIndex
}

// Table is the beacon-side directory for the keys this edge owns. It
// embeds references to this edge's popularity and victim trackers because
// every beacon request piggy-backs collected popularity and/or a victim
// syncset in both directions (spec.md §4.6).
type Table struct {
	mu   sync.Mutex
	keys map[string]*entry

	pop    *popularity.Tracker
	vic    *victim.Tracker
	k      int // per_edge_synced_victim_count
	lease  time.Duration
}

// NewTable constructs a beacon directory table. k is the number of
// victims advertised per syncset; lease bounds how long a write-lock may
// be held before the beacon autonomously reclaims it.
func NewTable(pop *popularity.Tracker, vic *victim.Tracker, k int, lease time.Duration) *Table {
	return &Table{
		keys:  make(map[string]*entry),
		pop:   pop,
		vic:   vic,
		k:     k,
		lease: lease,
	}
}

func (t *Table) entryFor(key keyspace.Key) *entry {
	ks := string(key)
	e, ok := t.keys[ks]
	if !ok {
		e = newEntry()
		t.keys[ks] = e
	}
	return e
}

func (t *Table) syncsetBack() victim.Syncset {
	return t.vic.LocalVictims(t.k)
}

func (t *Table) absorb(key keyspace.Key, from keyspace.EdgeIndex, cp *popularity.CollectedPopularity, ss victim.Syncset) {
	if cp != nil {
		t.pop.MergeCollected(key, from, *cp)
	}
	if ss != nil {
		t.vic.Ingest(from, ss)
	}
}

// Lookup implements spec.md §4.4.1's lookup operation. A concurrent
// *Writing state returns IsBeingWritten=true, Valid=false; the caller
// must route to cloud or wait.
func (t *Table) Lookup(key keyspace.Key, from keyspace.EdgeIndex, cp *popularity.CollectedPopularity, ss victim.Syncset) LookupResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.absorb(key, from, cp, ss)
	e := t.entryFor(key)

	switch e.state {
	case StateCachedWriting, StateAbsentWriting:
		return LookupResult{IsBeingWritten: true, SyncsetBack: t.syncsetBack()}
	case StateCached:
		return LookupResult{Valid: true, Info: DirectoryInfo{OwnerEdge: e.owner}, SyncsetBack: t.syncsetBack()}
	default: // StateAbsent
		return LookupResult{Valid: false, SyncsetBack: t.syncsetBack()}
	}
}

// Admit implements spec.md §4.4.1's admit operation. Idempotent per
// (key, from): re-admitting an edge already in cachedBy changes nothing.
func (t *Table) Admit(key keyspace.Key, from keyspace.EdgeIndex, cp *popularity.CollectedPopularity, ss victim.Syncset) AdmitResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.absorb(key, from, cp, ss)
	e := t.entryFor(key)

	if e.state == StateCachedWriting || e.state == StateAbsentWriting {
		return AdmitResult{IsBeingWritten: true, SyncsetBack: t.syncsetBack()}
	}

	if _, already := e.cachedBy[from]; already {
		return AdmitResult{IsNeighborCached: e.multi(), SyncsetBack: t.syncsetBack()}
	}

	prevMulti := e.multi()
	e.cachedBy[from] = struct{}{}
	if !e.hasOwner {
		e.owner = from
		e.hasOwner = true
	}
	e.state = StateCached

	result := AdmitResult{IsNeighborCached: e.multi(), SyncsetBack: t.syncsetBack()}
	if MetadataUpdateRequired(prevMulti, e.multi()) {
		for edge := range e.cachedBy {
			result.EdgesetToNotify = append(result.EdgesetToNotify, edge)
		}
	}
	return result
}

// Evict implements spec.md §4.4.1's evict operation, returning the set of
// edges that must receive a metadata-update notification because multi
// toggled.
func (t *Table) Evict(key keyspace.Key, from keyspace.EdgeIndex, ss victim.Syncset) EvictResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.absorb(key, from, nil, ss)
	e := t.entryFor(key)

	if e.state == StateCachedWriting || e.state == StateAbsentWriting {
		return EvictResult{IsBeingWritten: true, SyncsetBack: t.syncsetBack()}
	}
	if _, present := e.cachedBy[from]; !present {
		// Idempotent replay of an already-applied evict: no-op.
		return EvictResult{SyncsetBack: t.syncsetBack()}
	}

	prevMulti := e.multi()
	delete(e.cachedBy, from)
	if e.hasOwner && e.owner == from {
		// Owner left; promote any remaining edge to owner, preserving the
		// "owner remains stable unless it evicts" rule as closely as
		// possible while keeping the state machine well-defined.
		e.hasOwner = false
		for remaining := range e.cachedBy {
			e.owner = remaining
			e.hasOwner = true
			break
		}
	}

	var notify []keyspace.EdgeIndex
	if len(e.cachedBy) == 0 {
		e.state = StateAbsent
	} else {
		e.state = StateCached
		if MetadataUpdateRequired(prevMulti, e.multi()) {
			for edge := range e.cachedBy {
				notify = append(notify, edge)
			}
		}
	}

	return EvictResult{EdgesetToNotify: notify, SyncsetBack: t.syncsetBack()}
}

// AcquireWrite implements spec.md §4.4.1's write-lock acquisition.
// Concurrent acquire requests from different edges are serialized by the
// beacon's own mutex; the loser receives Busy.
func (t *Table) AcquireWrite(key keyspace.Key, from keyspace.EdgeIndex) AcquireWriteResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryFor(key)

	switch e.state {
	case StateCachedWriting, StateAbsentWriting:
		if e.writeHolder == from {
			// Idempotent reacquire by the current holder.
			return AcquireWriteResult{Result: Granted, Generation: e.generation}
		}
		return AcquireWriteResult{Result: Busy}
	case StateCached:
		copies := make([]keyspace.EdgeIndex, 0, len(e.cachedBy))
		for edge := range e.cachedBy {
			copies = append(copies, edge)
		}
		e.invalidated = copies
		e.cachedBy = make(map[keyspace.EdgeIndex]struct{})
		e.state = StateCachedWriting
		e.writeHolder = from
		e.generation++
		e.leaseDeadline = time.Now().Add(t.lease)
		return AcquireWriteResult{Result: Granted, CopiesToInvalidate: copies, Generation: e.generation}
	default: // StateAbsent
		e.state = StateAbsentWriting
		e.writeHolder = from
		e.generation++
		e.leaseDeadline = time.Now().Add(t.lease)
		return AcquireWriteResult{Result: Granted, Generation: e.generation}
	}
}

// ReleaseWrite implements spec.md §4.4.1's write-lock release. A release
// from a non-holder, or carrying a stale generation, is treated as a
// protocol invariant violation per spec.md §7: it is rejected as a no-op,
// never a crash.
func (t *Table) ReleaseWrite(key keyspace.Key, from keyspace.EdgeIndex, generation uint64, producedValue bool) ReleaseWriteResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryFor(key)
	if (e.state != StateCachedWriting && e.state != StateAbsentWriting) ||
		e.writeHolder != from || e.generation != generation {
		return ReleaseWriteResult{Accepted: false}
	}

	notify := e.invalidated
	e.invalidated = nil

	if producedValue {
		e.state = StateCached
		e.cachedBy = map[keyspace.EdgeIndex]struct{}{from: {}}
		e.owner = from
		e.hasOwner = true
	} else {
		e.state = StateAbsent
		e.cachedBy = make(map[keyspace.EdgeIndex]struct{})
		e.hasOwner = false
	}

	return ReleaseWriteResult{Accepted: true, EdgesToNotify: notify}
}

// ReapExpiredLeases force-releases every write-lock whose lease deadline
// has passed as of now, returning the keys reclaimed and, per key, the
// edges that must receive finish-block (spec.md §5). It never blocks on
// I/O while holding the table lock; callers dispatch finish-block
// messages after this call returns.
func (t *Table) ReapExpiredLeases(now time.Time) map[string][]keyspace.EdgeIndex {
	t.mu.Lock()
	defer t.mu.Unlock()

	reclaimed := make(map[string][]keyspace.EdgeIndex)
	for ks, e := range t.keys {
		if (e.state != StateCachedWriting && e.state != StateAbsentWriting) || e.leaseDeadline.IsZero() {
			continue
		}
		if now.Before(e.leaseDeadline) {
			continue
		}
		reclaimed[ks] = e.invalidated
		e.invalidated = nil
		e.state = StateAbsent
		e.cachedBy = make(map[keyspace.EdgeIndex]struct{})
		e.hasOwner = false
	}
	return reclaimed
}

// Snapshot returns the current externally-visible state for a key,
// primarily for tests and instrumentation.
func (t *Table) Snapshot(key keyspace.Key) (state State, info DirectoryInfo, multi bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.keys[string(key)]
	if !ok {
		return StateAbsent, DirectoryInfo{}, false
	}
	return e.state, DirectoryInfo{OwnerEdge: e.owner}, e.multi()
}
