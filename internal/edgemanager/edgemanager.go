// Package edgemanager wires every other internal package into one running
// edge: the client-facing GET/PUT/DEL API, the beacon-side directory table
// for the keys this edge is beacon for, the placement/admission engine,
// and the background maintenance that keeps popularity, victims, and
// write-lock leases from drifting. It plays the role torua's cmd/node's
// Node type plays for shard lifecycle, generalized to COVERED's
// cooperative-cache operations.
package edgemanager

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/covered/internal/cloud"
	"github.com/dreamware/covered/internal/directory"
	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/lockset"
	"github.com/dreamware/covered/internal/metrics"
	"github.com/dreamware/covered/internal/placement"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/protocol"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/store"
	"github.com/dreamware/covered/internal/transport"
	"github.com/dreamware/covered/internal/victim"
)

// HitKind mirrors protocol.HitKind, re-exported so callers of Get don't
// need to import protocol just to interpret the result.
type HitKind = protocol.HitKind

const (
	HitLocal           = protocol.HitLocal
	HitCooperative     = protocol.HitCooperative
	HitCooperativeMiss = protocol.HitCooperativeInvalid
	HitGlobalMiss      = protocol.HitGlobalMiss
)

// Manager runs one edge's full cooperative-cache surface.
type Manager struct {
	self     keyspace.EdgeIndex
	topology *keyspace.Topology

	locks *lockset.PerKeyRwLockTable

	pop *popularity.Tracker
	vic *victim.Tracker
	dir *directory.Table
	cac *directory.Cacher

	local store.LocalCacheStore
	cloud cloud.Store

	place *placement.Engine
	pool  *transport.Pool

	cloudFlight singleflight.Group
	vclock      uint64

	metrics *metrics.Metrics
	log     *zap.Logger

	requestTimeout time.Duration
	syncedVictims  int
}

// Config bundles the pieces Manager needs beyond the ones it constructs
// internally (trackers, directory table).
type Config struct {
	Self           keyspace.EdgeIndex
	Topology       *keyspace.Topology
	Local          store.LocalCacheStore
	Cloud          cloud.Store
	Weights        *reward.WeightCell
	RewardFn       reward.Fn
	UncachedCap    int
	SyncedVictims  int
	WriteLease     time.Duration
	RequestTimeout time.Duration
	MaxAdmits      int
	Metrics        *metrics.Metrics
	Log            *zap.Logger
}

// New assembles a Manager from Config, constructing the popularity,
// victim, and directory layers this edge owns.
func New(cfg Config) *Manager {
	pop := popularity.NewTracker(cfg.UncachedCap, cfg.Weights, cfg.RewardFn)
	vic := victim.NewTracker()
	dir := directory.NewTable(pop, vic, cfg.SyncedVictims, cfg.WriteLease)
	cac := directory.NewCacher(cfg.UncachedCap)
	place := placement.NewEngine(pop, vic, cfg.Local, cfg.Weights, cfg.RewardFn, cfg.MaxAdmits)

	return &Manager{
		self:           cfg.Self,
		topology:       cfg.Topology,
		locks:          lockset.NewPerKeyRwLockTable(256),
		pop:            pop,
		vic:            vic,
		dir:            dir,
		cac:            cac,
		local:          cfg.Local,
		cloud:          cfg.Cloud,
		place:          place,
		pool:           transport.NewPool(cfg.Log),
		metrics:        cfg.Metrics,
		log:            cfg.Log,
		requestTimeout: cfg.RequestTimeout,
		syncedVictims:  cfg.SyncedVictims,
	}
}

func (m *Manager) tick() uint64 { return atomic.AddUint64(&m.vclock, 1) }

func (m *Manager) isBeacon(key keyspace.Key) bool {
	return m.topology.BeaconFor(key) == m.self
}

func (m *Manager) addrOf(edge keyspace.EdgeIndex) (string, bool) {
	return m.topology.AddrOf(edge)
}

// Get implements the cooperative GET path (spec.md §4.1): local hit, then
// cooperative hit via the beacon directory (local or remote), then a
// cloud fetch with placement-directed admission on a global miss.
func (m *Manager) Get(ctx context.Context, key keyspace.Key) ([]byte, HitKind, error) {
	guard := m.locks.AcquireRead(key)
	defer guard.Release()

	if v, err := m.local.Get(key); err == nil {
		m.pop.ObserveAccess(key, true)
		m.vic.OnAccess(key, m.currentReward(key), m.tick())
		m.recordHit("local")
		return v, HitLocal, nil
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, 0, err
	}

	m.pop.ObserveAccess(key, false)

	coopInvalid := false
	owner, ok := m.lookupOwner(ctx, key)
	if ok {
		v, err := m.fetchFromOwner(ctx, owner, key)
		if err == nil {
			m.recordHit("cooperative")
			m.maybeAdmit(ctx, key, v)
			return v, HitCooperative, nil
		}
		if errors.Is(err, store.ErrKeyNotFound) {
			// The beacon's directory said owner held a valid copy, but it
			// doesn't: the entry was evicted or invalidated after the
			// directory answered and before this request reached owner.
			coopInvalid = true
		}
		m.log.Warn("edgemanager: cooperative fetch failed, falling back to cloud",
			zap.Uint32("owner", uint32(owner)), zap.Error(err))
	}

	v, err := m.fetchFromCloud(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if m.metrics != nil {
		m.metrics.CacheMisses.Inc()
	}
	m.maybeAdmit(ctx, key, v)
	if coopInvalid {
		m.recordHit("cooperative_invalid")
		return v, HitCooperativeMiss, nil
	}
	return v, HitGlobalMiss, nil
}

func (m *Manager) currentReward(key keyspace.Key) reward.Reward {
	r, _ := m.pop.CachedSnapshot(key)
	return r
}

func (m *Manager) recordHit(kind string) {
	if m.metrics != nil {
		m.metrics.CacheHits.WithLabelValues(kind).Inc()
	}
}

// lookupOwner resolves the beacon's current DirectoryInfo for key, dialing
// the beacon over the network unless this edge is beacon for key itself.
func (m *Manager) lookupOwner(ctx context.Context, key keyspace.Key) (keyspace.EdgeIndex, bool) {
	if m.isBeacon(key) {
		res := m.dir.Lookup(key, m.self, nil, nil)
		if res.IsBeingWritten || !res.Valid {
			return 0, false
		}
		return res.Info.OwnerEdge, true
	}

	beacon := m.topology.BeaconFor(key)
	addr, ok := m.addrOf(beacon)
	if !ok {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	cp := m.pop.CollectedPopularityFor(key)
	reply, err := m.pool.Request(ctx, addr, protocol.DirectoryLookupRequest{
		Header:     protocol.Header{SourceIndex: m.self},
		Key:        []byte(key),
		Collected:  protocol.CollectedFromPopularity(cp),
		HasCollect: cp.IsTracked,
		Syncset:    protocol.VictimsFromSyncset(m.vic.LocalVictims(m.syncedVictims)),
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.TransportTimeouts.Inc()
		}
		return 0, false
	}
	resp, ok := reply.(protocol.DirectoryLookupResponse)
	if !ok || resp.IsBeingWritten || !resp.Valid {
		if resp.IsBeingWritten && m.metrics != nil {
			m.metrics.DirectoryBusy.Inc()
		}
		return 0, false
	}
	m.cac.Insert(key, directory.DirectoryInfo{OwnerEdge: resp.Info.OwnerEdge})
	return resp.Info.OwnerEdge, true
}

// fetchFromOwner retrieves key's bytes from the edge the directory names
// as owner. If owner is this edge (can happen transiently after a
// concurrent eviction raced the directory answer), this is itself a miss.
func (m *Manager) fetchFromOwner(ctx context.Context, owner keyspace.EdgeIndex, key keyspace.Key) ([]byte, error) {
	if owner == m.self {
		return nil, store.ErrKeyNotFound
	}
	addr, ok := m.addrOf(owner)
	if !ok {
		return nil, errors.New("edgemanager: unknown peer address")
	}

	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	reply, err := m.pool.Request(ctx, addr, protocol.LocalGetRequest{
		Header: protocol.Header{SourceIndex: m.self},
		Key:    []byte(key),
	})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(protocol.LocalGetResponse)
	if !ok || !resp.Found {
		return nil, store.ErrKeyNotFound
	}
	return resp.Value, nil
}

// fetchFromCloud retrieves key from the backing store, de-duplicating
// concurrent fetches for the same key via singleflight so a thundering
// herd of misses on a newly-hot key produces one cloud round trip.
func (m *Manager) fetchFromCloud(ctx context.Context, key keyspace.Key) ([]byte, error) {
	v, err, _ := m.cloudFlight.Do(string(key), func() (any, error) {
		return m.cloud.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// maybeAdmit asks the placement engine whether key clears the local
// admission bar and, if so, admits it asynchronously and notifies this
// edge's beacon of the new copy once the admit lands. Used on the GET
// cache-fill path, where the caller already has its answer and shouldn't
// wait on a local store write or an eviction cascade.
func (m *Manager) maybeAdmit(ctx context.Context, key keyspace.Key, value []byte) {
	decision := m.place.Decide(key, uint32(len(value)))
	if decision.Verdict != placement.Admit {
		return
	}
	vt := m.tick()
	m.place.Admit(ctx, key, value, decision, vt, func(err error) {
		if err != nil {
			m.log.Warn("edgemanager: background admit failed", zap.Error(err))
			return
		}
		m.notifyBeaconAdmit(ctx, key)
	})
}

// maybeAdmitSync is maybeAdmit's synchronous twin, used on the PUT path: a
// writer expects its own write to be visible to an immediately-following
// local GET, so admission can't be left to run on the background worker
// pool the way a cooperative cache-fill can.
func (m *Manager) maybeAdmitSync(ctx context.Context, key keyspace.Key, value []byte) {
	decision := m.place.Decide(key, uint32(len(value)))
	if decision.Verdict != placement.Admit {
		return
	}
	if err := m.place.AdmitSync(key, value, decision, m.tick()); err != nil {
		m.log.Warn("edgemanager: admit failed", zap.Error(err))
		return
	}
	m.notifyBeaconAdmit(ctx, key)
}

// notifyBeaconAdmit tells this key's beacon that this edge now holds a
// cooperative copy, records the neighbor-cached signal the beacon hands
// back for this edge's own stats, and relays a metadata-update to every
// other edge the beacon names when the admission flips the key's
// multi-copy flag (spec.md §4.4.1, §4.6).
func (m *Manager) notifyBeaconAdmit(ctx context.Context, key keyspace.Key) {
	if m.isBeacon(key) {
		res := m.dir.Admit(key, m.self, nil, m.vic.LocalVictims(m.syncedVictims))
		m.pop.SetNeighborCached(key, res.IsNeighborCached)
		m.sendMetadataUpdates(ctx, key, res.EdgesetToNotify, res.IsNeighborCached)
		return
	}
	beacon := m.topology.BeaconFor(key)
	addr, ok := m.addrOf(beacon)
	if !ok {
		return
	}
	cp := m.pop.CollectedPopularityFor(key)
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	reply, err := m.pool.Request(reqCtx, addr, protocol.DirectoryAdmitRequest{
		Header:     protocol.Header{SourceIndex: m.self},
		Key:        []byte(key),
		Collected:  protocol.CollectedFromPopularity(cp),
		HasCollect: cp.IsTracked,
		Syncset:    protocol.VictimsFromSyncset(m.vic.LocalVictims(m.syncedVictims)),
	})
	cancel()
	if err != nil {
		return
	}
	resp, ok := reply.(protocol.DirectoryAdmitResponse)
	if !ok {
		return
	}
	m.pop.SetNeighborCached(key, resp.IsNeighborCached)
	m.sendMetadataUpdates(ctx, key, resp.EdgesetToNotify, resp.IsNeighborCached)
}

// sendMetadataUpdates delivers the beacon's "multi flipped" signal to
// every edge in edges other than this one (spec.md §4.6's metadata-update
// message), so each keeps its own IsNeighborCached bit in sync with the
// beacon's authoritative view.
func (m *Manager) sendMetadataUpdates(ctx context.Context, key keyspace.Key, edges []keyspace.EdgeIndex, neighborCached bool) {
	for _, edge := range edges {
		if edge == m.self {
			continue
		}
		addr, ok := m.addrOf(edge)
		if !ok {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		m.pool.Request(reqCtx, addr, protocol.MetadataUpdateRequest{
			Header:           protocol.Header{SourceIndex: m.self},
			Key:              []byte(key),
			IsNeighborCached: neighborCached,
		})
		cancel()
	}
}

// Put writes value for key: it acquires the key's write lock, invalidates
// every cooperative copy the beacon reported off that acquisition (before
// touching the cloud store, so no copy-holding edge can serve a stale
// local hit once the lock is held), commits straight to the cloud backing
// store (the single authoritative copy), releases the lock, then offers
// the new value for synchronous local admission, which the placement
// engine declines when the key's reward does not clear the floor.
func (m *Manager) Put(ctx context.Context, key keyspace.Key, value []byte) error {
	guard := m.locks.AcquireWrite(key)
	defer guard.Release()

	generation, copies, err := m.acquireWriteLock(ctx, key)
	if err != nil {
		return err
	}
	m.invalidateCopies(ctx, key, copies)

	if err := m.cloud.Put(ctx, key, value); err != nil {
		m.releaseWriteLock(ctx, key, generation, false)
		return err
	}

	m.releaseWriteLock(ctx, key, generation, true)
	m.maybeAdmitSync(ctx, key, value)
	return nil
}

// Delete removes key everywhere this edge can reach: the cloud backing
// store, this edge's local copy, and (via the beacon) every cooperative
// copy.
func (m *Manager) Delete(ctx context.Context, key keyspace.Key) error {
	guard := m.locks.AcquireWrite(key)
	defer guard.Release()

	generation, copies, err := m.acquireWriteLock(ctx, key)
	if err != nil {
		return err
	}
	m.invalidateCopies(ctx, key, copies)

	err = m.cloud.Delete(ctx, key)
	m.releaseWriteLock(ctx, key, generation, false)
	if err != nil {
		return err
	}

	m.local.Delete(key)
	m.pop.OnEvict(key)
	m.vic.OnEvict(key)
	m.notifyBeaconEvict(ctx, key)
	return nil
}

// notifyBeaconEvict tells this key's beacon that this edge dropped its
// copy and relays a metadata-update to every edge the beacon names when
// the eviction flips the key's multi-copy flag back to false.
func (m *Manager) notifyBeaconEvict(ctx context.Context, key keyspace.Key) {
	if m.isBeacon(key) {
		res := m.dir.Evict(key, m.self, m.vic.LocalVictims(m.syncedVictims))
		m.sendMetadataUpdates(ctx, key, res.EdgesetToNotify, false)
		return
	}
	beacon := m.topology.BeaconFor(key)
	addr, ok := m.addrOf(beacon)
	if !ok {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	reply, err := m.pool.Request(reqCtx, addr, protocol.DirectoryEvictRequest{
		Header:  protocol.Header{SourceIndex: m.self},
		Key:     []byte(key),
		Syncset: protocol.VictimsFromSyncset(m.vic.LocalVictims(m.syncedVictims)),
	})
	cancel()
	if err != nil {
		return
	}
	if resp, ok := reply.(protocol.DirectoryEvictResponse); ok {
		m.sendMetadataUpdates(ctx, key, resp.EdgesetToNotify, false)
	}
}

// acquireWriteLock acquires key's write lock at its beacon and returns the
// edges the beacon reported as holding a now-stale copy at the moment the
// lock was granted, so the caller can invalidate them before touching the
// cloud store (spec.md §4.7: invalidate, then apply to cloud, then
// release).
func (m *Manager) acquireWriteLock(ctx context.Context, key keyspace.Key) (uint64, []keyspace.EdgeIndex, error) {
	if m.isBeacon(key) {
		res := m.dir.AcquireWrite(key, m.self)
		if res.Result != directory.Granted {
			if m.metrics != nil {
				m.metrics.WritelockBusy.Inc()
			}
			return 0, nil, errors.New("edgemanager: write lock busy")
		}
		return res.Generation, res.CopiesToInvalidate, nil
	}

	beacon := m.topology.BeaconFor(key)
	addr, ok := m.addrOf(beacon)
	if !ok {
		return 0, nil, errors.New("edgemanager: unknown beacon address")
	}
	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	reply, err := m.pool.Request(ctx, addr, protocol.AcquireWritelockRequest{
		Header: protocol.Header{SourceIndex: m.self},
		Key:    []byte(key),
	})
	if err != nil {
		return 0, nil, err
	}
	resp, ok := reply.(protocol.AcquireWritelockResponse)
	if !ok || !resp.Granted {
		if m.metrics != nil {
			m.metrics.WritelockBusy.Inc()
		}
		return 0, nil, errors.New("edgemanager: write lock busy")
	}
	return resp.Generation, resp.CopiesToInvalidate, nil
}

// releaseWriteLock releases key's write lock at its beacon. The edges
// holding a stale copy were already invalidated off the acquire response
// (see acquireWriteLock); release only needs to flip the beacon's state
// and hand the lock back.
func (m *Manager) releaseWriteLock(ctx context.Context, key keyspace.Key, generation uint64, produced bool) {
	if m.isBeacon(key) {
		m.dir.ReleaseWrite(key, m.self, generation, produced)
		return
	}
	beacon := m.topology.BeaconFor(key)
	addr, ok := m.addrOf(beacon)
	if !ok {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	m.pool.Request(reqCtx, addr, protocol.ReleaseWritelockRequest{
		Header:        protocol.Header{SourceIndex: m.self},
		Key:           []byte(key),
		Generation:    generation,
		ProducedValue: produced,
	})
}

// invalidateCopies tells every edge in edges (other than this one) to
// drop its cooperative copy of key.
func (m *Manager) invalidateCopies(ctx context.Context, key keyspace.Key, edges []keyspace.EdgeIndex) {
	for _, edge := range edges {
		if edge == m.self {
			m.local.Delete(key)
			m.pop.OnEvict(key)
			m.vic.OnEvict(key)
			continue
		}
		addr, ok := m.addrOf(edge)
		if !ok {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		m.pool.Request(reqCtx, addr, protocol.InvalidationRequest{
			Header: protocol.Header{SourceIndex: m.self},
			Key:    []byte(key),
		})
		cancel()
	}
}
