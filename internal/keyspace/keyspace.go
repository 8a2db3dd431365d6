// Package keyspace defines the identity primitives shared by every
// subsystem of the cooperative cache manager: the opaque object Key, the
// static edge topology, and the deterministic beacon assignment that maps
// a key to the single edge that owns its directory entry.
package keyspace

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// Key is an opaque byte string identifying a cached object. Equality is
// byte-for-byte; Key is never mutated after construction by any subsystem.
type Key []byte

// String renders a short hex form of the key for logging. It is never used
// for identity comparisons.
func (k Key) String() string {
	if len(k) > 8 {
		return hex.EncodeToString(k[:8]) + "..."
	}
	return hex.EncodeToString(k)
}

// EdgeIndex identifies an edge node within [0, N).
type EdgeIndex int

// EdgeAddr pairs an edge index with its reachable network address.
type EdgeAddr struct {
	Index EdgeIndex
	Addr  string
}

// Topology is the static, init-time-known mapping of the full edge set.
// It never changes at runtime; an implementer that needs dynamic
// membership would replace this type, not mutate it in place.
type Topology struct {
	edges []EdgeAddr
}

// NewTopology builds a Topology from an ordered edge list. The slice index
// of an entry is not assumed to equal its Index field; BeaconFor and
// AddrOf both use the declared Index.
func NewTopology(edges []EdgeAddr) (*Topology, error) {
	if len(edges) == 0 {
		return nil, fmt.Errorf("keyspace: topology must declare at least one edge")
	}
	byIndex := make(map[EdgeIndex]bool, len(edges))
	for _, e := range edges {
		if byIndex[e.Index] {
			return nil, fmt.Errorf("keyspace: duplicate edge index %d", e.Index)
		}
		byIndex[e.Index] = true
	}
	cp := make([]EdgeAddr, len(edges))
	copy(cp, edges)
	return &Topology{edges: cp}, nil
}

// N returns the number of edges in the topology.
func (t *Topology) N() int { return len(t.edges) }

// Edges returns a copy of the declared edge set.
func (t *Topology) Edges() []EdgeAddr {
	cp := make([]EdgeAddr, len(t.edges))
	copy(cp, t.edges)
	return cp
}

// AddrOf returns the network address for an edge index, or false if the
// index is not part of the topology.
func (t *Topology) AddrOf(idx EdgeIndex) (string, bool) {
	for _, e := range t.edges {
		if e.Index == idx {
			return e.Addr, true
		}
	}
	return "", false
}

// BeaconFor deterministically assigns the beacon edge for a key via a
// stable hash mod N. The hash function (FNV-1a) and the modulus are the
// only two things that must stay fixed across the topology's lifetime;
// changing N reshuffles beacon ownership for every key, mirroring
// OwnsKey's consistent-hashing contract in a conventional sharded store.
func (t *Topology) BeaconFor(key Key) EdgeIndex {
	h := fnv.New32a()
	h.Write(key)
	return t.edges[int(h.Sum32())%len(t.edges)].Index
}
