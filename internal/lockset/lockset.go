// Package lockset implements the two-tier locking scheme required by
// spec.md §4.1: a striped, writer-preferring per-key reader/writer lock
// table, and a single process-wide metadata-set lock that guards
// iteration over all keys (popularity scans, victim-tracker rebuilds).
//
// Ordering rule: a caller that needs both locks must acquire the
// metadata-set lock first. The rule is kept by convention: per-key guards
// always come from PerKeyRwLockTable and MetadataReadGuard only releases the
// metadata-set hold, so the types do not reject the reverse order.
package lockset

import (
	"hash/fnv"
	"sync"
)

// Mode identifies which kind of hold a Guard represents.
type Mode int

const (
	Read Mode = iota
	Write
)

// stripe is a writer-preferring wrapper around sync.RWMutex. A plain
// RWMutex in Go is reader-preferring under sustained read load, which can
// starve writers; stripe adds a pending-writer counter so that once a
// writer is waiting, new readers queue behind it instead of continuing to
// pile in ahead of it.
type stripe struct {
	mu             sync.RWMutex
	pendingWriters sync.Mutex
	waitingWriters int
	readerGate     sync.Mutex
}

func (s *stripe) lockRead() {
	// Block new readers while a writer is waiting, without blocking the
	// writer itself on this gate.
	s.readerGate.Lock()
	s.readerGate.Unlock()
	s.mu.RLock()
}

func (s *stripe) unlockRead() {
	s.mu.RUnlock()
}

func (s *stripe) lockWrite() {
	s.pendingWriters.Lock()
	s.waitingWriters++
	if s.waitingWriters == 1 {
		s.readerGate.Lock()
	}
	s.pendingWriters.Unlock()

	s.mu.Lock()
}

func (s *stripe) unlockWrite() {
	s.mu.Unlock()

	s.pendingWriters.Lock()
	s.waitingWriters--
	if s.waitingWriters == 0 {
		s.readerGate.Unlock()
	}
	s.pendingWriters.Unlock()
}

// Guard represents a held per-key lock. Release is safe to call exactly
// once; callers typically `defer guard.Release()` immediately after
// acquisition so every exit path (including panics and early returns)
// releases the lock.
type Guard struct {
	stripe *stripe
	mode   Mode
	done   bool
}

// Release unlocks the held stripe. Calling Release twice is a programmer
// error and panics, since a double-release would corrupt the stripe's
// internal writer-waiting count.
func (g *Guard) Release() {
	if g.done {
		panic("lockset: guard released twice")
	}
	g.done = true
	if g.mode == Write {
		g.stripe.unlockWrite()
	} else {
		g.stripe.unlockRead()
	}
}

// PerKeyRwLockTable is a striped table of writer-preferring reader/writer
// locks keyed by object identity. Shard count is a tuning constant, not a
// correctness property: any power-of-two count produces the same
// semantics, only contention differs.
type PerKeyRwLockTable struct {
	stripes []stripe
	mask    uint32
}

// NewPerKeyRwLockTable builds a table with shardCount stripes, rounded up
// to the next power of two (minimum 1).
func NewPerKeyRwLockTable(shardCount int) *PerKeyRwLockTable {
	n := nextPow2(shardCount)
	return &PerKeyRwLockTable{
		stripes: make([]stripe, n),
		mask:    uint32(n - 1),
	}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *PerKeyRwLockTable) stripeFor(key []byte) *stripe {
	h := fnv.New32a()
	h.Write(key)
	return &t.stripes[h.Sum32()&t.mask]
}

// AcquireRead blocks until a read hold on key is granted. Multiple readers
// may hold the same key concurrently, unless a writer is waiting.
func (t *PerKeyRwLockTable) AcquireRead(key []byte) *Guard {
	s := t.stripeFor(key)
	s.lockRead()
	return &Guard{stripe: s, mode: Read}
}

// AcquireWrite blocks until exclusive access to key is granted. No lock
// upgrade is supported: a caller holding a read Guard must Release it and
// call AcquireWrite separately.
func (t *PerKeyRwLockTable) AcquireWrite(key []byte) *Guard {
	s := t.stripeFor(key)
	s.lockWrite()
	return &Guard{stripe: s, mode: Write}
}

// MetadataSetLock is the single process-wide lock guarding full-keyspace
// iteration (popularity epoch scans, victim-tracker rebuilds) against
// concurrent per-key writers.
type MetadataSetLock struct {
	mu sync.RWMutex
}

// MetadataReadGuard is held while scanning across all keys. Its only
// operation is Release; it does not hand out per-key guards, so a scan
// that also needs a per-key lock takes it from PerKeyRwLockTable after
// acquiring this guard.
type MetadataReadGuard struct {
	lock *MetadataSetLock
	done bool
}

// AcquireRead takes the metadata-set lock in reader mode, allowing
// concurrent metadata scans but excluding a concurrent metadata-set
// writer.
func (m *MetadataSetLock) AcquireRead() *MetadataReadGuard {
	m.mu.RLock()
	return &MetadataReadGuard{lock: m}
}

// Release releases the metadata-set read hold. Safe to call exactly once.
func (g *MetadataReadGuard) Release() {
	if g.done {
		panic("lockset: metadata read guard released twice")
	}
	g.done = true
	g.lock.mu.RUnlock()
}

// AcquireWrite takes the metadata-set lock in exclusive mode. Per §4.1,
// any per-key write lock acquired while this is held conflicts with other
// holders of the metadata-set lock in the standard reader-preferring
// pattern on the metadata-set side: callers must not hold this across I/O.
func (m *MetadataSetLock) AcquireWrite() func() {
	m.mu.Lock()
	released := false
	return func() {
		if released {
			panic("lockset: metadata write guard released twice")
		}
		released = true
		m.mu.Unlock()
	}
}
