package edgemanager

import (
	"context"
	"time"
)

// RunMaintenance drives the background upkeep this edge needs regardless
// of client traffic: popularity decay, write-lock lease reclamation, and
// directory/victim gauge reporting. It blocks until ctx is cancelled, and
// is meant to run in its own goroutine from cmd/edge.
func (m *Manager) RunMaintenance(ctx context.Context, epochInterval, leaseReapInterval time.Duration) {
	epochTicker := time.NewTicker(epochInterval)
	defer epochTicker.Stop()
	leaseTicker := time.NewTicker(leaseReapInterval)
	defer leaseTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-epochTicker.C:
			m.pop.EpochTick()
			m.reportGauges()
		case <-leaseTicker.C:
			m.reapLeases()
		}
	}
}

func (m *Manager) reportGauges() {
	if m.metrics == nil {
		return
	}
	cached, _ := m.pop.Len()
	m.metrics.DirectoryEntries.Set(float64(cached))
	m.metrics.VictimSetSize.Set(float64(m.vic.Len()))
}

// reapLeases forces the release of any write lock this edge's beacon
// table has held past its lease deadline, notifying the edges that had a
// copy invalidated so they can drop their stale invalidation state
// (spec.md §5's finish-block message).
func (m *Manager) reapLeases() {
	reclaimed := m.dir.ReapExpiredLeases(time.Now())
	for ks, edges := range reclaimed {
		key := []byte(ks)
		for _, edge := range edges {
			if edge == m.self {
				continue
			}
			addr, ok := m.addrOf(edge)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
			m.pool.Request(ctx, addr, finishBlockRequestFor(m.self, key))
			cancel()
		}
	}
}
