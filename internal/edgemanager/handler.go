package edgemanager

import (
	"github.com/dreamware/covered/internal/directory"
	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/placement"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/protocol"
)

func finishBlockRequestFor(self keyspace.EdgeIndex, key []byte) protocol.FinishBlockRequest {
	return protocol.FinishBlockRequest{Header: protocol.Header{SourceIndex: self}, Key: key}
}

// Handler returns the transport.Handler this edge's peer-facing Server
// dispatches every inbound frame to. It is the single place that answers
// for both directory-protocol requests (when this edge is beacon for the
// key) and local-store requests (cooperative GET from a peer that
// believes this edge holds a copy).
func (m *Manager) Handler() func(req protocol.Message) protocol.Message {
	return func(req protocol.Message) protocol.Message {
		switch r := req.(type) {
		case protocol.LocalGetRequest:
			return m.handleLocalGet(r)
		case protocol.DirectoryLookupRequest:
			return m.handleDirectoryLookup(r)
		case protocol.DirectoryAdmitRequest:
			return m.handleDirectoryAdmit(r)
		case protocol.DirectoryEvictRequest:
			return m.handleDirectoryEvict(r)
		case protocol.AcquireWritelockRequest:
			return m.handleAcquireWritelock(r)
		case protocol.ReleaseWritelockRequest:
			return m.handleReleaseWritelock(r)
		case protocol.InvalidationRequest:
			return m.handleInvalidation(r)
		case protocol.MetadataUpdateRequest:
			return m.handleMetadataUpdate(r)
		case protocol.FinishBlockRequest:
			return protocol.FinishBlockResponse{Header: protocol.Header{RequestID: r.Header.RequestID}}
		case protocol.PlacementNotifyRequest:
			return m.handlePlacementNotify(r)
		default:
			if m.metrics != nil {
				m.metrics.UnknownMessages.Inc()
			}
			return nil
		}
	}
}

func (m *Manager) handleLocalGet(r protocol.LocalGetRequest) protocol.Message {
	v, err := m.local.Get(keyspace.Key(r.Key))
	resp := protocol.LocalGetResponse{Header: protocol.Header{RequestID: r.Header.RequestID}}
	if err != nil {
		resp.Found = false
		return resp
	}
	resp.Found = true
	resp.Value = v
	return resp
}

func collectedFromRequest(has bool, cp protocol.CollectedPopularity) *popularity.CollectedPopularity {
	if !has {
		return nil
	}
	v := protocol.PopularityFromCollected(cp)
	return &v
}

func (m *Manager) handleDirectoryLookup(r protocol.DirectoryLookupRequest) protocol.Message {
	res := m.dir.Lookup(keyspace.Key(r.Key), r.Header.SourceIndex, collectedFromRequest(r.HasCollect, r.Collected), protocol.SyncsetFromVictims(r.Syncset))
	return protocol.DirectoryLookupResponse{
		Header:         protocol.Header{RequestID: r.Header.RequestID},
		IsBeingWritten: res.IsBeingWritten,
		Valid:          res.Valid,
		Info:           protocol.DirectoryInfo{OwnerEdge: res.Info.OwnerEdge},
		Syncset:        protocol.VictimsFromSyncset(res.SyncsetBack),
	}
}

func (m *Manager) handleDirectoryAdmit(r protocol.DirectoryAdmitRequest) protocol.Message {
	res := m.dir.Admit(keyspace.Key(r.Key), r.Header.SourceIndex, collectedFromRequest(r.HasCollect, r.Collected), protocol.SyncsetFromVictims(r.Syncset))
	return protocol.DirectoryAdmitResponse{
		Header:           protocol.Header{RequestID: r.Header.RequestID},
		IsBeingWritten:   res.IsBeingWritten,
		IsNeighborCached: res.IsNeighborCached,
		EdgesetToNotify:  res.EdgesetToNotify,
		Syncset:          protocol.VictimsFromSyncset(res.SyncsetBack),
	}
}

func (m *Manager) handleDirectoryEvict(r protocol.DirectoryEvictRequest) protocol.Message {
	res := m.dir.Evict(keyspace.Key(r.Key), r.Header.SourceIndex, protocol.SyncsetFromVictims(r.Syncset))
	return protocol.DirectoryEvictResponse{
		Header:          protocol.Header{RequestID: r.Header.RequestID},
		IsBeingWritten:  res.IsBeingWritten,
		EdgesetToNotify: res.EdgesetToNotify,
		Syncset:         protocol.VictimsFromSyncset(res.SyncsetBack),
	}
}

func (m *Manager) handleAcquireWritelock(r protocol.AcquireWritelockRequest) protocol.Message {
	res := m.dir.AcquireWrite(keyspace.Key(r.Key), r.Header.SourceIndex)
	return protocol.AcquireWritelockResponse{
		Header:             protocol.Header{RequestID: r.Header.RequestID},
		Granted:            res.Result == directory.Granted,
		CopiesToInvalidate: res.CopiesToInvalidate,
		Generation:         res.Generation,
	}
}

func (m *Manager) handleReleaseWritelock(r protocol.ReleaseWritelockRequest) protocol.Message {
	res := m.dir.ReleaseWrite(keyspace.Key(r.Key), r.Header.SourceIndex, r.Generation, r.ProducedValue)
	return protocol.ReleaseWritelockResponse{
		Header:        protocol.Header{RequestID: r.Header.RequestID},
		Accepted:      res.Accepted,
		EdgesToNotify: res.EdgesToNotify,
	}
}

func (m *Manager) handleInvalidation(r protocol.InvalidationRequest) protocol.Message {
	key := keyspace.Key(r.Key)
	m.local.Delete(key)
	m.pop.OnEvict(key)
	m.vic.OnEvict(key)
	m.cac.Invalidate(key)
	return protocol.InvalidationResponse{Header: protocol.Header{RequestID: r.Header.RequestID}}
}

// handleMetadataUpdate applies a beacon-relayed neighbor-cached flip to
// this edge's own popularity stats for key (spec.md §4.6).
func (m *Manager) handleMetadataUpdate(r protocol.MetadataUpdateRequest) protocol.Message {
	m.pop.SetNeighborCached(keyspace.Key(r.Key), r.IsNeighborCached)
	return protocol.MetadataUpdateResponse{Header: protocol.Header{RequestID: r.Header.RequestID}}
}

func (m *Manager) handlePlacementNotify(r protocol.PlacementNotifyRequest) protocol.Message {
	key := keyspace.Key(r.Key)
	decision := m.place.Decide(key, uint32(len(r.Value)))
	if decision.Verdict == placement.Admit {
		m.place.AdmitSync(key, r.Value, decision, m.tick())
	}
	return protocol.PlacementNotifyResponse{Header: protocol.Header{RequestID: r.Header.RequestID}}
}
