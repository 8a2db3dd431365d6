package protocol

import (
	"fmt"
	"io"

	"github.com/dreamware/covered/internal/keyspace"
)

// Encode writes m to w as one length-delimited frame: a u32 byte-length
// prefix, a one-byte type tag, the common header, then the type's fixed
// layout.
func Encode(w io.Writer, m Message) error {
	bw := &writer{}
	bw.u8(uint8(m.Type()))
	encodeHeader(bw, headerOf(m))
	encodeBody(bw, m)
	if bw.err != nil {
		return bw.err
	}
	return writeFrame(w, bw.buf)
}

// Decode reads one frame from r and parses it into the concrete Message
// its tag names. Unrecognized tags yield ErrUnknownMessageType rather
// than a partially-decoded struct.
func Decode(r io.Reader) (Message, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	br := newReader(body)
	tag := MessageType(br.u8())
	h := decodeHeader(br)
	m, err := decodeBody(br, tag, h)
	if err != nil {
		return nil, err
	}
	if br.err != nil {
		return nil, br.err
	}
	return m, nil
}

func encodeHeader(w *writer, h Header) {
	w.u32(uint32(h.SourceIndex))
	w.str16(h.SourceAddr.Host)
	w.u16(h.SourceAddr.Port)
	w.u64(h.RequestID)
	w.u64(h.BandwidthUsage)
	w.u16(uint16(len(h.EventList)))
	for _, ev := range h.EventList {
		w.u8(ev.Code)
		w.u64(ev.At)
	}
	w.boolean(h.SkipPropagationLatency)
}

func decodeHeader(r *reader) Header {
	h := Header{}
	h.SourceIndex = keyspace.EdgeIndex(r.u32())
	h.SourceAddr.Host = r.str16()
	h.SourceAddr.Port = r.u16()
	h.RequestID = r.u64()
	h.BandwidthUsage = r.u64()
	n := r.u16()
	if n > 0 && r.err == nil {
		h.EventList = make([]Event, n)
		for i := range h.EventList {
			h.EventList[i] = Event{Code: r.u8(), At: r.u64()}
		}
	}
	h.SkipPropagationLatency = r.boolean()
	return h
}

func encodeVictims(w *writer, entries []VictimEntry) {
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		w.bytes32(e.Key)
		w.f64(e.Reward)
		w.u64(e.LastVTime)
		w.u32(e.SizeBytes)
	}
}

func decodeVictims(r *reader) []VictimEntry {
	n := r.u16()
	if n == 0 || r.err != nil {
		return nil
	}
	out := make([]VictimEntry, n)
	for i := range out {
		out[i] = VictimEntry{
			Key:       r.bytes32(),
			Reward:    r.f64(),
			LastVTime: r.u64(),
			SizeBytes: r.u32(),
		}
	}
	return out
}

func encodeEdges(w *writer, edges []keyspace.EdgeIndex) {
	w.u16(uint16(len(edges)))
	for _, e := range edges {
		w.u32(uint32(e))
	}
}

func decodeEdges(r *reader) []keyspace.EdgeIndex {
	n := r.u16()
	if n == 0 || r.err != nil {
		return nil
	}
	out := make([]keyspace.EdgeIndex, n)
	for i := range out {
		out[i] = keyspace.EdgeIndex(r.u32())
	}
	return out
}

func encodeCollected(w *writer, cp CollectedPopularity, has bool) {
	w.boolean(has)
	w.boolean(cp.IsTracked)
	w.f64(cp.LocalUncachedPopularity)
}

func decodeCollected(r *reader) (CollectedPopularity, bool) {
	has := r.boolean()
	cp := CollectedPopularity{IsTracked: r.boolean(), LocalUncachedPopularity: r.f64()}
	return cp, has
}

func encodeInfo(w *writer, info DirectoryInfo) {
	w.u32(uint32(info.OwnerEdge))
}

func decodeInfo(r *reader) DirectoryInfo {
	return DirectoryInfo{OwnerEdge: keyspace.EdgeIndex(r.u32())}
}

func headerOf(m Message) Header {
	switch v := m.(type) {
	case LocalGetRequest:
		return v.Header
	case LocalGetResponse:
		return v.Header
	case LocalPutRequest:
		return v.Header
	case LocalPutResponse:
		return v.Header
	case LocalDelRequest:
		return v.Header
	case LocalDelResponse:
		return v.Header
	case DirectoryLookupRequest:
		return v.Header
	case DirectoryLookupResponse:
		return v.Header
	case DirectoryUpdateRequest:
		return v.Header
	case DirectoryUpdateResponse:
		return v.Header
	case DirectoryAdmitRequest:
		return v.Header
	case DirectoryAdmitResponse:
		return v.Header
	case DirectoryEvictRequest:
		return v.Header
	case DirectoryEvictResponse:
		return v.Header
	case AcquireWritelockRequest:
		return v.Header
	case AcquireWritelockResponse:
		return v.Header
	case ReleaseWritelockRequest:
		return v.Header
	case ReleaseWritelockResponse:
		return v.Header
	case InvalidationRequest:
		return v.Header
	case InvalidationResponse:
		return v.Header
	case MetadataUpdateRequest:
		return v.Header
	case MetadataUpdateResponse:
		return v.Header
	case FinishBlockRequest:
		return v.Header
	case FinishBlockResponse:
		return v.Header
	case PlacementNotifyRequest:
		return v.Header
	case PlacementNotifyResponse:
		return v.Header
	default:
		return Header{}
	}
}

func encodeBody(w *writer, m Message) {
	switch v := m.(type) {
	case LocalGetRequest:
		w.bytes32(v.Key)
	case LocalGetResponse:
		w.u8(uint8(v.Hit))
		w.boolean(v.Found)
		w.bytes32(v.Value)
	case LocalPutRequest:
		w.bytes32(v.Key)
		w.bytes32(v.Value)
	case LocalPutResponse:
		w.u8(uint8(v.Hit))
	case LocalDelRequest:
		w.bytes32(v.Key)
	case LocalDelResponse:
		w.u8(uint8(v.Hit))

	case DirectoryLookupRequest:
		w.bytes32(v.Key)
		encodeCollected(w, v.Collected, v.HasCollect)
		encodeVictims(w, v.Syncset)
	case DirectoryLookupResponse:
		w.boolean(v.IsBeingWritten)
		w.boolean(v.Valid)
		encodeInfo(w, v.Info)
		encodeVictims(w, v.Syncset)
	case DirectoryUpdateRequest:
		w.bytes32(v.Key)
		w.boolean(v.Valid)
		encodeInfo(w, v.Info)
		encodeVictims(w, v.Syncset)
	case DirectoryUpdateResponse:
		w.boolean(v.IsBeingWritten)
		encodeVictims(w, v.Syncset)
	case DirectoryAdmitRequest:
		w.bytes32(v.Key)
		encodeCollected(w, v.Collected, v.HasCollect)
		encodeVictims(w, v.Syncset)
	case DirectoryAdmitResponse:
		w.boolean(v.IsBeingWritten)
		w.boolean(v.IsNeighborCached)
		encodeEdges(w, v.EdgesetToNotify)
		encodeVictims(w, v.Syncset)
	case DirectoryEvictRequest:
		w.bytes32(v.Key)
		encodeVictims(w, v.Syncset)
	case DirectoryEvictResponse:
		w.boolean(v.IsBeingWritten)
		encodeEdges(w, v.EdgesetToNotify)
		encodeVictims(w, v.Syncset)

	case AcquireWritelockRequest:
		w.bytes32(v.Key)
	case AcquireWritelockResponse:
		w.boolean(v.Granted)
		encodeEdges(w, v.CopiesToInvalidate)
		w.u64(v.Generation)
	case ReleaseWritelockRequest:
		w.bytes32(v.Key)
		w.u64(v.Generation)
		w.boolean(v.ProducedValue)
	case ReleaseWritelockResponse:
		w.boolean(v.Accepted)
		encodeEdges(w, v.EdgesToNotify)

	case InvalidationRequest:
		w.bytes32(v.Key)
	case InvalidationResponse:
		// ack only
	case MetadataUpdateRequest:
		w.bytes32(v.Key)
		w.boolean(v.IsNeighborCached)
	case MetadataUpdateResponse:
		// ack only
	case FinishBlockRequest:
		w.bytes32(v.Key)
	case FinishBlockResponse:
		// ack only

	case PlacementNotifyRequest:
		w.bytes32(v.Key)
		w.bytes32(v.Value)
		encodeInfo(w, v.Info)
		encodeEdges(w, v.Edgeset)
		encodeVictims(w, v.Syncset)
	case PlacementNotifyResponse:
		// ack only

	default:
		w.fail(fmt.Errorf("protocol: encode: %w: %T", ErrUnknownMessageType, m))
	}
}

func decodeBody(r *reader, tag MessageType, h Header) (Message, error) {
	switch tag {
	case TypeLocalGetRequest:
		return LocalGetRequest{Header: h, Key: r.bytes32()}, nil
	case TypeLocalGetResponse:
		hit := HitKind(r.u8())
		found := r.boolean()
		return LocalGetResponse{Header: h, Hit: hit, Found: found, Value: r.bytes32()}, nil
	case TypeLocalPutRequest:
		key := r.bytes32()
		return LocalPutRequest{Header: h, Key: key, Value: r.bytes32()}, nil
	case TypeLocalPutResponse:
		return LocalPutResponse{Header: h, Hit: HitKind(r.u8())}, nil
	case TypeLocalDelRequest:
		return LocalDelRequest{Header: h, Key: r.bytes32()}, nil
	case TypeLocalDelResponse:
		return LocalDelResponse{Header: h, Hit: HitKind(r.u8())}, nil

	case TypeDirectoryLookupRequest:
		key := r.bytes32()
		cp, has := decodeCollected(r)
		return DirectoryLookupRequest{Header: h, Key: key, Collected: cp, HasCollect: has, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryLookupResponse:
		beingWritten := r.boolean()
		valid := r.boolean()
		info := decodeInfo(r)
		return DirectoryLookupResponse{Header: h, IsBeingWritten: beingWritten, Valid: valid, Info: info, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryUpdateRequest:
		key := r.bytes32()
		valid := r.boolean()
		info := decodeInfo(r)
		return DirectoryUpdateRequest{Header: h, Key: key, Valid: valid, Info: info, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryUpdateResponse:
		beingWritten := r.boolean()
		return DirectoryUpdateResponse{Header: h, IsBeingWritten: beingWritten, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryAdmitRequest:
		key := r.bytes32()
		cp, has := decodeCollected(r)
		return DirectoryAdmitRequest{Header: h, Key: key, Collected: cp, HasCollect: has, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryAdmitResponse:
		beingWritten := r.boolean()
		neighborCached := r.boolean()
		edges := decodeEdges(r)
		return DirectoryAdmitResponse{Header: h, IsBeingWritten: beingWritten, IsNeighborCached: neighborCached, EdgesetToNotify: edges, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryEvictRequest:
		key := r.bytes32()
		return DirectoryEvictRequest{Header: h, Key: key, Syncset: decodeVictims(r)}, nil
	case TypeDirectoryEvictResponse:
		beingWritten := r.boolean()
		edges := decodeEdges(r)
		return DirectoryEvictResponse{Header: h, IsBeingWritten: beingWritten, EdgesetToNotify: edges, Syncset: decodeVictims(r)}, nil

	case TypeAcquireWritelockRequest:
		return AcquireWritelockRequest{Header: h, Key: r.bytes32()}, nil
	case TypeAcquireWritelockResponse:
		granted := r.boolean()
		copies := decodeEdges(r)
		return AcquireWritelockResponse{Header: h, Granted: granted, CopiesToInvalidate: copies, Generation: r.u64()}, nil
	case TypeReleaseWritelockRequest:
		key := r.bytes32()
		gen := r.u64()
		return ReleaseWritelockRequest{Header: h, Key: key, Generation: gen, ProducedValue: r.boolean()}, nil
	case TypeReleaseWritelockResponse:
		accepted := r.boolean()
		return ReleaseWritelockResponse{Header: h, Accepted: accepted, EdgesToNotify: decodeEdges(r)}, nil

	case TypeInvalidationRequest:
		return InvalidationRequest{Header: h, Key: r.bytes32()}, nil
	case TypeInvalidationResponse:
		return InvalidationResponse{Header: h}, nil
	case TypeMetadataUpdateRequest:
		key := r.bytes32()
		return MetadataUpdateRequest{Header: h, Key: key, IsNeighborCached: r.boolean()}, nil
	case TypeMetadataUpdateResponse:
		return MetadataUpdateResponse{Header: h}, nil
	case TypeFinishBlockRequest:
		return FinishBlockRequest{Header: h, Key: r.bytes32()}, nil
	case TypeFinishBlockResponse:
		return FinishBlockResponse{Header: h}, nil

	case TypePlacementNotifyRequest:
		key := r.bytes32()
		value := r.bytes32()
		info := decodeInfo(r)
		edges := decodeEdges(r)
		return PlacementNotifyRequest{Header: h, Key: key, Value: value, Info: info, Edgeset: edges, Syncset: decodeVictims(r)}, nil
	case TypePlacementNotifyResponse:
		return PlacementNotifyResponse{Header: h}, nil

	default:
		return nil, fmt.Errorf("protocol: decode: %w: tag %d", ErrUnknownMessageType, tag)
	}
}
