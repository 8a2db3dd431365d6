package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/keyspace"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))
	got, err := Decode(&buf)
	require.NoError(t, err)
	return got
}

func TestHeaderRoundTrips(t *testing.T) {
	h := Header{
		SourceIndex:            3,
		SourceAddr:             NetAddr{Host: "10.0.0.1", Port: 9001},
		RequestID:              42,
		BandwidthUsage:         1024,
		EventList:              []Event{{Code: 1, At: 99}, {Code: 2, At: 100}},
		SkipPropagationLatency: true,
	}
	got := roundTrip(t, LocalGetRequest{Header: h, Key: []byte("k")})
	req := got.(LocalGetRequest)
	assert.Equal(t, h, req.Header)
	assert.Equal(t, []byte("k"), req.Key)
}

func TestLocalGetResponseRoundTrips(t *testing.T) {
	m := LocalGetResponse{Header: Header{RequestID: 1}, Hit: HitCooperative, Found: true, Value: []byte("v")}
	got := roundTrip(t, m).(LocalGetResponse)
	assert.Equal(t, m.Hit, got.Hit)
	assert.True(t, got.Found)
	assert.Equal(t, []byte("v"), got.Value)
}

func TestDirectoryAdmitResponseRoundTrips(t *testing.T) {
	m := DirectoryAdmitResponse{
		Header:           Header{RequestID: 7},
		IsNeighborCached: true,
		EdgesetToNotify:  []keyspace.EdgeIndex{0, 2, 5},
		Syncset: []VictimEntry{
			{Key: []byte("x"), Reward: 1.5, LastVTime: 10, SizeBytes: 40},
			{Key: []byte("y"), Reward: 2.5, LastVTime: 11, SizeBytes: 80},
		},
	}
	got := roundTrip(t, m).(DirectoryAdmitResponse)
	assert.True(t, got.IsNeighborCached)
	assert.Equal(t, m.EdgesetToNotify, got.EdgesetToNotify)
	assert.Equal(t, m.Syncset, got.Syncset)
}

func TestAcquireWritelockResponseRoundTrips(t *testing.T) {
	m := AcquireWritelockResponse{
		Header:             Header{RequestID: 2},
		Granted:            true,
		CopiesToInvalidate: []keyspace.EdgeIndex{1, 4},
		Generation:         17,
	}
	got := roundTrip(t, m).(AcquireWritelockResponse)
	assert.Equal(t, m, got)
}

func TestPlacementNotifyRequestRoundTrips(t *testing.T) {
	m := PlacementNotifyRequest{
		Header:  Header{RequestID: 9},
		Key:     []byte("k"),
		Value:   []byte("value-bytes"),
		Info:    DirectoryInfo{OwnerEdge: 3},
		Edgeset: []keyspace.EdgeIndex{3, 4},
		Syncset: []VictimEntry{{Key: []byte("z"), Reward: 0.5, LastVTime: 1, SizeBytes: 8}},
	}
	got := roundTrip(t, m).(PlacementNotifyRequest)
	assert.Equal(t, m, got)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte{0xFF}))
	_, err := Decode(&buf)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, LocalGetRequest{Key: []byte("k")}))
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := Decode(bytes.NewReader(truncated))
	assert.Error(t, err)
}
