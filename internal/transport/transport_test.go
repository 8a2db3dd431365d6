package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/protocol"
)

func startEchoServer(t *testing.T) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", func(req protocol.Message) protocol.Message {
		get := req.(protocol.LocalGetRequest)
		return protocol.LocalGetResponse{
			Header: protocol.Header{RequestID: get.Header.RequestID},
			Found:  true,
			Value:  get.Key,
		}
	}, nil)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestRequestRoundTripsOverLoopback(t *testing.T) {
	srv := startEchoServer(t)
	pool := NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := pool.Request(ctx, srv.Addr().String(), protocol.LocalGetRequest{Key: []byte("hello")})
	require.NoError(t, err)
	resp := reply.(protocol.LocalGetResponse)
	assert.True(t, resp.Found)
	assert.Equal(t, []byte("hello"), resp.Value)
}

func TestMultipleRequestsOnSameConnectionAreCorrelated(t *testing.T) {
	srv := startEchoServer(t)
	pool := NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	keys := []string{"a", "b", "c", "d"}
	results := make(chan string, len(keys))
	for _, k := range keys {
		go func(k string) {
			reply, err := pool.Request(ctx, srv.Addr().String(), protocol.LocalGetRequest{Key: []byte(k)})
			require.NoError(t, err)
			results <- string(reply.(protocol.LocalGetResponse).Value)
		}(k)
	}

	got := make(map[string]bool)
	for range keys {
		got[<-results] = true
	}
	for _, k := range keys {
		assert.True(t, got[k])
	}
}

func TestRequestTimesOutAgainstUnresponsivePeer(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	go func() {
		// Accept but never read/write — simulates a hung peer.
		nc, err := srv.ln.Accept()
		if err == nil {
			defer nc.Close()
			select {}
		}
	}()
	t.Cleanup(func() { srv.Close() })

	pool := NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = pool.Request(ctx, srv.Addr().String(), protocol.LocalGetRequest{Key: []byte("x")})
	assert.Error(t, err)
}

func TestFanOutCollectsAllReplies(t *testing.T) {
	srv1 := startEchoServer(t)
	srv2 := startEchoServer(t)
	pool := NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs := []string{srv1.Addr().String(), srv2.Addr().String()}
	replies := FanOut(ctx, pool, addrs, func(addr string) protocol.Message {
		return protocol.LocalGetRequest{Key: []byte(addr)}
	})

	require.Len(t, replies, 2)
	for i, r := range replies {
		require.NotNil(t, r)
		assert.Equal(t, addrs[i], string(r.(protocol.LocalGetResponse).Value))
	}
}
