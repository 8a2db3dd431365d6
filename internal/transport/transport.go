// Package transport carries protocol.Message frames between edges over
// persistent TCP connections. Where torua's coordinator-node link runs
// HTTP/JSON with a pooled *http.Client and a deadline per request, the
// cooperation protocol's fixed binary wire format (protocol.Encode/Decode)
// calls for a plain net.Conn and the same request/timeout discipline
// applied directly to the socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/covered/internal/protocol"
)

// ErrClosed is returned by Pool methods after Close has been called.
var ErrClosed = errors.New("transport: pool closed")

// ErrTimeout is returned when a request's context deadline elapses before
// a reply arrives.
var ErrTimeout = errors.New("transport: request timed out")

// pendingReply is how the connection's read loop hands a decoded reply
// back to its waiting caller once it matches the reply by RequestID.
type pendingReply struct {
	msg protocol.Message
	err error
}

// conn wraps one persistent outbound connection to a peer: a single
// writer (requests are serialized onto the socket) and a background read
// loop that demultiplexes replies by Header.RequestID, so many logical
// requests can be in flight on the same TCP connection at once
// (reorder-tolerant dispatch, spec.md §4.6).
type conn struct {
	addr string
	nc   net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingReply

	closeOnce sync.Once
	closed    chan struct{}

	log *zap.Logger
}

func dial(ctx context.Context, addr string, log *zap.Logger) (*conn, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	c := &conn{
		addr:    addr,
		nc:      nc,
		pending: make(map[uint64]chan pendingReply),
		closed:  make(chan struct{}),
		log:     log,
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	for {
		msg, err := protocol.Decode(c.nc)
		if err != nil {
			c.failAll(err)
			return
		}
		id := requestIDOf(msg)
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- pendingReply{msg: msg}
		} else if c.log != nil {
			c.log.Warn("transport: reply for unknown or expired request", zap.Uint64("request_id", id))
		}
	}
}

func (c *conn) failAll(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- pendingReply{err: err}
		delete(c.pending, id)
	}
}

// send writes req and returns a channel that receives exactly one reply.
func (c *conn) send(ctx context.Context, reqID uint64, req protocol.Message) (<-chan pendingReply, error) {
	ch := make(chan pendingReply, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetWriteDeadline(dl)
	}
	err := protocol.Encode(c.nc, req)
	c.writeMu.Unlock()

	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
		c.failAll(net.ErrClosed)
	})
	return err
}

// Pool maintains one persistent connection per peer address, dialing
// lazily on first use and redialing after a connection fails.
type Pool struct {
	mu      sync.Mutex
	conns   map[string]*conn
	nextID  uint64
	idMu    sync.Mutex
	closed  bool
	log     *zap.Logger
}

// NewPool builds an empty connection pool.
func NewPool(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{conns: make(map[string]*conn), log: log}
}

func (p *Pool) nextRequestID() uint64 {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	p.nextID++
	return p.nextID
}

func (p *Pool) getConn(ctx context.Context, addr string) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := dial(ctx, addr, p.log)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.Close()
		return nil, ErrClosed
	}
	if existing, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		c.Close()
		return existing, nil
	}
	p.conns[addr] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) dropConn(addr string, c *conn) {
	p.mu.Lock()
	if p.conns[addr] == c {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
}

// Request sends req to addr and blocks for a reply, honoring ctx's
// deadline. The request ID written into req's header is assigned by the
// pool, overriding whatever the caller set, so correlation stays correct
// even if a connection is shared across callers.
func (p *Pool) Request(ctx context.Context, addr string, req protocol.Message) (protocol.Message, error) {
	id := p.nextRequestID()
	req = withRequestID(req, id)

	c, err := p.getConn(ctx, addr)
	if err != nil {
		return nil, err
	}

	replyCh, err := c.send(ctx, id, req)
	if err != nil {
		p.dropConn(addr, c)
		return nil, err
	}

	select {
	case r := <-replyCh:
		if r.err != nil {
			p.dropConn(addr, c)
			return nil, r.err
		}
		return r.msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Close shuts down every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for addr, c := range p.conns {
		c.Close()
		delete(p.conns, addr)
	}
	return nil
}

// FanOut sends req to every address in addrs concurrently, returning one
// reply per address in the same order. A nil entry at index i means that
// peer failed or timed out; callers proceed with the replies they got
// (spec.md's cooperation rounds are best-effort, not all-or-nothing).
func FanOut(ctx context.Context, pool *Pool, addrs []string, build func(addr string) protocol.Message) []protocol.Message {
	out := make([]protocol.Message, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			reply, err := pool.Request(ctx, addr, build(addr))
			if err != nil {
				return
			}
			out[i] = reply
		}(i, addr)
	}
	wg.Wait()
	return out
}

func withRequestID(m protocol.Message, id uint64) protocol.Message {
	switch v := m.(type) {
	case protocol.DirectoryLookupRequest:
		v.Header.RequestID = id
		return v
	case protocol.DirectoryUpdateRequest:
		v.Header.RequestID = id
		return v
	case protocol.DirectoryAdmitRequest:
		v.Header.RequestID = id
		return v
	case protocol.DirectoryEvictRequest:
		v.Header.RequestID = id
		return v
	case protocol.AcquireWritelockRequest:
		v.Header.RequestID = id
		return v
	case protocol.ReleaseWritelockRequest:
		v.Header.RequestID = id
		return v
	case protocol.InvalidationRequest:
		v.Header.RequestID = id
		return v
	case protocol.MetadataUpdateRequest:
		v.Header.RequestID = id
		return v
	case protocol.FinishBlockRequest:
		v.Header.RequestID = id
		return v
	case protocol.PlacementNotifyRequest:
		v.Header.RequestID = id
		return v
	case protocol.LocalGetRequest:
		v.Header.RequestID = id
		return v
	case protocol.LocalPutRequest:
		v.Header.RequestID = id
		return v
	case protocol.LocalDelRequest:
		v.Header.RequestID = id
		return v
	default:
		return m
	}
}

func requestIDOf(m protocol.Message) uint64 {
	switch v := m.(type) {
	case protocol.DirectoryLookupResponse:
		return v.Header.RequestID
	case protocol.DirectoryUpdateResponse:
		return v.Header.RequestID
	case protocol.DirectoryAdmitResponse:
		return v.Header.RequestID
	case protocol.DirectoryEvictResponse:
		return v.Header.RequestID
	case protocol.AcquireWritelockResponse:
		return v.Header.RequestID
	case protocol.ReleaseWritelockResponse:
		return v.Header.RequestID
	case protocol.InvalidationResponse:
		return v.Header.RequestID
	case protocol.MetadataUpdateResponse:
		return v.Header.RequestID
	case protocol.FinishBlockResponse:
		return v.Header.RequestID
	case protocol.PlacementNotifyResponse:
		return v.Header.RequestID
	case protocol.LocalGetResponse:
		return v.Header.RequestID
	case protocol.LocalPutResponse:
		return v.Header.RequestID
	case protocol.LocalDelResponse:
		return v.Header.RequestID
	default:
		return 0
	}
}
