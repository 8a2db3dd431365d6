package transport

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/covered/internal/protocol"
)

// Handler processes one decoded request and returns the reply to encode
// back. Implementations must be safe for concurrent invocation: Server
// runs one goroutine per accepted connection, and a single connection may
// pipeline multiple in-flight requests.
type Handler func(req protocol.Message) protocol.Message

// Server accepts peer connections and dispatches each frame it decodes to
// a Handler, writing back whatever message the handler returns (the
// handler is responsible for copying the request's RequestID into the
// reply's header).
type Server struct {
	ln      net.Listener
	handler Handler
	log     *zap.Logger

	wg       sync.WaitGroup
	closeMu  sync.Mutex
	stopping bool
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, handler Handler, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{ln: ln, handler: handler, log: log}, nil
}

// Addr returns the server's bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// SetHandler replaces the dispatch handler. It must be called before Serve
// is started (e.g. when a deployment needs to reserve every peer's port
// before any of them can build the full topology its own handler closes
// over); it is not safe to call concurrently with Serve.
func (s *Server) SetHandler(h Handler) { s.handler = h }

// Serve accepts connections until Close is called, blocking the caller.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.closeMu.Lock()
			stopping := s.stopping
			s.closeMu.Unlock()
			if stopping {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	for {
		req, err := protocol.Decode(nc)
		if err != nil {
			return
		}
		reply := s.handler(req)
		if reply == nil {
			continue
		}
		if err := protocol.Encode(nc, reply); err != nil {
			s.log.Warn("transport: write reply failed", zap.Error(err))
			return
		}
	}
}

// Close stops accepting new connections and waits for in-flight
// connections to finish their current frame.
func (s *Server) Close() error {
	s.closeMu.Lock()
	s.stopping = true
	s.closeMu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
