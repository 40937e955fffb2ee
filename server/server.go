// Package server implements the host side: it accepts connections,
// reads Call Envelopes, dispatches them concurrently against the method
// registry, and writes Result Envelopes back.
//
// Request pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → per request: go handleRequest (concurrent dispatch)
//	    → codec decode → middleware chain → registry invoke → codec encode → write response
//
// A long-running call never stalls unrelated calls: the frame reader
// does not wait for dispatch, and responses complete in whatever order
// the methods finish, correlated by call id.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"flowrpc/api"
	"flowrpc/codec"
	"flowrpc/message"
	"flowrpc/middleware"
	"flowrpc/protocol"
	"flowrpc/registry"
	"flowrpc/transport"
)

// Server hosts one or more API surfaces on a listening transport.
type Server struct {
	registry    *api.Registry
	listener    net.Listener
	wg          sync.WaitGroup // in-flight requests, for graceful shutdown
	conns       sync.Map       // net.Conn → struct{}, live accepted connections
	shutdown    atomic.Bool
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	endpoints     registry.Registry // optional endpoint registry, nil to skip
	advertiseAddr string            // address published there; differs from the
	// listen address because ":9000" is not routable
	log *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithEndpoints publishes every registered surface to an endpoint
// registry while the server is up.
func WithEndpoints(reg registry.Registry, advertiseAddr string) Option {
	return func(s *Server) {
		s.endpoints = reg
		s.advertiseAddr = advertiseAddr
	}
}

// New creates a server with an empty method registry.
func New(opts ...Option) *Server {
	s := &Server{
		registry: api.NewRegistry(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register scans each API object's export table into the method
// registry. A registration problem is fatal at startup and reported
// here, before anything listens.
func (s *Server) Register(objects ...api.Surface) error {
	for _, obj := range objects {
		if err := s.registry.Add(obj); err != nil {
			return err
		}
	}
	return nil
}

// Use appends a middleware. Middlewares run in the order added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on an endpoint address ("tcp://host:port" or
// "ipc:///path"), optionally publishes the surfaces to the endpoint
// registry, and accepts connections until Shutdown.
func (s *Server) Serve(addr string) error {
	listener, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	s.listener = listener

	// Build the middleware chain once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	if s.endpoints != nil {
		for _, surface := range s.registry.Surfaces() {
			if err := s.endpoints.Register(surface, registry.Endpoint{Addr: s.advertiseAddr}, 10); err != nil {
				s.log.Warn("endpoint registration failed",
					zap.String("surface", surface), zap.Error(err))
			}
		}
	}

	s.log.Info("serving", zap.String("addr", addr))
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; only then is the Accept
			// error expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn owns one connection: a single goroutine reads frames
// sequentially (frame boundaries require one reader), and every request
// dispatches on its own goroutine. All those goroutines share one write
// mutex so response frames never interleave mid-frame.
//
// Lifecycle: Serving while frames arrive; Draining when the peer closes
// its write side (in-flight calls still get their responses); an
// unrecoverable framing or codec error closes immediately, because no
// later frame boundary on the stream can be trusted.
func (s *Server) handleConn(conn net.Conn) {
	log := s.log.With(zap.String("peer", conn.RemoteAddr().String()))
	log.Debug("connection accepted")

	// Tracked so Shutdown can close every live connection after the
	// drain; a connection that slipped past a concurrent Shutdown is
	// closed here instead.
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)
	if s.shutdown.Load() {
		conn.Close()
		return
	}

	writeMu := &sync.Mutex{}
	var inflight sync.WaitGroup
	drain := true

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			var fe *protocol.FramingError
			switch {
			case errors.As(err, &fe):
				drain = false
				log.Warn("closing connection", zap.Error(fe))
			case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
				log.Debug("peer closed connection")
			default:
				log.Debug("read failed", zap.Error(err))
			}
			break
		}

		switch header.FrameType {
		case protocol.FrameHeartbeat:
			continue
		case protocol.FrameRequest:
			s.wg.Add(1)
			inflight.Add(1)
			go s.handleRequest(header, body, conn, writeMu, &inflight)
		default:
			log.Warn("dropping unexpected frame",
				zap.Uint64("call_id", header.CallID),
				zap.Uint8("frame_type", uint8(header.FrameType)))
		}
	}

	if drain {
		inflight.Wait()
	}
	conn.Close()
	log.Debug("connection closed")
}

type codecCtxKey struct{}

func codecFrom(ctx context.Context) codec.Codec {
	if c, ok := ctx.Value(codecCtxKey{}).(codec.Codec); ok {
		return c
	}
	return codec.Get(codec.JSON)
}

// handleRequest serves one call: decode → middleware chain → dispatch →
// encode → write, under the connection's write lock.
func (s *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex, inflight *sync.WaitGroup) {
	defer s.wg.Done()
	defer inflight.Done()

	cdc := codec.Get(codec.Type(header.Codec))
	req := new(message.Request)
	if err := cdc.Decode(body, req); err != nil {
		// An envelope that does not deserialize poisons the whole
		// stream, not just this call.
		s.log.Warn("undecodable request envelope, closing connection",
			zap.Uint64("call_id", header.CallID), zap.Error(err))
		conn.Close()
		return
	}

	ctx := context.WithValue(context.Background(), codecCtxKey{}, cdc)
	resp := s.handler(ctx, req)

	respBody, err := cdc.Encode(resp)
	if err != nil {
		s.log.Error("failed to encode response envelope",
			zap.Uint64("call_id", header.CallID), zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	replyHeader := &protocol.Header{
		Codec:     header.Codec,
		FrameType: protocol.FrameResponse,
		CallID:    header.CallID, // same id as the request: correlation key
	}
	if err := protocol.Encode(conn, replyHeader, respBody); err != nil {
		s.log.Debug("failed to write response", zap.Uint64("call_id", header.CallID), zap.Error(err))
	}
}

// PanicError wraps a panic recovered from a target method.
type PanicError struct {
	Value string
}

func (e *PanicError) Error() string {
	return "panic: " + e.Value
}

// dispatch is the innermost handler: resolve the method, invoke it, and
// classify whatever went wrong. A failing target method is a per-call
// failure; the dispatch loop itself never terminates because of one.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	cdc := codecFrom(ctx)

	m, err := s.registry.Resolve(req.Method, req.Version)
	switch {
	case errors.Is(err, api.ErrNotFound):
		return message.Fail(message.KindMethodNotFound, fmt.Sprintf("no such method %q", req.Method))
	case errors.Is(err, api.ErrVersion):
		return message.Fail(message.KindVersionMismatch,
			fmt.Sprintf("method %q does not serve api version %d", req.Method, req.Version))
	}

	result, err := s.invoke(ctx, m, cdc, req)
	if err != nil {
		// Best-effort payload: callers that know the concrete type may
		// decode it; everyone else relies on type name + message.
		payload, encErr := cdc.Encode(err)
		if encErr != nil {
			payload = nil
		}
		return message.FailRemote(message.ErrorTypeName(err), err.Error(), payload)
	}
	return message.Success(result)
}

func (s *Server) invoke(ctx context.Context, m *api.Method, cdc codec.Codec, req *message.Request) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("method panicked",
				zap.String("method", req.Method), zap.Any("panic", r))
			err = &PanicError{Value: fmt.Sprint(r)}
		}
	}()
	return m.Invoke(ctx, cdc, req.Args, req.Kwargs)
}

// Shutdown drains the host:
//  1. deregister from the endpoint registry, so clients stop routing here
//  2. set the shutdown flag, then close the listener (flag first, or the
//     Accept error races the flag and Serve reports a spurious failure)
//  3. wait out in-flight requests, bounded by timeout
//  4. close every live connection, drained or not, so peers observe
//     ConnectionClosed instead of a host that silently keeps serving
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.endpoints != nil {
		for _, surface := range s.registry.Surfaces() {
			if err := s.endpoints.Deregister(surface, s.advertiseAddr); err != nil {
				s.log.Warn("endpoint deregistration failed",
					zap.String("surface", surface), zap.Error(err))
			}
		}
	}

	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for in-flight requests")
	}

	s.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	return err
}
