// Package transport implements the connection multiplexer: many
// concurrent calls share one duplex byte stream, correlated by call id.
//
//	goroutine-1 ──Invoke(id=1)──┐
//	goroutine-2 ──Invoke(id=2)──┼──→ single stream ──→ host
//	goroutine-3 ──Invoke(id=3)──┘
//
//	recvLoop: ←── response(id=2) → pending[2] → goroutine-2 wakes up
//
// Reads are sequential (one goroutine owns frame parsing), writes are
// serialized by a mutex so frames never interleave mid-frame, and each
// pending call resolves exactly once: with its response, with a timeout,
// or with ConnectionClosed when the connection dies.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"flowrpc/codec"
	"flowrpc/message"
	"flowrpc/protocol"
)

// Connection states. A Conn is Open from construction; NotConnected
// before a connection exists is the client's concern, not the Conn's.
const (
	StateOpen int32 = iota
	StateClosing
	StateClosed
)

// Conn multiplexes calls over a single duplex stream.
type Conn struct {
	nc        net.Conn
	codecType codec.Type
	log       *zap.Logger

	state   atomic.Int32
	seq     atomic.Uint64 // monotonically increasing call id, scoped to this connection
	pending sync.Map      // uint64 → chan *message.Response, buffered size 1
	writeMu sync.Mutex    // serializes whole frames onto nc

	closeOnce sync.Once
	done      chan struct{}

	heartbeat time.Duration
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// WithHeartbeat sets the keepalive interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Conn) { c.heartbeat = d }
}

// NewConn wraps an established stream. The connection is Open
// immediately; a receive loop and (unless disabled) a heartbeat loop
// start in the background.
func NewConn(nc net.Conn, ct codec.Type, opts ...Option) *Conn {
	c := &Conn{
		nc:        nc,
		codecType: ct,
		log:       zap.NewNop(),
		done:      make(chan struct{}),
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(StateOpen)
	go c.recvLoop()
	if c.heartbeat > 0 {
		go c.heartbeatLoop()
	}
	return c
}

// State returns the connection's current state.
func (c *Conn) State() int32 {
	return c.state.Load()
}

// Invoke sends one Call Envelope and suspends the caller until the
// matching Result Envelope arrives, the context expires, or the
// connection closes.
//
// A context deadline resolves the call with CallTimeout and removes its
// pending entry; a response arriving later for that id is discarded as
// stale. The connection itself stays usable after a timeout.
func (c *Conn) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	if c.state.Load() != StateOpen {
		return nil, message.ErrConnectionClosed
	}

	cdc := codec.Get(c.codecType)
	body, err := cdc.Encode(req)
	if err != nil {
		return nil, err
	}

	id := c.seq.Add(1)
	// Register before sending, or a fast response could race the
	// receive loop to an id with no pending entry yet.
	ch := make(chan *message.Response, 1)
	c.pending.Store(id, ch)

	// Re-check after registering: a concurrent close that already swept
	// the pending table must not leave this entry stranded.
	if c.state.Load() != StateOpen {
		c.pending.Delete(id)
		return nil, message.ErrConnectionClosed
	}

	header := &protocol.Header{
		Codec:     byte(c.codecType),
		FrameType: protocol.FrameRequest,
		CallID:    id,
	}
	c.writeMu.Lock()
	err = protocol.Encode(c.nc, header, body)
	c.writeMu.Unlock()
	if err != nil {
		c.pending.Delete(id)
		c.shutdown(err)
		return nil, message.ErrConnectionClosed
	}

	c.log.Debug("call sent", zap.Uint64("call_id", id), zap.String("method", req.Method))

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.pending.Delete(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, message.ErrCallTimeout
		}
		return nil, ctx.Err()
	}
}

// recvLoop is the single reader of the stream. Responses are routed to
// their pending call by id; anything that makes the stream untrustworthy
// (framing error, undecodable payload, I/O error, peer close) tears the
// connection down.
func (c *Conn) recvLoop() {
	for {
		header, body, err := protocol.Decode(c.nc)
		if err != nil {
			c.shutdown(err)
			return
		}

		switch header.FrameType {
		case protocol.FrameHeartbeat:
			continue
		case protocol.FrameResponse:
			resp := new(message.Response)
			if err := codec.Get(codec.Type(header.Codec)).Decode(body, resp); err != nil {
				c.shutdown(err)
				return
			}
			if ch, ok := c.pending.LoadAndDelete(header.CallID); ok {
				ch.(chan *message.Response) <- resp
			} else {
				// Stale: the call timed out or was abandoned.
				c.log.Debug("discarding stale response", zap.Uint64("call_id", header.CallID))
			}
		default:
			c.log.Warn("dropping unexpected frame",
				zap.Uint64("call_id", header.CallID),
				zap.Uint8("frame_type", uint8(header.FrameType)))
		}
	}
}

// heartbeatLoop keeps the connection alive with empty frames. Heartbeat
// writes take the same write lock as calls.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			header := &protocol.Header{
				Codec:     byte(c.codecType),
				FrameType: protocol.FrameHeartbeat,
			}
			c.writeMu.Lock()
			err := protocol.Encode(c.nc, header, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// Close tears the connection down. Every pending call resolves with
// ConnectionClosed; no further sends are accepted.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(StateClosing)
		close(c.done)
		c.nc.Close()

		if cause != nil && !errors.Is(cause, net.ErrClosed) {
			c.log.Info("connection closed", zap.Error(cause))
		}

		// Each entry resolves exactly once: LoadAndDelete here and in
		// recvLoop race over the same map, so only one side wins per id.
		c.pending.Range(func(key, _ any) bool {
			if ch, ok := c.pending.LoadAndDelete(key); ok {
				ch.(chan *message.Response) <- message.Fail(message.KindConnectionClosed, "connection closed")
			}
			return true
		})

		c.state.Store(StateClosed)
	})
}
