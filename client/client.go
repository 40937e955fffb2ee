// Package client is the caller side: it owns one multiplexed connection
// to a host and turns method calls into Call Envelopes.
//
// Calls go through Call/CallNamed directly or through typed stubs built
// by Bind. Either way a failure comes back as an error observably
// equivalent to what the remote side experienced: a *message.RemoteError
// carrying the remote type and message, or a *message.CallError for
// protocol-level kinds.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowrpc/codec"
	"flowrpc/message"
	"flowrpc/registry"
	"flowrpc/transport"
)

// Client invokes methods on a remote API surface.
type Client struct {
	mu   sync.Mutex
	conn *transport.Conn

	codecType codec.Type
	version   int
	timeout   time.Duration
	endpoints registry.Registry
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCodec selects the serialization format. Defaults to JSON.
func WithCodec(ct codec.Type) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithAPIVersion sets the api version sent with every call.
func WithAPIVersion(v int) Option {
	return func(c *Client) { c.version = v }
}

// WithTimeout applies a default deadline to calls whose context has
// none. Zero means no default deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEndpoints lets ConnectSurface resolve a host address from an
// endpoint registry instead of a literal address.
func WithEndpoints(reg registry.Registry) Option {
	return func(c *Client) { c.endpoints = reg }
}

// WithLogger sets the client's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates an unconnected client. Calls fail with NotConnected until
// Connect succeeds.
func New(opts ...Option) *Client {
	c := &Client{
		codecType: codec.JSON,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials an endpoint address ("tcp://host:port" or "ipc:///path").
func (c *Client) Connect(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.State() == transport.StateOpen {
		return fmt.Errorf("already connected")
	}
	conn, err := transport.Dial(addr, c.codecType, transport.WithLogger(c.log))
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.Debug("connected", zap.String("addr", addr))
	return nil
}

// ConnectSurface resolves a surface name through the endpoint registry
// and connects to the first address found.
func (c *Client) ConnectSurface(surface string) error {
	if c.endpoints == nil {
		return fmt.Errorf("no endpoint registry configured")
	}
	eps, err := c.endpoints.Discover(surface)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		return fmt.Errorf("no endpoint registered for surface %q", surface)
	}
	return c.Connect(eps[0].Addr)
}

// Close tears down the connection. Pending calls resolve with
// ConnectionClosed; later calls fail the same way.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call invokes a remote method with positional arguments, decoding the
// result into result (pass nil for methods without one).
func (c *Client) Call(ctx context.Context, method string, result any, args ...any) error {
	return c.call(ctx, method, result, args, nil)
}

// CallNamed is Call with additional named arguments, bound host-side to
// the method's trailing options-struct parameter.
func (c *Client) CallNamed(ctx context.Context, method string, result any, kwargs map[string]any, args ...any) error {
	return c.call(ctx, method, result, args, kwargs)
}

func (c *Client) call(ctx context.Context, method string, result any, args []any, kwargs map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return message.ErrNotConnected
	}

	cdc := codec.Get(c.codecType)
	req := &message.Request{
		Method:  method,
		Version: c.version,
	}
	for i, arg := range args {
		data, err := cdc.Encode(arg)
		if err != nil {
			return fmt.Errorf("encode argument %d of %s: %w", i, method, err)
		}
		req.Args = append(req.Args, data)
	}
	if len(kwargs) > 0 {
		req.Kwargs = make(map[string][]byte, len(kwargs))
		for name, val := range kwargs {
			data, err := cdc.Encode(val)
			if err != nil {
				return fmt.Errorf("encode named argument %q of %s: %w", name, method, err)
			}
			req.Kwargs[name] = data
		}
	}

	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	resp, err := conn.Invoke(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return resp.Err.Err()
	}
	if result != nil && len(resp.Result) > 0 {
		return cdc.Decode(resp.Result, result)
	}
	return nil
}
