// Package client implements a multiplexing RPC client.
//
// One Client owns one TCP connection. Every request gets its own correlation
// id, and a background goroutine (recvLoop) reads responses and routes them to
// the waiting caller, so many calls share the connection concurrently:
//
//	goroutine-1 ──Go(id=1)──┐
//	goroutine-2 ──Go(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Go(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] chan → goroutine-2 wakes up
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"jrpc/codec"
	"jrpc/message"
	"jrpc/protocol"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrClosed is returned for calls on a client whose connection is gone.
var ErrClosed = errors.New("client: connection closed")

type options struct {
	codec             codec.CodecType
	maxFrameSize      int
	heartbeatInterval time.Duration
	dialTimeout       time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithCodec selects the body codec. The default is binary.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = ct }
}

// WithMaxFrameSize bounds inbound and outbound frame bodies.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithHeartbeat sends a heartbeat every interval to keep the connection alive.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = interval }
}

// WithDialTimeout bounds Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Client is a multiplexed connection to one server.
type Client struct {
	conn net.Conn
	opts options

	sending sync.Mutex // Serializes frame writes; also guards seq and the closed check
	seq     uint32
	pending *xsync.MapOf[uint32, chan *message.Response]

	hbMu      sync.Mutex
	hbWaiters []chan struct{} // Heartbeat echoes arrive in send order

	done      chan struct{}
	err       error // Set before done is closed
	closing   bool  // Guarded by sending
	closeOnce sync.Once
}

// Dial connects to addr.
func Dial(addr string, opts ...Option) (*Client, error) {
	o := defaultOptions(opts)
	conn, err := net.DialTimeout("tcp", addr, o.dialTimeout)
	if err != nil {
		return nil, err
	}
	return newClient(conn, o), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	return newClient(conn, defaultOptions(opts))
}

func defaultOptions(opts []Option) options {
	o := options{
		codec:        codec.CodecTypeBinary,
		maxFrameSize: protocol.DefaultMaxFrameSize,
		dialTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newClient(conn net.Conn, o options) *Client {
	c := &Client{
		conn:    conn,
		opts:    o,
		pending: xsync.NewMapOf[uint32, chan *message.Response](),
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	if o.heartbeatInterval > 0 {
		go c.heartbeatLoop(o.heartbeatInterval)
	}
	return c
}

// Go sends a call and returns its id and a channel receiving the response.
// The channel is closed without a value if the connection fails first.
func (c *Client) Go(service, method string, args ...any) (uint32, <-chan *message.Response, error) {
	encoded, err := message.EncodeArgs(args...)
	if err != nil {
		return 0, nil, err
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	if c.closing {
		return 0, nil, c.closedErr()
	}

	c.seq++
	id := c.seq
	req := &message.Request{ID: id, Service: service, Method: method, Args: encoded}
	buf, err := protocol.AppendFrame(nil, req, c.opts.codec, c.opts.maxFrameSize)
	if err != nil {
		return 0, nil, err
	}

	// Register before writing, the response may race the write's return
	ch := make(chan *message.Response, 1)
	c.pending.Store(id, ch)
	if _, err := c.conn.Write(buf); err != nil {
		c.pending.Delete(id)
		return 0, nil, err
	}
	return id, ch, nil
}

// Call sends a call and waits for its response or ctx.
func (c *Client) Call(ctx context.Context, service, method string, args ...any) (*message.Response, error) {
	id, ch, err := c.Go(service, method, args...)
	if err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedErr()
		}
		return resp, nil
	case <-ctx.Done():
		c.pending.Delete(id)
		return nil, ctx.Err()
	}
}

// Invoke calls service.method and decodes the result into reply, which may be
// nil. A failed call returns its *message.ErrorDescriptor.
func (c *Client) Invoke(ctx context.Context, reply any, service, method string, args ...any) error {
	resp, err := c.Call(ctx, service, method, args...)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return resp.Error
	}
	if reply == nil {
		return nil
	}
	if err := message.DecodeValue(resp.Result, reply); err != nil {
		return fmt.Errorf("decode result of %s.%s: %w", service, method, err)
	}
	return nil
}

// Heartbeat sends a heartbeat and waits for the server's echo.
func (c *Client) Heartbeat(ctx context.Context) error {
	echo := make(chan struct{}, 1)
	c.hbMu.Lock()
	c.hbWaiters = append(c.hbWaiters, echo)
	c.hbMu.Unlock()

	if err := c.sendHeartbeat(); err != nil {
		c.dropWaiter(echo)
		return err
	}
	select {
	case <-echo:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		c.dropWaiter(echo)
		return ctx.Err()
	}
}

func (c *Client) sendHeartbeat() error {
	buf := protocol.AppendHeartbeat(nil)
	c.sending.Lock()
	defer c.sending.Unlock()
	if c.closing {
		return c.closedErr()
	}
	_, err := c.conn.Write(buf)
	return err
}

func (c *Client) dropWaiter(echo chan struct{}) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	for i, w := range c.hbWaiters {
		if w == echo {
			c.hbWaiters = append(c.hbWaiters[:i], c.hbWaiters[i+1:]...)
			return
		}
	}
}

// heartbeatLoop keeps the connection alive until it closes.
func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// recvLoop is the only reader of the connection. It routes responses by id
// and resolves heartbeat waiters in order.
func (c *Client) recvLoop() {
	dec := protocol.NewDecoder(c.conn, c.opts.maxFrameSize)
	for f, err := range dec.Frames() {
		if err != nil {
			c.fail(err)
			return
		}
		switch f := f.(type) {
		case *message.Response:
			if ch, ok := c.pending.LoadAndDelete(f.ID); ok {
				ch <- f
			}
		case message.Heartbeat:
			c.hbMu.Lock()
			if len(c.hbWaiters) > 0 {
				c.hbWaiters[0] <- struct{}{}
				c.hbWaiters = c.hbWaiters[1:]
			}
			c.hbMu.Unlock()
		}
	}
	c.fail(io.EOF)
}

// fail records the terminal error and releases every pending caller.
func (c *Client) fail(err error) {
	c.sending.Lock()
	if !c.closing {
		c.closing = true
		c.err = err
	}
	c.sending.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.pending.Range(func(id uint32, ch chan *message.Response) bool {
		c.pending.Delete(id)
		close(ch)
		return true
	})
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.sending.Lock()
	if !c.closing {
		c.closing = true
		c.err = ErrClosed
	}
	c.sending.Unlock()
	return c.conn.Close()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is open, and afterwards an error
// wrapping ErrClosed and the cause.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
		return nil
	}
}

func (c *Client) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, c.err)
}

// LocalAddr returns the client side address of the connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }
