// Package transport implements the server side of the RPC transport.
//
// An Acceptance owns a gnet engine: one main reactor accepts connections and
// WorkerCount event loops run each connection's I/O, framing and heartbeat
// handling. Requests are handed to a dispatch.Dispatcher, which runs them on
// the event loop or on a bounded business pool.
//
// Lifecycle:
//
//	Bind → unbound ─▶ bound ─▶ closed ◀─ Destroy
//
// There is no re-bind; a destroyed Acceptance stays closed.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"jrpc/binding"
	"jrpc/dispatch"
	"jrpc/invoker"

	"github.com/panjf2000/gnet/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	stateUnbound int32 = iota
	stateBound
	stateClosed
)

// Acceptance is a bound server transport. It implements gnet.EventHandler.
type Acceptance struct {
	gnet.BuiltinEventEngine

	cfg        TransportConfig
	opts       options
	log        *zap.Logger
	resolver   binding.Resolver
	dispatcher *dispatch.Dispatcher
	pool       *dispatch.Pool // nil in inline mode

	addr      *net.TCPAddr
	engine    gnet.Engine
	state     atomic.Int32
	accepting atomic.Bool
	booted    chan struct{}
	runErr    chan error

	conns  *xsync.MapOf[uint64, *connection]
	nextID atomic.Uint64

	destroyOnce sync.Once
	destroyErr  error
}

// Bind validates cfg, listens on cfg.Address and starts serving the services
// known to resolver. Any failure to open the listener is an ErrBindFailure.
func Bind(cfg TransportConfig, resolver binding.Resolver, opts ...Option) (*Acceptance, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrBindFailure, cfg.Address, err)
	}

	a := &Acceptance{
		cfg:      cfg,
		opts:     o,
		log:      o.log.Named("transport"),
		resolver: resolver,
		addr:     addr,
		booted:   make(chan struct{}),
		runErr:   make(chan error, 1),
		conns:    xsync.NewMapOf[uint64, *connection](),
	}
	if cfg.BusinessCount > 0 {
		a.pool = dispatch.NewPool(cfg.BusinessCount, cfg.BusinessQueueSize, a.log)
	}
	skeleton := invoker.NewSkeleton(resolver, o.interceptors...)
	a.dispatcher = dispatch.New(skeleton, a.pool, a.log)

	a.log.Info("binding transport", zap.String("config", cfg.String()))
	go func() {
		a.runErr <- gnet.Run(a, "tcp://"+addr.String(), a.engineOptions()...)
	}()

	select {
	case <-a.booted:
	case err := <-a.runErr:
		a.state.Store(stateClosed)
		if a.pool != nil {
			_ = a.pool.Shutdown(context.Background())
		}
		return nil, fmt.Errorf("%w: listen on %s: %v", ErrBindFailure, cfg.Address, err)
	}

	if o.registry != nil {
		if err := a.publish(); err != nil {
			return nil, multierr.Append(fmt.Errorf("publish services: %w", err), a.Destroy())
		}
	}
	a.log.Info("transport bound", zap.Stringer("addr", addr))
	return a, nil
}

func (a *Acceptance) engineOptions() []gnet.Option {
	return []gnet.Option{
		gnet.WithMulticore(a.cfg.WorkerCount > 1),
		gnet.WithNumEventLoop(a.cfg.WorkerCount),
		gnet.WithLoadBalancing(gnet.LeastConnections),
		gnet.WithReuseAddr(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithSocketRecvBuffer(a.cfg.SocketRecvBuffer),
		gnet.WithSocketSendBuffer(a.cfg.SocketSendBuffer),
		gnet.WithLogger(a.log.Named("gnet").Sugar()),
	}
}

func (a *Acceptance) publish() error {
	p, ok := a.resolver.(Publisher)
	if !ok {
		return fmt.Errorf("resolver %T cannot publish its services", a.resolver)
	}
	advertise := a.opts.advertiseAddr
	if advertise == "" {
		host := "127.0.0.1"
		if a.addr.IP != nil && !a.addr.IP.IsUnspecified() {
			host = a.addr.IP.String()
		}
		advertise = net.JoinHostPort(host, fmt.Sprint(a.addr.Port))
	}
	p.SetServiceAddress(advertise)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return p.Publish(ctx, a.opts.registry, a.opts.ttl)
}

// Addr returns the listen address.
func (a *Acceptance) Addr() net.Addr { return a.addr }

// Connections returns the number of open connections.
func (a *Acceptance) Connections() int { return a.conns.Size() }

// Destroy stops accepting, withdraws published services, closes every
// connection and shuts the business pool down. Running business tasks get up
// to ShutdownTimeout to finish; queued ones are cancelled. Destroy is
// idempotent and always completes.
func (a *Acceptance) Destroy() error {
	a.destroyOnce.Do(func() {
		a.destroyErr = a.destroy()
	})
	return a.destroyErr
}

func (a *Acceptance) destroy() error {
	a.accepting.Store(false)
	prev := a.state.Swap(stateClosed)
	if prev != stateBound {
		return nil
	}
	a.log.Info("destroying transport", zap.Int("connections", a.Connections()))

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if a.opts.registry != nil {
		if p, ok := a.resolver.(Publisher); ok {
			err = multierr.Append(err, p.Withdraw(ctx, a.opts.registry))
		}
	}

	if stopErr := a.engine.Stop(ctx); stopErr != nil {
		err = multierr.Append(err, fmt.Errorf("stop engine: %w", stopErr))
	}
	select {
	case runErr := <-a.runErr:
		err = multierr.Append(err, runErr)
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("wait for engine: %w", ctx.Err()))
	}

	if a.pool != nil {
		if poolErr := a.pool.Shutdown(ctx); poolErr != nil {
			err = multierr.Append(err, fmt.Errorf("shut down business pool: %w", poolErr))
		}
	}
	a.log.Info("transport destroyed", zap.Error(err))
	return err
}

// OnBoot marks the Acceptance bound once the engine listens.
func (a *Acceptance) OnBoot(eng gnet.Engine) gnet.Action {
	a.engine = eng
	a.state.Store(stateBound)
	a.accepting.Store(true)
	close(a.booted)
	return gnet.None
}

// OnOpen creates the connection handler, or refuses the socket during shutdown.
func (a *Acceptance) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if !a.accepting.Load() {
		return nil, gnet.Close
	}
	id := a.nextID.Add(1)
	conn := newConnection(id, gnetLink{c}, a.dispatcher, &a.cfg, a.log)
	c.SetContext(conn)
	a.conns.Store(id, conn)
	return nil, gnet.None
}

// OnClose releases the connection handler.
func (a *Acceptance) OnClose(c gnet.Conn, err error) gnet.Action {
	if conn, ok := c.Context().(*connection); ok {
		a.conns.Delete(conn.id)
		conn.onClose(err)
	}
	return gnet.None
}

// OnTraffic feeds the inbound buffer to the connection handler and discards
// whatever it consumed. Partial frames stay buffered for the next call.
func (a *Acceptance) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*connection)
	if !ok {
		return gnet.Close
	}
	buf, err := c.Peek(c.InboundBuffered())
	if err != nil {
		conn.handle(PipelineErrorEvent{Err: fmt.Errorf("read: %w", err)})
		return gnet.Close
	}
	if n := conn.feed(buf); n > 0 {
		_, _ = c.Discard(n)
	}
	return gnet.None
}

// OnShutdown runs once the engine has stopped.
func (a *Acceptance) OnShutdown(gnet.Engine) {
	a.log.Debug("engine stopped")
}

// gnetLink adapts a gnet connection to link.
type gnetLink struct {
	c gnet.Conn
}

func (l gnetLink) write(buf []byte) error {
	_, err := l.c.Write(buf)
	return err
}

func (l gnetLink) writeAsync(buf []byte, done func(err error)) error {
	return l.c.AsyncWrite(buf, func(_ gnet.Conn, err error) error {
		done(err)
		return nil
	})
}

func (l gnetLink) close() error { return l.c.Close() }

func (l gnetLink) remoteAddr() string {
	if addr := l.c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
