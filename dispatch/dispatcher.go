// Package dispatch decides where a decoded request executes: inline on the
// connection's event loop, or on the shared business pool.
package dispatch

import (
	"context"
	"errors"

	"jrpc/message"

	"go.uber.org/zap"
)

// Invoker turns a request into a response. A panic or nil response is reported
// to the client as an internal error.
type Invoker interface {
	Invoke(ctx context.Context, req *message.Request) *message.Response
}

// Dispatcher routes requests to the invoker.
type Dispatcher struct {
	invoker Invoker
	pool    *Pool
	log     *zap.Logger
}

// New creates a dispatcher. With a nil pool every request runs inline.
func New(invoker Invoker, pool *Pool, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{invoker: invoker, pool: pool, log: log}
}

// Inline reports whether requests execute on the calling goroutine.
func (d *Dispatcher) Inline() bool { return d.pool == nil }

// Dispatch executes req.
//
// If the response is available immediately it is returned and reply is never
// called: inline execution, or a pool that refused the task. Otherwise Dispatch
// returns nil and reply is called exactly once from a business goroutine, or
// never if ctx is done or the pool shuts down before the task starts.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request, reply func(*message.Response)) *message.Response {
	if d.pool == nil {
		return d.invoke(ctx, req)
	}

	err := d.pool.Submit(func() {
		// The caller is gone; nobody would receive the response.
		if ctx.Err() != nil {
			return
		}
		reply(d.invoke(ctx, req))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPoolFull):
		d.log.Warn("business pool saturated, rejecting request",
			zap.Uint32("id", req.ID), zap.String("service", req.Service), zap.String("method", req.Method))
		return message.NewError(req.ID, message.CodeOverloaded, "server overloaded")
	default:
		return message.NewError(req.ID, message.CodeUnavailable, "server shutting down")
	}
}

// invoke runs the invoker and always yields a response; a panic becomes an
// internal error.
func (d *Dispatcher) invoke(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("invoker panicked", zap.Uint32("id", req.ID), zap.Any("panic", r))
			resp = message.NewError(req.ID, message.CodeInternal, "internal error")
		}
	}()
	if resp = d.invoker.Invoke(ctx, req); resp == nil {
		resp = message.NewError(req.ID, message.CodeInternal, "no response")
	}
	return resp
}
