// Package invoker executes calls against bound services.
//
// An InvocationHandler performs one Invocation. Interceptors wrap handlers in
// the onion model, so tracing, filtering and metrics compose without the
// transport knowing about them:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// The Skeleton sits on top of the chain and turns every outcome, including
// failures and panics, into a Response.
package invoker

import (
	"context"

	"jrpc/binding"
	"jrpc/message"
)

// Invocation is the per-call context handed to business logic.
type Invocation struct {
	RequestID uint32
	Service   *binding.Service // Target implementation
	Method    string
	Args      binding.Args
}

// String returns "Service.Method".
func (inv *Invocation) String() string {
	return inv.Service.Address() + "." + inv.Method
}

// InvocationHandler performs an invocation and returns its result value.
type InvocationHandler interface {
	Handle(ctx context.Context, inv *Invocation) (any, error)
}

// HandlerFunc adapts a function to InvocationHandler.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, inv *Invocation) (any, error) {
	return f(ctx, inv)
}

// Interceptor decorates a handler.
type Interceptor func(next InvocationHandler) InvocationHandler

// Chain combines interceptors into one; the first one is outermost.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next InvocationHandler) InvocationHandler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

// LocalInvocationHandler calls straight into the bound implementation's method table.
type LocalInvocationHandler struct{}

func (LocalInvocationHandler) Handle(ctx context.Context, inv *Invocation) (any, error) {
	fn, ok := inv.Service.Lookup(inv.Method)
	if !ok {
		return nil, message.Errorf(message.CodeMethodNotFound, "method %s not found", inv)
	}
	return fn(ctx, inv.Args)
}
