package invoker

import (
	"context"

	"jrpc/binding"
	"jrpc/message"
)

// Skeleton is the server-side service invoker. It resolves the target of a
// request, runs the interceptor chain and converts the outcome into a Response.
// Failures never leave Invoke as errors or panics.
type Skeleton struct {
	resolver binding.Resolver
	handler  InvocationHandler
}

// NewSkeleton builds the handler chain once: Recover outermost, then the given
// interceptors, then LocalInvocationHandler.
func NewSkeleton(resolver binding.Resolver, interceptors ...Interceptor) *Skeleton {
	chain := append([]Interceptor{Recover()}, interceptors...)
	return &Skeleton{
		resolver: resolver,
		handler:  Chain(chain...)(LocalInvocationHandler{}),
	}
}

// Invoke executes req and always returns a response carrying req.ID.
// Panics raised while encoding the result, outside the Recover interceptor,
// become internal errors as well.
func (s *Skeleton) Invoke(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = message.NewError(req.ID, message.CodeInternal, "panic in %s.%s: %v", req.Service, req.Method, r)
		}
	}()

	svc, err := s.resolver.Resolve(req.Service)
	if err != nil {
		return message.NewErrorFrom(req.ID, message.CodeServiceNotFound, err)
	}

	inv := &Invocation{
		RequestID: req.ID,
		Service:   svc,
		Method:    req.Method,
		Args:      req.Args,
	}
	result, err := s.handler.Handle(ctx, inv)
	if err != nil {
		return message.NewErrorFrom(req.ID, message.CodeBusiness, err)
	}

	data, err := message.EncodeValue(result)
	if err != nil {
		return message.NewError(req.ID, message.CodeInternal, "encode result of %s: %v", inv, err)
	}
	return message.NewResult(req.ID, data)
}
