package transport

import (
	"context"

	"jrpc/invoker"
	"jrpc/registry"

	"go.uber.org/zap"
)

// Publisher is implemented by resolvers that can announce their services in a
// registry, such as *binding.Binding.
type Publisher interface {
	SetServiceAddress(addr string)
	Publish(ctx context.Context, reg registry.Registry, ttl int64) error
	Withdraw(ctx context.Context, reg registry.Registry) error
}

type options struct {
	log           *zap.Logger
	interceptors  []invoker.Interceptor
	registry      registry.Registry
	ttl           int64
	advertiseAddr string
}

// Option configures an Acceptance.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithInterceptors appends interceptors to the invocation chain, first one outermost.
func WithInterceptors(interceptors ...invoker.Interceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, interceptors...)
	}
}

// WithRegistry publishes the bound services to reg after a successful bind
// and withdraws them on destroy. ttl is the lease time in seconds.
func WithRegistry(reg registry.Registry, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.ttl = ttl
	}
}

// WithAdvertiseAddr sets the address published to the registry. It defaults to
// the listen address, with an unspecified host replaced by 127.0.0.1.
func WithAdvertiseAddr(addr string) Option {
	return func(o *options) {
		o.advertiseAddr = addr
	}
}
