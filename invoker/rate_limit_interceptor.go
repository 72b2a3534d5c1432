package invoker

import (
	"context"

	"jrpc/message"

	"golang.org/x/time/rate"
)

// RateLimit rejects invocations beyond a token bucket of r per second with the given burst.
func RateLimit(r float64, burst int) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
			if !limiter.Allow() {
				return nil, message.Errorf(message.CodeRateLimited, "rate limit exceeded")
			}
			return next.Handle(ctx, inv)
		})
	}
}
