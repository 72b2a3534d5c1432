package invoker

import (
	"context"

	"jrpc/message"
)

// Recover converts a panic in business code into an internal error.
func Recover() Interceptor {
	return func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = message.Errorf(message.CodeInternal, "panic in %s: %v", inv, r)
				}
			}()
			return next.Handle(ctx, inv)
		})
	}
}
