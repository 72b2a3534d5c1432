package invoker

import (
	"context"
	"time"

	"jrpc/message"
)

type handleResult struct {
	result any
	err    error
}

// Timeout bounds an invocation. The business call keeps running in the
// background after the deadline; it sees the cancelled context.
func Timeout(timeout time.Duration) Interceptor {
	return func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan handleResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- handleResult{err: message.Errorf(message.CodeInternal, "panic in %s: %v", inv, r)}
					}
				}()
				result, err := next.Handle(ctx, inv)
				done <- handleResult{result: result, err: err}
			}()

			select {
			case r := <-done:
				return r.result, r.err
			case <-ctx.Done():
				return nil, message.Errorf(message.CodeTimeout, "request timed out")
			}
		})
	}
}
