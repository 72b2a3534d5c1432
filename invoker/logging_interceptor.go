package invoker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging logs every invocation with its duration; failures at warn level.
func Logging(log *zap.Logger) Interceptor {
	return func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
			start := time.Now()
			result, err := next.Handle(ctx, inv)
			fields := []zap.Field{
				zap.String("method", inv.String()),
				zap.Uint32("id", inv.RequestID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("invocation failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("invocation", fields...)
			}
			return result, err
		})
	}
}
