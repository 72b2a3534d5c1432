package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// unknownMethod is the label of every call to a method the service lacks.
const unknownMethod = "unknown"

// Metrics counts invocations and failures and records their duration per method.
// A nil set registers into the process-wide default set.
func Metrics(set *metrics.Set) Interceptor {
	counter := metrics.GetOrCreateCounter
	histogram := metrics.GetOrCreateHistogram
	if set != nil {
		counter = set.GetOrCreateCounter
		histogram = set.GetOrCreateHistogram
	}
	return func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
			method := inv.Method
			if _, ok := inv.Service.Lookup(method); !ok {
				method = unknownMethod
			}
			labels := fmt.Sprintf(`{service=%q,method=%q}`, inv.Service.Address(), method)
			start := time.Now()
			result, err := next.Handle(ctx, inv)
			counter("jrpc_invocations_total" + labels).Inc()
			if err != nil {
				counter("jrpc_invocation_errors_total" + labels).Inc()
			}
			histogram("jrpc_invocation_duration_seconds" + labels).UpdateDuration(start)
			return result, err
		})
	}
}
