package invoker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"jrpc/binding"
	"jrpc/message"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// badResult fails while being encoded into a response.
type badResult struct{}

func (badResult) MarshalJSON() ([]byte, error) { panic("MarshalJSON exploded") }

func newArith() *binding.Service {
	return binding.NewService("Arith", "", nil).
		Method("Add", binding.Binary(func(_ context.Context, a, b int) (int, error) {
			return a + b, nil
		})).
		Method("Fail", func(context.Context, binding.Args) (any, error) {
			return nil, errors.New("boom")
		}).
		Method("Panic", func(context.Context, binding.Args) (any, error) {
			panic("kaboom")
		}).
		Method("Slow", func(ctx context.Context, _ binding.Args) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		Method("Chan", func(context.Context, binding.Args) (any, error) {
			return make(chan int), nil
		}).
		Method("BadResult", func(context.Context, binding.Args) (any, error) {
			return badResult{}, nil
		})
}

func newInvocation(t *testing.T, method string, args ...any) *Invocation {
	t.Helper()
	encoded, err := message.EncodeArgs(args...)
	require.NoError(t, err)
	return &Invocation{RequestID: 1, Service: newArith(), Method: method, Args: encoded}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Interceptor {
		return func(next InvocationHandler) InvocationHandler {
			return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
				trace = append(trace, name+".before")
				r, err := next.Handle(ctx, inv)
				trace = append(trace, name+".after")
				return r, err
			})
		}
	}
	h := Chain(mark("A"), mark("B"), mark("C"))(HandlerFunc(func(context.Context, *Invocation) (any, error) {
		trace = append(trace, "handler")
		return nil, nil
	}))

	_, err := h.Handle(context.Background(), newInvocation(t, "Add"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"A.before", "B.before", "C.before", "handler", "C.after", "B.after", "A.after",
	}, trace)
}

func TestLocalInvocationHandler(t *testing.T) {
	result, err := LocalInvocationHandler{}.Handle(context.Background(), newInvocation(t, "Add", 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 5, result)

	_, err = LocalInvocationHandler{}.Handle(context.Background(), newInvocation(t, "Missing"))
	require.Error(t, err)
	assert.Equal(t, message.CodeMethodNotFound, message.DescriptorOf(err, 0).Code)
}

func TestLogging(t *testing.T) {
	h := Logging(zap.NewNop())(LocalInvocationHandler{})

	result, err := h.Handle(context.Background(), newInvocation(t, "Add", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, result)

	_, err = h.Handle(context.Background(), newInvocation(t, "Fail"))
	assert.EqualError(t, err, "boom")
}

func TestTimeoutPass(t *testing.T) {
	h := Timeout(500 * time.Millisecond)(LocalInvocationHandler{})

	result, err := h.Handle(context.Background(), newInvocation(t, "Slow"))
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestTimeoutExceeded(t *testing.T) {
	h := Timeout(50 * time.Millisecond)(LocalInvocationHandler{})

	start := time.Now()
	_, err := h.Handle(context.Background(), newInvocation(t, "Slow"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	desc := message.DescriptorOf(err, 0)
	assert.Equal(t, message.CodeTimeout, desc.Code)
	assert.Equal(t, "request timed out", desc.Message)
}

func TestRateLimit(t *testing.T) {
	// 1 per second with burst 2: the first two pass, the third is rejected.
	h := RateLimit(1, 2)(LocalInvocationHandler{})

	for i := 0; i < 2; i++ {
		_, err := h.Handle(context.Background(), newInvocation(t, "Add", i, i))
		require.NoError(t, err, "request %d", i)
	}

	_, err := h.Handle(context.Background(), newInvocation(t, "Add", 1, 1))
	require.Error(t, err)
	assert.Equal(t, message.CodeRateLimited, message.DescriptorOf(err, 0).Code)
}

func TestRecover(t *testing.T) {
	h := Recover()(LocalInvocationHandler{})

	result, err := h.Handle(context.Background(), newInvocation(t, "Panic"))
	assert.Nil(t, result)
	require.Error(t, err)
	desc := message.DescriptorOf(err, 0)
	assert.Equal(t, message.CodeInternal, desc.Code)
	assert.Contains(t, desc.Message, "kaboom")
}

func TestMetrics(t *testing.T) {
	set := metrics.NewSet()
	h := Metrics(set)(LocalInvocationHandler{})

	_, _ = h.Handle(context.Background(), newInvocation(t, "Add", 1, 2))
	_, _ = h.Handle(context.Background(), newInvocation(t, "Fail"))

	var sb strings.Builder
	set.WritePrometheus(&sb)
	out := sb.String()
	assert.Contains(t, out, `jrpc_invocations_total{service="Arith",method="Add"} 1`)
	assert.Contains(t, out, `jrpc_invocation_errors_total{service="Arith",method="Fail"} 1`)
	assert.NotContains(t, out, `jrpc_invocation_errors_total{service="Arith",method="Add"}`)
	assert.Contains(t, out, "jrpc_invocation_duration_seconds")
}

func TestMetricsUnknownMethods(t *testing.T) {
	set := metrics.NewSet()
	h := Metrics(set)(LocalInvocationHandler{})

	for i := 0; i < 50; i++ {
		_, err := h.Handle(context.Background(), newInvocation(t, fmt.Sprintf("nope%d", i)))
		require.Error(t, err)
	}

	var sb strings.Builder
	set.WritePrometheus(&sb)
	out := sb.String()
	assert.Contains(t, out, `jrpc_invocations_total{service="Arith",method="unknown"} 50`)
	assert.Contains(t, out, `jrpc_invocation_errors_total{service="Arith",method="unknown"} 50`)
	assert.NotContains(t, out, "nope")
	assert.Equal(t, 1, strings.Count(out, "jrpc_invocations_total{"))
}

func newSkeleton(interceptors ...Interceptor) *Skeleton {
	b := binding.New()
	b.MustBind(newArith())
	return NewSkeleton(b, interceptors...)
}

func request(t *testing.T, id uint32, service, method string, args ...any) *message.Request {
	t.Helper()
	encoded, err := message.EncodeArgs(args...)
	require.NoError(t, err)
	return &message.Request{ID: id, Service: service, Method: method, Args: encoded}
}

func TestSkeletonInvoke(t *testing.T) {
	s := newSkeleton()

	resp := s.Invoke(context.Background(), request(t, 7, "Arith", "Add", 20, 22))
	require.False(t, resp.Failed())
	assert.Equal(t, uint32(7), resp.ID)
	assert.Equal(t, "42", string(resp.Result))
}

func TestSkeletonFailures(t *testing.T) {
	s := newSkeleton()

	tests := []struct {
		name    string
		service string
		method  string
		args    []any
		code    message.Code
	}{
		{"unknown service", "Nope", "Add", nil, message.CodeServiceNotFound},
		{"unknown method", "Arith", "Nope", nil, message.CodeMethodNotFound},
		{"business error", "Arith", "Fail", nil, message.CodeBusiness},
		{"panic", "Arith", "Panic", nil, message.CodeInternal},
		{"bad arguments", "Arith", "Add", []any{"x", "y"}, message.CodeBadRequest},
		{"unencodable result", "Arith", "Chan", nil, message.CodeInternal},
		{"panicking result encoder", "Arith", "BadResult", nil, message.CodeInternal},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uint32(100 + i)
			resp := s.Invoke(context.Background(), request(t, id, tt.service, tt.method, tt.args...))
			require.True(t, resp.Failed())
			assert.Equal(t, id, resp.ID)
			assert.Nil(t, resp.Result)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestSkeletonRunsInterceptors(t *testing.T) {
	calls := 0
	count := func(next InvocationHandler) InvocationHandler {
		return HandlerFunc(func(ctx context.Context, inv *Invocation) (any, error) {
			calls++
			return next.Handle(ctx, inv)
		})
	}
	s := newSkeleton(count)

	s.Invoke(context.Background(), request(t, 1, "Arith", "Add", 1, 1))
	// Unresolvable targets never reach the chain.
	s.Invoke(context.Background(), request(t, 2, "Nope", "Add"))
	assert.Equal(t, 1, calls)
}
