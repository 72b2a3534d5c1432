package serve

import (
	"context"
	"testing"

	"jrpc/binding"
	"jrpc/invoker"
	"jrpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, s *invoker.Skeleton, service, method string, args ...any) *message.Response {
	t.Helper()
	encoded, err := message.EncodeArgs(args...)
	require.NoError(t, err)
	return s.Invoke(context.Background(), &message.Request{ID: 1, Service: service, Method: method, Args: encoded})
}

func TestDemoServices(t *testing.T) {
	b := binding.New()
	for _, svc := range demoServices() {
		require.NoError(t, b.Bind(svc))
	}
	s := invoker.NewSkeleton(b)

	resp := call(t, s, "Echo", "echo", map[string]int{"x": 1})
	require.False(t, resp.Failed())
	assert.JSONEq(t, `{"x":1}`, string(resp.Result))

	resp = call(t, s, "Echo", "fail", "nope")
	require.True(t, resp.Failed())
	assert.Equal(t, message.CodeBusiness, resp.Error.Code)
	assert.Equal(t, "nope", resp.Error.Message)

	resp = call(t, s, "Arith", "add", ArithArgs{A: 2, B: 3})
	require.False(t, resp.Failed())
	assert.Equal(t, "5", string(resp.Result))

	resp = call(t, s, "Arith", "div", ArithArgs{A: 1, B: 0})
	require.True(t, resp.Failed())
	assert.Equal(t, message.CodeBadRequest, resp.Error.Code)

	resp = call(t, s, "Sleep", "sleep", 1)
	require.False(t, resp.Failed())
	assert.Equal(t, "1", string(resp.Result))

	assert.Contains(t, serviceNames(b), "Arith.add")
}
