package binding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"jrpc/message"
	"jrpc/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type AddArgs struct {
	A, B int
}

func newArith() *Service {
	return NewService("Arith", "1.0", nil).
		Method("Add", Unary(func(_ context.Context, args AddArgs) (int, error) {
			return args.A + args.B, nil
		})).
		Method("Div", Binary(func(_ context.Context, a, b int) (int, error) {
			if b == 0 {
				return 0, errors.New("division by zero")
			}
			return a / b, nil
		}))
}

func TestBindAndResolve(t *testing.T) {
	b := New()
	require.NoError(t, b.Bind(newArith()))
	require.ErrorIs(t, b.Bind(newArith()), ErrDuplicateService)

	svc, err := b.Resolve("Arith:1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"Add", "Div"}, svc.Methods())

	_, err = b.Resolve("Arith")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestConcurrentResolve(t *testing.T) {
	b := New().MustBind(newArith()).MustBind(NewService("Echo", "", nil))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_, err := b.Resolve("Echo")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestTypedMethods(t *testing.T) {
	svc := newArith()
	add, ok := svc.Lookup("Add")
	require.True(t, ok)

	args, err := message.EncodeArgs(AddArgs{A: 1, B: 2})
	require.NoError(t, err)
	result, err := add(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, 3, result)

	div, _ := svc.Lookup("Div")
	_, err = div(context.Background(), Args{[]byte("1")})
	var d *message.ErrorDescriptor
	require.ErrorAs(t, err, &d)
	assert.Equal(t, message.CodeBadRequest, d.Code)

	_, err = div(context.Background(), Args{[]byte(`"x"`), []byte("1")})
	require.ErrorAs(t, err, &d)
	assert.Equal(t, message.CodeBadRequest, d.Code)
}

func TestDuplicateMethodPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewService("Echo", "", nil).Method("echo", nil).Method("echo", nil)
	})
}

func TestPublishAndWithdraw(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	b := New().MustBind(newArith()).MustBind(NewService("Echo", "", nil))

	require.Error(t, b.Publish(ctx, reg, 10))

	b.SetServiceAddress("127.0.0.1:9100")
	require.NoError(t, b.Publish(ctx, reg, 10))

	instances, err := reg.Discover(ctx, "Arith:1.0")
	require.NoError(t, err)
	assert.Equal(t, []registry.ServiceInstance{{Addr: "127.0.0.1:9100", Version: "1.0"}}, instances)

	require.NoError(t, b.Withdraw(ctx, reg))
	instances, err = reg.Discover(ctx, "Echo")
	require.NoError(t, err)
	assert.Empty(t, instances)
}
