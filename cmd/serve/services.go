package serve

import (
	"context"
	"errors"
	"time"

	"jrpc/binding"
	"jrpc/message"
)

// ArithArgs are the operands of the Arith methods.
type ArithArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

// demoServices are the services started by `jrpc serve`.
func demoServices() []*binding.Service {
	echo := binding.NewService("Echo", "", nil).
		Method("echo", binding.Unary(func(_ context.Context, msg any) (any, error) {
			return msg, nil
		})).
		Method("fail", binding.Unary(func(_ context.Context, msg string) (any, error) {
			return nil, errors.New(msg)
		}))

	arith := binding.NewService("Arith", "", nil).
		Method("add", binding.Unary(func(_ context.Context, args ArithArgs) (int, error) {
			return args.A + args.B, nil
		})).
		Method("div", binding.Unary(func(_ context.Context, args ArithArgs) (int, error) {
			if args.B == 0 {
				return 0, message.Errorf(message.CodeBadRequest, "division by zero")
			}
			return args.A / args.B, nil
		}))

	sleep := binding.NewService("Sleep", "", nil).
		Method("sleep", binding.Unary(func(ctx context.Context, ms int) (int, error) {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return ms, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}))

	return []*binding.Service{echo, arith, sleep}
}
