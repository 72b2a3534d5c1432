package binding

import (
	"context"
	"fmt"
	"sort"

	"jrpc/message"
)

// MethodFunc is one remotely callable method. Arguments arrive encoded; the
// returned value is encoded by the caller with message.EncodeValue.
type MethodFunc func(ctx context.Context, args Args) (any, error)

// Args are the encoded arguments of one call, in order.
type Args [][]byte

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Decode decodes argument i into v. Missing or undecodable arguments are
// reported as a bad request.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return message.Errorf(message.CodeBadRequest, "missing argument %d (got %d)", i, len(a))
	}
	if err := message.DecodeValue(a[i], v); err != nil {
		return message.Errorf(message.CodeBadRequest, "argument %d: %v", i, err)
	}
	return nil
}

// Service is an implementation instance together with its method table.
// The table is built once at configuration time and never changes afterwards.
type Service struct {
	Name    string
	Version string
	Impl    any // The implementation instance, for interceptors that need it
	methods map[string]MethodFunc
}

// NewService creates a service without methods. Register methods with Method.
func NewService(name, version string, impl any) *Service {
	return &Service{
		Name:    name,
		Version: version,
		Impl:    impl,
		methods: make(map[string]MethodFunc),
	}
}

// Method registers fn under name and returns the service for chaining.
// Registering the same name twice panics, as it is a programming error.
func (s *Service) Method(name string, fn MethodFunc) *Service {
	if _, ok := s.methods[name]; ok {
		panic(fmt.Sprintf("binding: method %s.%s registered twice", s.Name, name))
	}
	s.methods[name] = fn
	return s
}

// Lookup returns the method registered under name.
func (s *Service) Lookup(name string) (MethodFunc, bool) {
	fn, ok := s.methods[name]
	return fn, ok
}

// Methods returns the registered method names, sorted.
func (s *Service) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Address is the key the service is bound under: "Name" or "Name:Version".
func (s *Service) Address() string {
	return ServiceAddress(s.Name, s.Version)
}

// ServiceAddress builds the address of a service name and version.
func ServiceAddress(name, version string) string {
	if version == "" {
		return name
	}
	return name + ":" + version
}

// Unary adapts a typed single-argument function into a MethodFunc.
func Unary[A, R any](fn func(ctx context.Context, arg A) (R, error)) MethodFunc {
	return func(ctx context.Context, args Args) (any, error) {
		var arg A
		if err := args.Decode(0, &arg); err != nil {
			return nil, err
		}
		return fn(ctx, arg)
	}
}

// Binary adapts a typed two-argument function into a MethodFunc.
func Binary[A, B, R any](fn func(ctx context.Context, a A, b B) (R, error)) MethodFunc {
	return func(ctx context.Context, args Args) (any, error) {
		var a A
		var b B
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}
