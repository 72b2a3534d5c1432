// Package registry publishes the network address of bound services.
//
// The server side only registers and deregisters; Discover exists for operators
// and the command line client.
package registry

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

type ServiceInstance struct {
	Addr    string
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
}

// MemoryRegistry keeps registrations in process. TTLs are ignored.
type MemoryRegistry struct {
	entries *xsync.MapOf[string, *xsync.MapOf[string, ServiceInstance]]
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: xsync.NewMapOf[string, *xsync.MapOf[string, ServiceInstance]]()}
}

func (r *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	instances, _ := r.entries.LoadOrCompute(serviceName, func() *xsync.MapOf[string, ServiceInstance] {
		return xsync.NewMapOf[string, ServiceInstance]()
	})
	instances.Store(instance.Addr, instance)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	if instances, ok := r.entries.Load(serviceName); ok {
		instances.Delete(addr)
	}
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	out := make([]ServiceInstance, 0)
	if instances, ok := r.entries.Load(serviceName); ok {
		instances.Range(func(_ string, inst ServiceInstance) bool {
			out = append(out, inst)
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}
