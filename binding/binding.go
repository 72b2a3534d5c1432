// Package binding maps service addresses to their implementations.
//
// The table is filled at start-up and then only read, concurrently, by every
// connection resolving the target of a request. A Binding also knows the network
// address the services are exposed on and can publish itself to a registry.
package binding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"jrpc/registry"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
)

// ErrServiceNotFound is returned by Resolve for an unknown service address.
var ErrServiceNotFound = errors.New("binding: service not found")

// ErrDuplicateService is returned by Bind when the address is already taken.
var ErrDuplicateService = errors.New("binding: service already bound")

// Resolver is the lookup contract the transport depends on.
type Resolver interface {
	Resolve(serviceAddress string) (*Service, error)
}

// Binding is the default Resolver: an in-memory table safe for concurrent reads.
type Binding struct {
	services *xsync.MapOf[string, *Service]

	mu      sync.RWMutex
	address string // Network address the services are exposed on, e.g. "127.0.0.1:9100"
}

// New creates an empty binding.
func New() *Binding {
	return &Binding{services: xsync.NewMapOf[string, *Service]()}
}

// Bind adds a service under its address.
func (b *Binding) Bind(svc *Service) error {
	if _, loaded := b.services.LoadOrStore(svc.Address(), svc); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateService, svc.Address())
	}
	return nil
}

// MustBind is Bind for start-up code, panicking on duplicates.
func (b *Binding) MustBind(svc *Service) *Binding {
	if err := b.Bind(svc); err != nil {
		panic(err)
	}
	return b
}

// Resolve returns the service bound under serviceAddress.
func (b *Binding) Resolve(serviceAddress string) (*Service, error) {
	if svc, ok := b.services.Load(serviceAddress); ok {
		return svc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceAddress)
}

// Services returns all bound services ordered by address.
func (b *Binding) Services() []*Service {
	out := make([]*Service, 0, b.services.Size())
	b.services.Range(func(_ string, svc *Service) bool {
		out = append(out, svc)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// ServiceAddress returns the network address the services are exposed on.
func (b *Binding) ServiceAddress() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.address
}

// SetServiceAddress records the network address the services are exposed on.
func (b *Binding) SetServiceAddress(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.address = addr
}

// Publish registers every bound service at the binding's network address.
func (b *Binding) Publish(ctx context.Context, reg registry.Registry, ttl int64) error {
	addr := b.ServiceAddress()
	if addr == "" {
		return errors.New("binding: no service address to publish")
	}
	var err error
	for _, svc := range b.Services() {
		err = multierr.Append(err, reg.Register(ctx, svc.Address(), registry.ServiceInstance{
			Addr:    addr,
			Version: svc.Version,
		}, ttl))
	}
	return err
}

// Withdraw removes every bound service from the registry.
func (b *Binding) Withdraw(ctx context.Context, reg registry.Registry) error {
	addr := b.ServiceAddress()
	var err error
	for _, svc := range b.Services() {
		err = multierr.Append(err, reg.Deregister(ctx, svc.Address(), addr))
	}
	return err
}
