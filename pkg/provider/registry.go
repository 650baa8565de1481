package provider

import (
	"fmt"
	"sync"

	"github.com/terrane-io/terrane/pkg/resource"
)

// Registry maps resource types to the provider responsible for them.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// providers maps resource type to provider instance.
	providers map[resource.Type]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[resource.Type]Provider),
	}
}

// Register binds a provider to a resource type. Registering the same type
// twice replaces the previous binding.
func (r *Registry) Register(typ resource.Type, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[typ] = p
}

// RegisterAll binds a provider to every given resource type.
func (r *Registry) RegisterAll(p Provider, types ...resource.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, typ := range types {
		r.providers[typ] = p
	}
}

// Lookup returns the provider registered for a resource type.
func (r *Registry) Lookup(typ resource.Type) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[typ]
	if !ok {
		return nil, fmt.Errorf("no provider registered for resource type %q", typ)
	}
	return p, nil
}

// Types returns the registered resource types.
func (r *Registry) Types() []resource.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]resource.Type, 0, len(r.providers))
	for typ := range r.providers {
		types = append(types, typ)
	}
	return types
}
