package provider

import (
	"fmt"
	"sync"
)

// Registry holds provider adapters indexed by kind.
type Registry struct {
	adapters map[Kind]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Kind]Adapter)}
}

// Register adds an adapter for its kind.
// Panics if the kind is already registered.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Kind()]; exists {
		panic(fmt.Sprintf("provider adapter already registered: %s", a.Kind()))
	}
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for the given kind.
func (r *Registry) Get(kind Kind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	return a, ok
}

// MustGet returns the adapter or an error suitable for activity use.
func (r *Registry) MustGet(kind Kind) (Adapter, error) {
	a, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", kind)
	}
	return a, nil
}

// List returns all registered kinds.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
