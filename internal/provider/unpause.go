package provider

import (
	"context"
	"fmt"
	"sync"
)

// UnpauseFunc resumes sync for one paused connector of a given kind,
// typically by restarting its incremental workflow.
type UnpauseFunc func(ctx context.Context, connectorID string) error

// UnpauseRegistry is the per-provider unpause dispatch table, assembled
// once at process start.
type UnpauseRegistry struct {
	handlers map[Kind]UnpauseFunc
	mu       sync.RWMutex
}

// NewUnpauseRegistry creates an empty unpause registry.
func NewUnpauseRegistry() *UnpauseRegistry {
	return &UnpauseRegistry{handlers: make(map[Kind]UnpauseFunc)}
}

// Register adds a handler for the given kind.
// Panics if the kind is already registered.
func (r *UnpauseRegistry) Register(kind Kind, fn UnpauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("unpause handler already registered: %s", kind))
	}
	r.handlers[kind] = fn
}

// Unpause dispatches to the handler for the given kind.
func (r *UnpauseRegistry) Unpause(ctx context.Context, kind Kind, connectorID string) error {
	r.mu.RLock()
	fn, ok := r.handlers[kind]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no unpause handler for provider: %s", kind)
	}
	return fn(ctx, connectorID)
}
