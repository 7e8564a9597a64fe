// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// HandlerFunc handles one call. params is the raw msgpack params value.
// The returned value is msgpack-encoded into the response result.
type HandlerFunc func(ctx context.Context, params msgpack.RawMessage) (any, error)

// Registry maps method names to bound handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds name to handler. Registering a duplicate name or a nil
// handler is a configuration bug and panics.
func (r *Registry) Register(name string, handler HandlerFunc) {
	if name == "" {
		panic("rpc.Registry: empty method name")
	}
	if handler == nil {
		panic(fmt.Sprintf("rpc.Registry: nil handler for method %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("rpc.Registry: duplicate handler for method %q", name))
	}
	r.handlers[name] = handler
}

// RegisterAll registers every method of a service, in name order.
func (r *Registry) RegisterAll(methods map[string]HandlerFunc) {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.Register(name, methods[name])
	}
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered method names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind adapts a typed function into a HandlerFunc. Params are decoded into P.
func Bind[P any, R any](fn func(ctx context.Context, params P) (R, error)) HandlerFunc {
	return func(ctx context.Context, raw msgpack.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 {
			if err := msgpack.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
		}
		return fn(ctx, params)
	}
}
