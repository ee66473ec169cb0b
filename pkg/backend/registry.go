package backend

import (
	"fmt"
	"sync"

	"github.com/windrose-sh/windrose/pkg/types"
)

// Factory builds a backend from its raw configuration section.
type Factory func(config map[string]string) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[types.BackendType]Factory)
)

// RegisterFactory makes a backend constructor available under its type.
// Provider packages call this from init, the way database drivers do.
func RegisterFactory(t types.BackendType, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[t]; dup {
		panic(fmt.Sprintf("backend factory %q registered twice", t))
	}
	factories[t] = f
}

// NewFromFactory instantiates a registered backend type.
func NewFromFactory(t types.BackendType, config map[string]string) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[t]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", t)
	}
	return f(config)
}

// Registry holds the backends configured for the server.
type Registry struct {
	mu       sync.RWMutex
	backends map[types.BackendType]Backend
	order    []types.BackendType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[types.BackendType]Backend)}
}

// Add registers a configured backend, replacing any previous backend of
// the same type. Registration order is preserved for listing.
func (r *Registry) Add(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.Type()]; !exists {
		r.order = append(r.order, b.Type())
	}
	r.backends[b.Type()] = b
}

// Get returns the backend of the given type, if configured.
func (r *Registry) Get(t types.BackendType) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[t]
	return b, ok
}

// List returns all configured backends in registration order.
func (r *Registry) List() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.backends[t])
	}
	return out
}

// Len returns the number of configured backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
