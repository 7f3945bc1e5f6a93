package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Registry keeps the process-level mapping of tool names to handlers.
// Read-mostly: registration happens at startup, lookups on every
// request.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Handler{}}
}

// Register adds a handler. Duplicate names are a wiring bug and are
// rejected.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler has empty name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = h
	return nil
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handlers returns all registered handlers in name order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	hs := make([]Handler, 0, len(names))
	for _, n := range names {
		hs = append(hs, r.byName[n])
	}
	return hs
}
