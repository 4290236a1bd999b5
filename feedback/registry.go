package feedback

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a registered scoring implementation: a stable provider/method
// identity, an explicitly declared parameter list, and the call itself.
// Parameter declarations replace signature reflection — validation is a
// plain subset check against Params.
//
// Call receives the resolved arguments keyed by parameter name and returns
// a numeric score or a structured value. Implementations wrapping network
// providers should honor ctx cancellation.
type Func struct {
	Provider string
	Name     string
	Params   []string
	Call     func(ctx context.Context, args map[string]any) (any, error)
}

// QualifiedName returns the provider-qualified method name, e.g.
// "openai.relevance". This is the identity persisted in serialized
// definitions.
func (f Func) QualifiedName() string {
	return f.Provider + "." + f.Name
}

// Registry is a closed mapping from provider/method identifiers to scoring
// implementations. Deferred rows rehydrate their implementations through a
// registry; identifiers unknown to the registry are rejected at lookup, and
// malformed registrations are rejected at registration time.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds an implementation. It fails on missing identity fields,
// a nil call, duplicate parameter names, or a duplicate registration.
func (r *Registry) Register(f Func) error {
	if f.Provider == "" || f.Name == "" {
		return fmt.Errorf("feedback: register: provider and name are required")
	}
	if f.Call == nil {
		return fmt.Errorf("feedback: register %s: call is nil", f.QualifiedName())
	}
	seen := make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		if p == "" {
			return fmt.Errorf("feedback: register %s: empty parameter name", f.QualifiedName())
		}
		if seen[p] {
			return fmt.Errorf("feedback: register %s: duplicate parameter %q", f.QualifiedName(), p)
		}
		seen[p] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := f.QualifiedName()
	if _, dup := r.funcs[key]; dup {
		return fmt.Errorf("feedback: register %s: already registered", key)
	}
	r.funcs[key] = f
	return nil
}

// Lookup returns the implementation registered under provider/name.
func (r *Registry) Lookup(provider, name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[provider+"."+name]
	return f, ok
}

// Names returns the qualified names of all registered implementations,
// sorted for stable listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
