package midirpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"midirpc/internal/errs"
)

// Callable is one remotely invocable function. It receives the decoded
// positional and keyword arguments and returns a value from the codec's
// supported set, or an error that will travel back as a fault.
type Callable func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry is the explicit allow-list of callables a server may execute.
// Names are resolved against this closed mapping only; there is no dynamic
// attribute lookup, so the executable surface stays auditable.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

func NewRegistry() *Registry {
	return &Registry{callables: make(map[string]Callable)}
}

// Register adds one callable under its fully qualified name. Registering a
// name twice is refused so that a later binding cannot silently shadow an
// audited one.
func (r *Registry) Register(name string, fn Callable) error {
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: %q", errs.ErrInvalidTarget, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: %q has no implementation", errs.ErrInvalidTarget, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callables[name]; exists {
		return fmt.Errorf("midirpc: target %q already registered", name)
	}
	r.callables[name] = fn
	return nil
}

// MustRegister is Register for static, startup-time tables.
func (r *Registry) MustRegister(name string, fn Callable) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[name]
	return fn, ok
}

// Names returns the registered targets in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callables))
	for name := range r.callables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
