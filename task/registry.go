package task

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Handler runs a task's business logic. params is the task's arbitrary,
// untyped Params value; handle gives narrow, explicit access to the
// task's mutable side channel (logs, side effects, nextScheduledAt)
// rather than relying on an implicit receiver. The returned value is
// persisted as the task's Result on success; a non-nil error persists
// as the task's failure.
type Handler func(ctx context.Context, params any, handle *TaskHandle) (any, error)

// Registry is an in-memory, process-local mapping from dotted handler
// name to Handler. It is never persisted — multiple worker processes
// may register different subsets of names, and the claim protocol
// restricts itself to the local set via Names.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// RegisterHandler upserts a single handler under name. name may contain
// dots for namespacing; the registry does not interpret the dots itself.
func (r *Registry) RegisterHandler(name string, h Handler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return r
}

// RegisterTree walks a nested mapping recursively. Each leaf whose value
// is a Handler is registered under its dotted path (joined with prefix,
// if any); non-callable, non-empty nested maps are recursed into under
// their own key. Any other leaf (a plain value, an empty map that isn't
// a Handler) is ignored rather than erroring, mirroring the source
// library's tolerant tree walk.
func (r *Registry) RegisterTree(tree map[string]any, prefix ...string) *Registry {
	base := strings.Join(prefix, ".")
	for key, v := range tree {
		name := key
		if base != "" {
			name = base + "." + key
		}
		switch val := v.(type) {
		case Handler:
			r.RegisterHandler(name, val)
		case func(context.Context, any, *TaskHandle) (any, error):
			r.RegisterHandler(name, Handler(val))
		case map[string]any:
			r.RegisterTree(val, name)
		default:
			// non-function, non-mapping leaves are ignored
		}
	}
	return r
}

// RemoveAllHandlers clears the registry.
func (r *Registry) RemoveAllHandlers() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
	return r
}

// Lookup returns the handler registered under name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the set of currently registered handler names, sorted
// for deterministic claim-query construction.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
