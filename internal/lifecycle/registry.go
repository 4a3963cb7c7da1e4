package lifecycle

import (
	"context"
	"sync"
)

// Func is a finalize or initialize function.
type Func func(ctx context.Context) error

// Entry is a named registry function.
type Entry struct {
	Name string
	Fn   Func
}

// Registry is an ordered list of functions drained exactly once.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
	drained bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends fn. It reports false once the registry has been drained.
func (r *Registry) Add(name string, fn Func) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return false
	}
	r.entries = append(r.entries, Entry{Name: name, Fn: fn})
	return true
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain returns the registered functions in order and clears the registry.
// Only the first call returns entries.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return nil
	}
	r.drained = true
	entries := r.entries
	r.entries = nil
	return entries
}
