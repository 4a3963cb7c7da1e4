package procpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler serves one method inside a child process. payload is the raw JSON
// argument; the returned value is encoded as the call result.
type Handler func(ctx context.Context, payload []byte) (any, error)

var (
	handlersMu sync.RWMutex
	handlers   = make(map[string]Handler)
)

// Register makes a handler available to child processes under name.
// It panics on an empty name or a duplicate registration, like database/sql drivers.
func Register(name string, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	if name == "" || h == nil {
		panic("procpool: Register with empty name or nil handler")
	}
	if _, dup := handlers[name]; dup {
		panic("procpool: Register called twice for " + name)
	}
	handlers[name] = h
}

// RegisterFunc registers a typed handler. The payload is decoded into In.
func RegisterFunc[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) {
	Register(name, func(ctx context.Context, payload []byte) (any, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", name, err)
			}
		}
		return fn(ctx, in)
	})
}

func lookup(name string) (Handler, bool) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	h, ok := handlers[name]
	return h, ok
}

// Methods lists the registered handler names.
func Methods() []string {
	handlersMu.RLock()
	defer handlersMu.RUnlock()

	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
