package stream

import (
	"sync"
)

// Registry tracks every open streamer so shutdown can close them together.
type Registry struct {
	mu      sync.Mutex
	streams []*Streamer
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add starts s and tracks it. After CloseAll, s is closed immediately instead.
func (r *Registry) Add(s *Streamer) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Close()
		return
	}
	r.streams = append(r.streams, s)
	r.mu.Unlock()

	s.Start()
}

// Len returns the number of tracked streamers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll closes every streamer and refuses new ones for good.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	streams := r.streams
	r.streams = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *Streamer) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
