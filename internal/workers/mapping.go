package workers

import (
	"context"
	"sync"
	"sync/atomic"
)

// MapResult tracks a MapAsync call.
type MapResult struct {
	total    int
	done     atomic.Int64
	failed   atomic.Int64
	errs     []error
	finished []bool
	mu       sync.Mutex
	ready    chan struct{}
}

func newMapResult(total int) *MapResult {
	r := &MapResult{
		total:    total,
		errs:     make([]error, total),
		finished: make([]bool, total),
		ready:    make(chan struct{}),
	}
	if total == 0 {
		close(r.ready)
	}
	return r
}

func (r *MapResult) finish(i int, err error) {
	r.mu.Lock()
	if r.finished[i] {
		r.mu.Unlock()
		return
	}
	r.finished[i] = true
	r.errs[i] = err
	r.mu.Unlock()

	if err != nil {
		r.failed.Add(1)
	}
	if int(r.done.Add(1)) == r.total {
		close(r.ready)
	}
}

// Ready reports whether every element has been processed.
func (r *MapResult) Ready() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Successful reports whether every element has been processed without error.
func (r *MapResult) Successful() bool {
	return r.Ready() && r.failed.Load() == 0
}

// Done returns how many elements have been processed so far.
func (r *MapResult) Done() int {
	return int(r.done.Load())
}

// Wait blocks until every element has been processed or ctx is done.
// The returned slice holds one entry per element, nil on success.
func (r *MapResult) Wait(ctx context.Context) ([]error, error) {
	select {
	case <-r.ready:
		return r.Errors(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Errors returns a snapshot of the per-element errors.
func (r *MapResult) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// MapAsync submits fn for every item and returns immediately.
// Submission stops at the first refusal; the remaining items complete with that error.
func MapAsync[T any](ctx context.Context, p *WorkerPool, items []T, fn func(ctx context.Context, item T) error) *MapResult {
	r := newMapResult(len(items))

	for i, item := range items {
		i, item := i, item
		err := p.SubmitWithContext(ctx, func(ctx context.Context) error {
			return fn(ctx, item)
		}, func(err error) {
			r.finish(i, err)
		})
		if err != nil {
			for j := i; j < len(items); j++ {
				r.finish(j, err)
			}
			break
		}
	}

	return r
}

// Map applies fn to every item on the pool and blocks until all have been processed.
// A failing element does not stop its siblings. Calling Map from one of p's own
// workers can deadlock when every worker does so.
func Map[T any](ctx context.Context, p *WorkerPool, items []T, fn func(ctx context.Context, item T) error) []error {
	r := MapAsync(ctx, p, items, fn)
	errs, err := r.Wait(ctx)
	if err == nil {
		return errs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	for i := range out {
		if r.finished[i] {
			out[i] = r.errs[i]
		} else {
			out[i] = err
		}
	}
	return out
}
