package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// JobError marks a job that returned an error or panicked on the UI thread.
// Blocking callers receive it instead of hanging.
type JobError struct {
	Err   error
	Panic any
}

func (e *JobError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("ui job panicked: %v", e.Panic)
	}
	return fmt.Sprintf("ui job failed: %v", e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Future is a single-assignment result cell.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the result is available without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
