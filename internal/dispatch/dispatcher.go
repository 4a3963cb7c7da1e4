// Package dispatch runs UI mutations on a single goroutine locked to an OS thread.
//
// Jobs are executed one at a time in submission order. Any goroutine may submit;
// a blocking submit parks the caller until its job has run on the UI thread.
// Jobs receive a context that carries a UI-thread marker, which is how a blocking
// submit issued from the UI thread itself is detected and rejected.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
)

var (
	// ErrClosed is returned for jobs submitted to, or still queued in, a closed dispatcher.
	ErrClosed = errors.New("dispatcher closed")
	// ErrBlockingOnUIThread is returned when the UI thread submits a blocking job to itself.
	ErrBlockingOnUIThread = errors.New("blocking submit from the UI thread")
)

// Job is a unit of UI work. ctx is marked as running on the UI thread.
type Job func(ctx context.Context) (any, error)

type uiThreadKey struct{}

// OnUIThread reports whether ctx belongs to a job running on a dispatcher.
func OnUIThread(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(uiThreadKey{}).(*Dispatcher)
	return ok
}

type task struct {
	job    Job
	future *Future
}

// Dispatcher owns the UI thread.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []task
	notify  chan struct{}
	closed  bool
	stopped chan struct{}
	started bool

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New creates a dispatcher. Call Run or Start to begin executing jobs.
func New(log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  log,
		metrics: m,
	}
}

// Start runs the UI loop on a new goroutine.
func (d *Dispatcher) Start() {
	go d.Run(context.Background())
}

// Run executes jobs until Close is called or ctx is done. The calling goroutine
// is locked to its OS thread for the duration.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.stopped)

	jobCtx := context.WithValue(ctx, uiThreadKey{}, d)

	d.logger.Debug("ui thread started")
	for {
		t, ok := d.next()
		if !ok {
			select {
			case <-d.notify:
				continue
			case <-ctx.Done():
				d.Close()
				d.logger.Debug("ui thread stopped", logger.Field{Key: "reason", Value: ctx.Err()})
				return
			}
		}
		if t.job == nil {
			d.logger.Debug("ui thread stopped")
			return
		}
		d.execute(jobCtx, t)
	}
}

// next pops the head of the queue. A closed dispatcher yields a zero task.
func (d *Dispatcher) next() (task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return task{}, true
	}
	if len(d.queue) == 0 {
		return task{}, false
	}
	t := d.queue[0]
	d.queue[0] = task{}
	d.queue = d.queue[1:]
	d.metrics.DispatchQueueDepth(len(d.queue))
	return t, true
}

func (d *Dispatcher) execute(ctx context.Context, t task) {
	value, err := d.safeRun(ctx, t.job)
	d.metrics.DispatchDone(err)
	if err != nil {
		d.logger.Error("ui job failed", err)
		t.future.complete(nil, err)
		return
	}
	t.future.complete(value, nil)
}

func (d *Dispatcher) safeRun(ctx context.Context, job Job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobError{Err: fmt.Errorf("panic: %v", r), Panic: r}
		}
	}()

	value, err = job(ctx)
	if err != nil {
		return nil, &JobError{Err: err}
	}
	return value, nil
}

func (d *Dispatcher) enqueue(job Job) (*Future, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	f := newFuture()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.queue = append(d.queue, task{job: job, future: f})
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.DispatchQueueDepth(depth)

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return f, nil
}

// Submit queues job. With blocking set it waits for the job's result; otherwise it
// returns immediately with a nil value.
func (d *Dispatcher) Submit(ctx context.Context, job Job, blocking bool) (any, error) {
	if !blocking {
		_, err := d.enqueue(job)
		return nil, err
	}
	if OnUIThread(ctx) {
		return nil, ErrBlockingOnUIThread
	}

	f, err := d.enqueue(job)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Go queues job and returns its future.
func (d *Dispatcher) Go(job Job) *Future {
	f, err := d.enqueue(job)
	if err != nil {
		f = newFuture()
		f.complete(nil, err)
	}
	return f
}

// Post queues a fire-and-forget UI mutation.
func (d *Dispatcher) Post(fn func(ctx context.Context)) error {
	_, err := d.enqueue(func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	})
	return err
}

// Call runs fn on the UI thread and returns its typed result.
func Call[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	v, err := d.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, true)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// WaitIdle blocks until every job queued before it has run.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	_, err := d.Submit(ctx, func(context.Context) (any, error) { return nil, nil }, true)
	return err
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting jobs and fails every queued job with ErrClosed.
// A job that is running when Close is called finishes normally. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, t := range pending {
		t.future.complete(nil, ErrClosed)
	}

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Stopped is closed when the UI loop has exited.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stopped
}
