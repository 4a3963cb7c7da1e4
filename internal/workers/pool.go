package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
)

// WorkerPool manages a pool of goroutine workers for concurrent task execution.
type WorkerPool struct {
	name      string
	taskQueue chan task
	workers   int
	busy      []atomic.Bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logger.Logger
	counters  counters
	prom      *metrics.Metrics

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// NewPool creates a new worker pool. name labels its metrics and log lines.
func NewPool(name string, workers, bufferSize int, log *logger.Logger, m *metrics.Metrics) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		name:      name,
		taskQueue: make(chan task, bufferSize),
		workers:   workers,
		busy:      make([]atomic.Bool, workers),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(logger.Field{Key: "pool", Value: name}),
		prom:      m,
	}
}

// Start spawns all worker goroutines. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "buffer_size", Value: cap(p.taskQueue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// RunAsync queues job for execution. It blocks while the queue is full.
// Errors returned by job are logged.
func (p *WorkerPool) RunAsync(job Job) error {
	return p.SubmitWithContext(context.Background(), job, nil)
}

// SubmitWithContext queues job, giving up when ctx is done before a slot frees.
// done, when set, receives the job's outcome exactly once.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, job Job, done func(error)) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if done == nil {
		done = func(error) {}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.counters.submitted.Add(1)

	select {
	case p.taskQueue <- task{job: job, done: done}:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the pool context and waits for in-flight jobs to return.
// Jobs still queued complete with ErrPoolStopped. Stop is idempotent.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		// Cancelling first releases submitters blocked on a full queue.
		p.cancel()
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.wg.Wait()

		dropped := 0
	drain:
		for {
			select {
			case t := <-p.taskQueue:
				t.done(ErrPoolStopped)
				dropped++
			default:
				break drain
			}
		}

		stats := p.Metrics()
		p.logger.Info("worker pool stopped",
			logger.Field{Key: "tasks_submitted", Value: stats.TasksSubmitted},
			logger.Field{Key: "tasks_completed", Value: stats.TasksCompleted},
			logger.Field{Key: "tasks_failed", Value: stats.TasksFailed},
			logger.Field{Key: "tasks_dropped", Value: dropped})
	})
}

// Name returns the pool name.
func (p *WorkerPool) Name() string {
	return p.name
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the current number of tasks waiting in the queue.
func (p *WorkerPool) QueueSize() int {
	return len(p.taskQueue)
}

// Presences reports, per worker name, whether the worker is executing a job.
func (p *WorkerPool) Presences() map[string]bool {
	out := make(map[string]bool, p.workers)
	for i := range p.busy {
		out[workerName(i)] = p.busy[i].Load()
	}
	return out
}

func workerName(id int) string {
	return fmt.Sprintf("worker-%d", id+1)
}
