// Package cron provides the periodic scheduler.
// It uses robfig/cron/v3 to compute firing times; every firing is submitted
// to the shared task pool rather than run on the scheduler goroutine.
// A job that is still running when it fires again is queued behind itself,
// up to a bounded number of pending runs.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
	"github.com/solsol/solsol/internal/workers"
)

var (
	// ErrDuplicateJob is returned when a job name is already registered.
	ErrDuplicateJob = errors.New("duplicate job name")
	// ErrShutdown is returned by AddJob and Run after Shutdown.
	ErrShutdown = errors.New("scheduler shut down")
)

// Func is the body of a scheduled job.
type Func func(ctx context.Context) error

// Executor runs job bodies. *workers.WorkerPool satisfies it.
type Executor interface {
	SubmitWithContext(ctx context.Context, job workers.Job, done func(error)) error
}

// Config configures a Scheduler.
type Config struct {
	Location   *time.Location // default UTC
	MaxPending int            // queued runs per job while it is running, default 1
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name    string
	Trigger Trigger
	Spec    string
	Next    time.Time
}

type entry struct {
	name    string
	trigger Trigger
	spec    string
	fn      Func
	id      cron.EntryID
	running bool
	pending int
	removed bool
}

// Scheduler fires named jobs on wall-clock triggers.
type Scheduler struct {
	cron       *cron.Cron
	executor   Executor
	logger     *logger.Logger
	metrics    *metrics.Metrics
	maxPending int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	jobs     map[string]*entry
	running  bool
	shutdown bool
}

// New creates a scheduler that submits firings to executor.
func New(executor Executor, cfg Config, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Field{Key: "component", Value: "scheduler"})

	cronLog := cron.PrintfLogger(slog.NewLogLogger(log.StdLogger().Handler(), slog.LevelDebug))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		executor:   executor,
		logger:     log,
		metrics:    m,
		maxPending: cfg.MaxPending,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*entry),
	}
}

// AddJob registers fn under name. Names are unique; the trigger is fixed
// for the lifetime of the registration.
func (s *Scheduler) AddJob(name string, trigger Trigger, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	spec, err := trigger.Spec()
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	e := &entry{name: name, trigger: trigger, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("invalid trigger for job %s: %w", name, err)
	}
	e.id = id
	s.jobs[name] = e

	s.logger.Debug("job added",
		logger.Field{Key: "job", Value: name},
		logger.Field{Key: "schedule", Value: spec})
	return nil
}

// Run starts firing jobs and blocks until ctx is done or Shutdown is called.
// It must be called from a dedicated goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", logger.Field{Key: "jobs", Value: len(s.Jobs())})

	select {
	case <-ctx.Done():
		s.Shutdown()
	case <-s.ctx.Done():
	}

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RemoveAllJobs unregisters every job. Runs already submitted finish normally
// but queued runs are dropped.
func (s *Scheduler) RemoveAllJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.jobs {
		s.cron.Remove(e.id)
		e.removed = true
		e.pending = 0
		delete(s.jobs, name)
	}
	s.logger.Debug("all jobs removed")
}

// Shutdown stops the scheduler and releases Run. It is idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	s.cancel()
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobInfo{
			Name:    e.name,
			Trigger: e.trigger,
			Spec:    e.spec,
			Next:    s.cron.Entry(e.id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fire is called by the cron goroutine when e is due.
func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	if e.removed || s.shutdown {
		s.mu.Unlock()
		return
	}
	if e.running {
		if e.pending < s.maxPending {
			e.pending++
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.metrics.JobCoalesced(e.name)
		s.logger.Warn("job still running, firing skipped", logger.Field{Key: "job", Value: e.name})
		return
	}
	e.running = true
	s.mu.Unlock()

	s.submit(e)
}

func (s *Scheduler) submit(e *entry) {
	err := s.executor.SubmitWithContext(s.ctx, func(ctx context.Context) error {
		return e.fn(ctx)
	}, func(err error) {
		s.finished(e, err)
	})
	if err != nil {
		s.mu.Lock()
		e.running = false
		e.pending = 0
		s.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("job not submitted", err, logger.Field{Key: "job", Value: e.name})
		}
	}
}

func (s *Scheduler) finished(e *entry, err error) {
	s.metrics.JobRun(e.name, err)
	if err != nil {
		s.logger.Error("job failed", err, logger.Field{Key: "job", Value: e.name})
	}

	s.mu.Lock()
	if e.pending > 0 && !e.removed && !s.shutdown {
		e.pending--
		s.mu.Unlock()
		s.submit(e)
		return
	}
	e.running = false
	e.pending = 0
	s.mu.Unlock()
}
