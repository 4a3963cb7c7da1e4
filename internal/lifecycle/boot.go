package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/retry"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// Step is one ordered boot step. Guide, when set, is announced before Run.
type Step struct {
	Name  string
	Guide string
	Run   func(ctx context.Context) error
}

// BootError is a failed boot step.
type BootError struct {
	Step  string
	Err   error
	Stack []byte // set when the step panicked
}

func (e *BootError) Error() string {
	return fmt.Sprintf("boot step %q: %v", e.Step, e.Err)
}

func (e *BootError) Unwrap() error {
	return e.Err
}

// Detail is the full text shown to the user.
func (e *BootError) Detail() string {
	if len(e.Stack) == 0 {
		return e.Error()
	}
	return e.Error() + "\n\n" + string(e.Stack)
}

// Boot runs the boot sequence:
//  1. every step in order, stopping at the first failure
//  2. the initialize registry on the task pool, bounded by InitializeTimeout
//  3. the scheduler, on its own goroutine until ctx is done or it is shut down
//  4. the switch to READY
//  5. a settle pause, then the board and gauge are shown
//
// A failing step shows a modal with a single "Shut down" answer and closes the
// window without running finalize functions. Boot must not run on the UI thread.
func (o *Orchestrator) Boot(ctx context.Context, steps ...Step) error {
	o.logger.Info("booting", logger.Field{Key: "steps", Value: len(steps)})

	for _, step := range steps {
		if o.State() != StateBooting {
			return ErrAborted
		}
		if step.Guide != "" {
			o.announce(step.Guide)
		}
		if err := o.runStep(ctx, step); err != nil {
			if o.State() != StateBooting {
				return ErrAborted
			}
			o.fail(err)
			return err
		}
	}

	if err := o.initialize(ctx); err != nil {
		o.fail(&BootError{Step: "initialize", Err: err})
		return err
	}

	if o.State() != StateBooting {
		return ErrAborted
	}
	go o.runScheduler(ctx)

	if !o.transition(StateBooting, StateReady) {
		return ErrAborted
	}

	if o.cfg.Settle > 0 {
		timer := time.NewTimer(o.cfg.Settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	o.post(func(s ui.Surface) {
		if o.State() != StateReady {
			return
		}
		s.ClearAnnouncement()
		s.SetBoardVisible(true)
		s.SetGaugeVisible(true)
	})
	o.logger.Info("ready")
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BootError{Step: step.Name, Err: fmt.Errorf("panic: %v", r), Stack: debug.Stack()}
		}
	}()

	start := time.Now()
	if err := step.Run(ctx); err != nil {
		return &BootError{Step: step.Name, Err: err}
	}
	o.logger.Debug("boot step done",
		logger.Field{Key: "step", Value: step.Name},
		logger.Field{Key: "duration", Value: time.Since(start)})
	return nil
}

// ConnectStep waits until check reports a connection, backing off between
// probes. It gives up after MaxConnectAttempts when that is set.
func (o *Orchestrator) ConnectStep(check func(ctx context.Context) bool) Step {
	cfg := retry.Config{
		MaxAttempts:    o.cfg.MaxConnectAttempts,
		InitialBackoff: o.cfg.ConnectRetry,
		MaxBackoff:     o.cfg.ConnectMaxBackoff,
	}
	// A fixed interval unless a ceiling above it was configured.
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return Step{
		Name: "connectivity",
		Run: func(ctx context.Context) error {
			return retry.Do(ctx, cfg, func(ctx context.Context) error {
				if check(ctx) {
					return nil
				}
				return ErrOffline
			}, func(attempt int, delay time.Duration, err error) {
				if attempt == 1 {
					o.announce(AnnounceOffline)
				}
				o.logger.Warn("waiting for internet connection",
					logger.Field{Key: "attempt", Value: attempt},
					logger.Field{Key: "retry_in", Value: delay})
			})
		},
	}
}

// PromptStep asks q on the UI thread and waits for the answer, then passes
// the chosen index to apply. needed decides at run time whether to ask at
// all; a nil needed always asks.
func (o *Orchestrator) PromptStep(name string, q ui.Question, needed func() bool, apply func(answer int) error) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context) error {
			if needed != nil && !needed() {
				return nil
			}

			answers := make(chan int, 1)
			err := o.deps.Dispatcher.Post(func(context.Context) {
				o.deps.Surface.ClearAnnouncement()
				o.deps.Surface.Ask(q, func(index int) {
					select {
					case answers <- index:
					default:
					}
				})
			})
			if err != nil {
				return fmt.Errorf("failed to show prompt: %w", err)
			}

			select {
			case answer := <-answers:
				o.logger.Debug("prompt answered",
					logger.Field{Key: "step", Value: name},
					logger.Field{Key: "answer", Value: answer})
				if apply == nil {
					return nil
				}
				return apply(answer)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// initialize maps the initialize registry over the task pool and waits a
// bounded time for it. Functions still running past the bound keep running.
func (o *Orchestrator) initialize(ctx context.Context) error {
	entries := o.initializers.Drain()
	if len(entries) == 0 {
		return nil
	}
	o.announce(AnnounceInitializing)

	result := workers.MapAsync(ctx, o.deps.Tasks, entries, func(ctx context.Context, e Entry) error {
		if err := e.Fn(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", e.Name, err)
		}
		return nil
	})

	ticker := time.NewTicker(o.cfg.InitializePoll)
	defer ticker.Stop()
	deadline := time.Now().Add(o.cfg.InitializeTimeout)

	for !result.Ready() {
		if time.Now().After(deadline) {
			o.logger.Warn("initialize functions still running, continuing boot",
				logger.Field{Key: "done", Value: result.Done()},
				logger.Field{Key: "total", Value: len(entries)})
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	for _, err := range result.Errors() {
		if err != nil {
			o.logger.Error("initialize function failed", err)
		}
	}
	return nil
}

func (o *Orchestrator) runScheduler(ctx context.Context) {
	if err := o.deps.Scheduler.Run(ctx); err != nil {
		o.logger.Warn("scheduler did not run", logger.Field{Key: "error", Value: err.Error()})
	}
}

// fail shows the boot failure and closes the window once it is dismissed.
func (o *Orchestrator) fail(err error) {
	if !o.transition(StateBooting, StateFailed) {
		return
	}
	o.logger.Error("boot failed", err)

	detail := err.Error()
	var bootErr *BootError
	if errors.As(err, &bootErr) {
		detail = bootErr.Detail()
	}

	q := ui.Question{
		Title:   "Boot failure",
		Body:    detail,
		Answers: []string{"Shut down"},
	}
	posted := o.deps.Dispatcher.Post(func(context.Context) {
		o.deps.Surface.ClearAnnouncement()
		o.deps.Surface.Ask(q, func(int) {
			go o.abort()
		})
	})
	if posted != nil {
		o.logger.Warn("boot failure not shown", logger.Field{Key: "error", Value: posted.Error()})
		go o.abort()
	}
}
