package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// beginClosing moves READY to CLOSING and drains the finalize registry:
//  1. hides the board and gauge and announces "Finalizing..."
//  2. removes all scheduled jobs and shuts the scheduler down
//  3. closes every stream
//  4. runs each finalize function once on the finalize pool
//
// The watcher then waits on the barrier in FINALIZING.
func (o *Orchestrator) beginClosing() {
	if !o.transition(StateReady, StateClosing) {
		return
	}

	o.post(func(s ui.Surface) {
		s.SetBoardVisible(false)
		s.SetGaugeVisible(false)
		s.Announce(AnnounceFinalizing)
	})

	o.stopProducers()

	entries := o.finalizers.Drain()
	o.barrier.Arm(len(entries))
	o.logger.Info("running finalize functions", logger.Field{Key: "count", Value: len(entries)})

	o.finalizePool.Start()
	workers.MapAsync(context.Background(), o.finalizePool, entries, o.finalize)

	o.setState(StateFinalizing)
	o.watch()
}

func (o *Orchestrator) stopProducers() {
	if o.deps.Scheduler != nil {
		o.deps.Scheduler.RemoveAllJobs()
		o.deps.Scheduler.Shutdown()
	}
	if o.deps.Streams != nil {
		o.deps.Streams.CloseAll()
	}
}

func (o *Orchestrator) finalize(ctx context.Context, e Entry) error {
	defer o.barrier.Step()

	start := time.Now()
	if err := e.Fn(ctx); err != nil {
		o.logger.Error("finalize function failed", err, logger.Field{Key: "name", Value: e.Name})
		return fmt.Errorf("finalize %s: %w", e.Name, err)
	}
	o.logger.Debug("finalize function done",
		logger.Field{Key: "name", Value: e.Name},
		logger.Field{Key: "duration", Value: time.Since(start)})
	return nil
}

// watch polls the barrier until every finalize function has returned, or until
// the watchdog fires when one is configured.
func (o *Orchestrator) watch() {
	ticker := time.NewTicker(o.cfg.Poll)
	defer ticker.Stop()

	var watchdog <-chan time.Time
	if o.cfg.Watchdog > 0 {
		timer := time.NewTimer(o.cfg.Watchdog)
		defer timer.Stop()
		watchdog = timer.C
	}

	for {
		select {
		case <-ticker.C:
			if !o.barrier.Complete() {
				continue
			}
			o.logger.Info("finalization done", logger.Field{Key: "steps", Value: o.barrier.Done()})
			o.announce(AnnounceDone)
			time.Sleep(o.cfg.Grace)
			o.teardown(false)
			return
		case <-watchdog:
			o.logger.Error("shutdown stalled", ErrShutdownStall,
				logger.Field{Key: "done", Value: o.barrier.Done()},
				logger.Field{Key: "total", Value: o.barrier.Total()})
			o.announce(AnnounceStalled)
			o.teardown(true)
			return
		}
	}
}

// abort closes the window without the finalize barrier.
func (o *Orchestrator) abort() {
	o.logger.Info("closing without finalization")
	o.stopProducers()
	o.teardown(false)
}

// teardown terminates the process pool, stops the pools and closes the window.
// With stalled set the finalize pool is left to drain in the background.
func (o *Orchestrator) teardown(stalled bool) {
	o.teardownOnce.Do(func() {
		if o.deps.Processes != nil {
			o.deps.Processes.TerminateAll()
		}
		if stalled {
			go o.finalizePool.Stop()
		} else {
			o.finalizePool.Stop()
		}
		if o.deps.Tasks != nil {
			o.deps.Tasks.Stop()
		}

		o.closeAllowed.Store(true)
		_, err := o.deps.Dispatcher.Submit(context.Background(), func(context.Context) (any, error) {
			o.deps.Surface.Close()
			return nil, nil
		}, true)
		if err != nil {
			o.logger.Warn("window close not dispatched", logger.Field{Key: "error", Value: err.Error()})
		}

		o.setState(StateTerminated)
		close(o.terminated)
	})
}
