// Package lifecycle supervises the application from boot to process exit.
//
// The Orchestrator walks BOOTING → READY → CLOSING → FINALIZING → TERMINATED.
// Components contribute finalize and initialize functions during boot. On
// shutdown every finalize function runs exactly once on a dedicated pool, and
// the window only closes after all of them have returned.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/dispatch"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// Guide texts shown on the surface.
const (
	AnnounceLoading      = "Loading..."
	AnnounceOffline      = "No internet connection"
	AnnounceInitializing = "Initializing..."
	AnnounceFinalizing   = "Finalizing..."
	AnnounceDone         = "Finalization done"
	AnnounceStalled      = "Finalization stalled"
)

var (
	// ErrAborted is returned by Boot when the window was closed mid-boot.
	ErrAborted = errors.New("boot aborted")
	// ErrOffline is reported while boot waits for connectivity.
	ErrOffline = errors.New("no internet connection")
	// ErrShutdownStall is logged when the watchdog fires before the barrier completes.
	ErrShutdownStall = errors.New("finalize functions did not finish in time")
)

// Scheduler is the periodic scheduler. Boot starts it once the initialize
// registry is done; shutdown removes its jobs and stops it.
type Scheduler interface {
	Run(ctx context.Context) error
	RemoveAllJobs()
	Shutdown()
}

// Streams closes every network stream.
type Streams interface {
	CloseAll()
}

// ProcessPool is terminated once finalization is done.
type ProcessPool interface {
	TerminateAll()
}

// Config holds lifecycle timings.
type Config struct {
	ConfirmClosing     bool
	FinalizeWorkers    int
	Poll               time.Duration
	Grace              time.Duration
	Watchdog           time.Duration // 0 waits for finalize functions forever
	ConnectRetry       time.Duration
	ConnectMaxBackoff  time.Duration
	MaxConnectAttempts int // 0 retries until connected
	InitializeTimeout  time.Duration
	InitializePoll     time.Duration
	Settle             time.Duration
}

// ConfigFrom extracts lifecycle settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		ConfirmClosing:     c.App.ConfirmClosing,
		FinalizeWorkers:    c.Shutdown.FinalizeWorkers,
		Poll:               c.Shutdown.Poll(),
		Grace:              c.Shutdown.Grace(),
		Watchdog:           c.Shutdown.Watchdog(),
		ConnectRetry:       c.Boot.ConnectRetry(),
		ConnectMaxBackoff:  c.Boot.ConnectMaxBackoff(),
		MaxConnectAttempts: c.Boot.MaxConnectAttempts,
		InitializeTimeout:  c.Boot.InitializeTimeout(),
		InitializePoll:     c.Boot.InitializePoll(),
		Settle:             c.Boot.Settle(),
	}
}

// Deps are the components the orchestrator drives. Dispatcher, Surface and
// Tasks are required; the rest may be nil.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Surface    ui.Surface
	Tasks      *workers.WorkerPool
	Scheduler  Scheduler
	Streams    Streams
	Processes  ProcessPool
}

// Orchestrator owns the application state machine.
type Orchestrator struct {
	cfg  Config
	deps Deps

	finalizers   *Registry
	initializers *Registry
	barrier      *Barrier
	finalizePool *workers.WorkerPool

	state          atomic.Int32
	confirmClosing atomic.Bool
	confirming     atomic.Bool
	closeAllowed   atomic.Bool

	teardownOnce sync.Once
	terminated   chan struct{}

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator in BOOTING.
func New(cfg Config, deps Deps, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	if cfg.InitializePoll <= 0 {
		cfg.InitializePoll = 100 * time.Millisecond
	}
	if cfg.InitializeTimeout <= 0 {
		cfg.InitializeTimeout = 20 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Field{Key: "component", Value: "lifecycle"})

	o := &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		finalizers:   NewRegistry(),
		initializers: NewRegistry(),
		barrier:      newBarrier(m),
		finalizePool: workers.NewPool("finalize", cfg.FinalizeWorkers, 0, log, m),
		terminated:   make(chan struct{}),
		logger:       log,
		metrics:      m,
	}
	o.confirmClosing.Store(cfg.ConfirmClosing)
	o.metrics.LifecycleState(int(StateBooting))
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Finalizers returns the finalize registry.
func (o *Orchestrator) Finalizers() *Registry {
	return o.finalizers
}

// Initializers returns the registry run once after the boot steps.
func (o *Orchestrator) Initializers() *Registry {
	return o.initializers
}

// Barrier returns the shutdown barrier.
func (o *Orchestrator) Barrier() *Barrier {
	return o.barrier
}

// Terminated is closed once the window has been closed for good.
func (o *Orchestrator) Terminated() <-chan struct{} {
	return o.terminated
}

// CloseAllowed reports whether a toolkit close event may destroy the window.
func (o *Orchestrator) CloseAllowed() bool {
	return o.closeAllowed.Load()
}

// SetConfirmClosing toggles the confirmation prompt shown in READY.
func (o *Orchestrator) SetConfirmClosing(confirm bool) {
	o.confirmClosing.Store(confirm)
}

// RequestClose handles a close request from the window or a component.
// It never blocks and is safe on the UI thread.
//
// Before READY the window closes right away without the finalize barrier.
// In READY the user is asked to confirm unless confirmation is off; declining
// leaves the application READY. Later requests are ignored.
func (o *Orchestrator) RequestClose() {
	switch o.State() {
	case StateBooting:
		if o.transition(StateBooting, StateClosing) {
			o.logger.Info("close requested during boot")
			go o.abort()
		}
	case StateReady:
		if !o.confirmClosing.Load() {
			go o.beginClosing()
			return
		}
		o.confirm()
	case StateFailed:
		// The boot failure modal may still be open.
		go o.abort()
	default:
		o.logger.Debug("close request ignored", logger.Field{Key: "state", Value: o.State().String()})
	}
}

// Shutdown closes without asking, as if confirmation had been disabled.
func (o *Orchestrator) Shutdown() {
	o.SetConfirmClosing(false)
	o.RequestClose()
}

func (o *Orchestrator) confirm() {
	if !o.confirming.CompareAndSwap(false, true) {
		return
	}
	q := ui.Question{
		Title:   "Shut down",
		Body:    "Do you really want to shut down?",
		Answers: []string{"Cancel", "Shut down"},
	}
	o.post(func(s ui.Surface) {
		s.Ask(q, func(index int) {
			o.confirming.Store(false)
			if index != 1 {
				o.logger.Info("shutdown cancelled")
				return
			}
			go o.beginClosing()
		})
	})
}

func (o *Orchestrator) transition(from, to State) bool {
	if !o.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	o.metrics.LifecycleState(int(to))
	o.logger.Info("lifecycle state changed",
		logger.Field{Key: "from", Value: from.String()},
		logger.Field{Key: "to", Value: to.String()})
	return true
}

func (o *Orchestrator) setState(to State) {
	from := State(o.state.Swap(int32(to)))
	if from == to {
		return
	}
	o.metrics.LifecycleState(int(to))
	o.logger.Info("lifecycle state changed",
		logger.Field{Key: "from", Value: from.String()},
		logger.Field{Key: "to", Value: to.String()})
}

// post queues a surface mutation on the UI thread.
func (o *Orchestrator) post(fn func(s ui.Surface)) {
	err := o.deps.Dispatcher.Post(func(context.Context) {
		fn(o.deps.Surface)
	})
	if err != nil {
		o.logger.Warn("ui update dropped", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (o *Orchestrator) announce(text string) {
	o.post(func(s ui.Surface) { s.Announce(text) })
}
