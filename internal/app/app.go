// Package app provides the main application structure for solsol.
// It builds the dispatcher, pools, scheduler, command bus and lifecycle
// orchestrator, brings up the collaborators and runs the UI loop until the
// orchestrator reaches TERMINATED.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/lifecycle"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/version"
)

// ErrAlreadyRunning is returned by Run when the App was run before.
var ErrAlreadyRunning = errors.New("application already running")

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger

	// Shared context handed to every component
	core *core.Context

	// Collaborators brought up during boot
	components []core.Component

	// Prometheus exposition, nil when metrics.listen is empty
	registry      *prometheus.Registry
	metricsServer *metrics.Server
	metricsOnce   sync.Once
	metricsErr    error

	instance  *instanceLock
	firstRun  bool
	startedAt time.Time
	running   atomic.Bool
}

// Option customizes an App.
type Option func(*App)

// WithSurface replaces the console surface, typically with a toolkit binding.
func WithSurface(s ui.Surface) Option {
	return func(a *App) {
		a.core.Surface = s
	}
}

// WithComponents replaces the default collaborators. No arguments brings up none.
func WithComponents(components ...core.Component) Option {
	return func(a *App) {
		a.components = append([]core.Component{}, components...)
	}
}

// Context returns the shared application context.
func (a *App) Context() *core.Context {
	return a.core
}

// Registry returns the prometheus registry the application metrics live in.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Run boots the application and runs the UI loop on the calling goroutine
// until the window is closed. Call it from main so the UI thread is the main
// OS thread. Cancelling ctx closes the application without confirmation.
//
// Run returns nil after a normal close, a *lifecycle.BootError when boot
// failed, and ErrAlreadyRunning when the App was run before.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := a.instance.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := a.instance.Release(); err != nil {
			a.logger.Warn("failed to release instance lock", logger.Field{Key: "error", Value: err.Error()})
		}
	}()

	c := a.core
	a.logger.Info(version.FormatStartupMessage(),
		logger.Field{Key: "datapath", Value: a.config.App.DataPath})
	if a.metricsServer != nil {
		a.metricsServer.Start()
	}
	c.Tasks.Start()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootDone := make(chan error, 1)
	go func() {
		bootDone <- c.Lifecycle.Boot(runCtx, a.bootSteps()...)
	}()

	go a.watch(ctx, cancel)

	c.Dispatcher.Run(context.Background())

	err := <-bootDone

	// Finalize functions do not run when boot was aborted.
	if stopErr := c.Connectivity.Stop(); stopErr != nil {
		a.logger.Warn("failed to stop connectivity monitor", logger.Field{Key: "error", Value: stopErr.Error()})
	}
	c.Bus.Close()
	if stopErr := a.stopMetrics(); stopErr != nil {
		a.logger.Warn("failed to stop metrics endpoint", logger.Field{Key: "error", Value: stopErr.Error()})
	}

	a.logger.Info("application terminated",
		logger.Field{Key: "state", Value: c.Lifecycle.State().String()},
		logger.Field{Key: "uptime", Value: time.Since(a.startedAt).Round(time.Millisecond)})

	var bootErr *lifecycle.BootError
	if errors.As(err, &bootErr) {
		return bootErr
	}
	if err != nil && !errors.Is(err, lifecycle.ErrAborted) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("boot failed: %w", err)
	}
	return nil
}
