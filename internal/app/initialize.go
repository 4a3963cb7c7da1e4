package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solsol/solsol/internal/bus"
	"github.com/solsol/solsol/internal/collector"
	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/connectivity"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/dispatch"
	"github.com/solsol/solsol/internal/lifecycle"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/manager"
	"github.com/solsol/solsol/internal/metrics"
	"github.com/solsol/solsol/internal/procpool"
	"github.com/solsol/solsol/internal/simulator"
	"github.com/solsol/solsol/internal/stream"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// New builds every component without starting any of them.
// It performs the following steps:
//  1. Creates the prometheus registry and collectors
//  2. Creates the dispatcher and the surface
//  3. Tees the logger into the log pane
//  4. Creates the task pool, process pool and scheduler
//  5. Creates the command bus, connectivity monitor and stream registry
//  6. Creates the lifecycle orchestrator
//  7. Creates the default collaborators
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	startedAt := time.Now()
	_, statErr := os.Stat(cfg.App.DataPath)

	// 1. Metrics
	registry := prometheus.NewRegistry()
	m, err := metrics.New(cfg.Metrics.Namespace, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// 2. UI thread and surface
	d := dispatch.New(log, m)
	a := &App{
		config:    cfg,
		registry:  registry,
		instance:  newInstanceLock(cfg.App.DataPath),
		firstRun:  os.IsNotExist(statErr),
		startedAt: startedAt,
		core: &core.Context{
			Config:     cfg,
			Metrics:    m,
			Dispatcher: d,
			Surface:    ui.NewConsole(os.Stdin, os.Stdout, false),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	c := a.core

	// 3. Log pane
	pane, err := manager.NewLogPane(d, c.Surface, cfg.App.ManagerDir(), startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create log pane: %w", err)
	}
	a.logger = log.WithSink(pane, cfg.Logging.PaneLevel)
	c.Logger = a.logger

	// 4. Pools and scheduler
	c.Tasks = workers.NewPool("tasks", cfg.Workers.PoolSize, cfg.Workers.QueueSize, a.logger, m)

	count := cfg.Processes.Count
	if count == 0 {
		count = runtime.NumCPU()
	}
	c.Processes = procpool.New(procpool.Config{
		Count:            count,
		Command:          cfg.Processes.Command,
		Args:             cfg.Processes.Args,
		TerminateTimeout: cfg.Shutdown.TerminateTimeout(),
	}, a.logger, m)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler timezone: %w", err)
	}
	c.Scheduler = cron.New(c.Tasks, cron.Config{
		Location:   location,
		MaxPending: cfg.Scheduler.MaxPending,
	}, a.logger, m)

	// 5. Bus, connectivity and streams
	c.Bus = bus.New(c.Tasks, a.logger)
	c.Connectivity = connectivity.NewMonitor(connectivity.Config{
		ProbeURL: cfg.Connectivity.ProbeURL,
		Interval: cfg.Connectivity.Interval(),
		Timeout:  cfg.Connectivity.Timeout(),
	}, a.logger)
	c.Streams = stream.NewRegistry()

	// 6. Lifecycle
	c.Lifecycle = lifecycle.New(lifecycle.ConfigFrom(cfg), lifecycle.Deps{
		Dispatcher: d,
		Surface:    c.Surface,
		Tasks:      c.Tasks,
		Scheduler:  c.Scheduler,
		Streams:    c.Streams,
		Processes:  c.Processes,
	}, a.logger, m)

	if cfg.Metrics.Listen != "" {
		a.metricsServer = metrics.NewServer(cfg.Metrics.Listen, registry, a.logger)
	}

	// 7. Collaborators
	if a.components == nil {
		trades := collector.New()
		a.components = []core.Component{
			manager.New(),
			trades,
			simulator.New(trades),
		}
	}

	return a, nil
}

// bootSteps lists the ordered boot sequence:
//  1. Prepare the data folder
//  2. Start the connectivity monitor
//  3. Wait for an internet connection
//  4. Tell a first-time user where the data folder is
//  5. Start the process pool behind the "Loading..." guide
//  6. Register application finalize functions
//  7. Bring up every collaborator
//
// The orchestrator starts the scheduler itself once the initialize functions
// registered during bring-up are done.
func (a *App) bootSteps() []lifecycle.Step {
	c := a.core

	steps := []lifecycle.Step{
		{
			Name: "datapath",
			Run: func(context.Context) error {
				if err := os.MkdirAll(a.config.App.DataPath, 0o755); err != nil {
					return fmt.Errorf("failed to create data folder: %w", err)
				}
				return nil
			},
		},
		{
			Name: "monitor",
			Run: func(context.Context) error {
				return c.Connectivity.Start()
			},
		},
		c.Lifecycle.ConnectStep(c.Connectivity.Check),
		c.Lifecycle.PromptStep("first_run", ui.Question{
			Title:   "Data folder",
			Body:    "All the data that solsol produces will go in this folder.\n" + a.config.App.DataPath,
			Answers: []string{"Okay"},
		}, func() bool { return a.firstRun }, nil),
		{
			Name:  "processes",
			Guide: lifecycle.AnnounceLoading,
			Run: func(context.Context) error {
				if err := c.Processes.Start(); err != nil {
					return fmt.Errorf("failed to start process pool: %w", err)
				}
				return nil
			},
		},
		{
			Name: "finalizers",
			Run: func(context.Context) error {
				a.registerFinalizers()
				return nil
			},
		},
	}

	for _, component := range a.components {
		steps = append(steps, lifecycle.Step{
			Name: component.Name(),
			Run: func(context.Context) error {
				if err := component.BringUp(c); err != nil {
					return fmt.Errorf("failed to bring up %s: %w", component.Name(), err)
				}
				return nil
			},
		})
	}

	return steps
}

func (a *App) registerFinalizers() {
	c := a.core
	c.Finalize("app.stop_connectivity", func(context.Context) error {
		return c.Connectivity.Stop()
	})
	c.Finalize("app.close_bus", func(context.Context) error {
		c.Bus.Close()
		return nil
	})
	if a.metricsServer != nil {
		c.Finalize("app.stop_metrics", func(context.Context) error {
			return a.stopMetrics()
		})
	}
}
