// Package core holds the application context handed to every component.
//
// The context replaces process-wide handles: a component receives the
// dispatcher, pools, scheduler and bus it needs through Context at bring-up
// and keeps the references it uses.
package core

import (
	"context"

	"github.com/solsol/solsol/internal/bus"
	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/connectivity"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/dispatch"
	"github.com/solsol/solsol/internal/lifecycle"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
	"github.com/solsol/solsol/internal/procpool"
	"github.com/solsol/solsol/internal/stream"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// Context is built once by the application and shared by all components.
type Context struct {
	Config       *config.Config
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	Dispatcher   *dispatch.Dispatcher
	Surface      ui.Surface
	Tasks        *workers.WorkerPool
	Processes    *procpool.Pool
	Scheduler    *cron.Scheduler
	Bus          *bus.CommandBus
	Connectivity *connectivity.Monitor
	Streams      *stream.Registry
	Lifecycle    *lifecycle.Orchestrator
}

// Component is a collaborator brought up during boot. BringUp registers
// scheduled jobs, command handlers and finalize/initialize functions.
type Component interface {
	Name() string
	BringUp(c *Context) error
}

// UI queues fn on the UI thread. It is a no-op once the dispatcher is closed.
func (c *Context) UI(fn func(s ui.Surface)) {
	err := c.Dispatcher.Post(func(context.Context) {
		fn(c.Surface)
	})
	if err != nil {
		c.Logger.Debug("ui update dropped", logger.Field{Key: "error", Value: err.Error()})
	}
}

// Finalize registers a finalize function.
func (c *Context) Finalize(name string, fn lifecycle.Func) {
	if !c.Lifecycle.Finalizers().Add(name, fn) {
		c.Logger.Warn("finalize function not registered", logger.Field{Key: "name", Value: name})
	}
}

// Initialize registers a function run once after the boot steps.
func (c *Context) Initialize(name string, fn lifecycle.Func) {
	if !c.Lifecycle.Initializers().Add(name, fn) {
		c.Logger.Warn("initialize function not registered", logger.Field{Key: "name", Value: name})
	}
}
