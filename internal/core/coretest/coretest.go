// Package coretest builds a core.Context for component tests.
package coretest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solsol/solsol/internal/bus"
	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/connectivity"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/dispatch"
	"github.com/solsol/solsol/internal/lifecycle"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/stream"
	"github.com/solsol/solsol/internal/ui"
	"github.com/solsol/solsol/internal/workers"
)

// Env is a test context with its headless surface.
type Env struct {
	*core.Context
	Headless *ui.Headless
}

// New builds a context with a temporary data folder, a running dispatcher and
// task pool, a scheduler that is not running, and a connectivity monitor
// pointed at an always-healthy local server. The process pool is nil.
func New(t *testing.T, answers ...int) *Env {
	t.Helper()

	cfg := config.Default()
	cfg.App.DataPath = t.TempDir()
	cfg.Boot.SettleMilliseconds = 0
	cfg.Shutdown.PollMilliseconds = 5
	cfg.Shutdown.GraceMilliseconds = 0

	log := logger.Nop()
	headless := ui.NewHeadless(answers...)

	d := dispatch.New(log, nil)
	d.Start()
	t.Cleanup(d.Close)

	tasks := workers.NewPool("tasks", 4, 0, log, nil)
	tasks.Start()
	t.Cleanup(tasks.Stop)

	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(probe.Close)

	scheduler := cron.New(tasks, cron.Config{}, log, nil)
	t.Cleanup(scheduler.Shutdown)

	streams := stream.NewRegistry()
	t.Cleanup(streams.CloseAll)

	c := &core.Context{
		Config:       cfg,
		Logger:       log,
		Dispatcher:   d,
		Surface:      headless,
		Tasks:        tasks,
		Scheduler:    scheduler,
		Bus:          bus.New(tasks, log),
		Connectivity: connectivity.NewMonitor(connectivity.Config{ProbeURL: probe.URL, Timeout: time.Second}, log),
		Streams:      streams,
	}
	c.Lifecycle = lifecycle.New(lifecycle.ConfigFrom(cfg), lifecycle.Deps{
		Dispatcher: d,
		Surface:    headless,
		Tasks:      tasks,
		Scheduler:  scheduler,
		Streams:    streams,
	}, log, nil)

	return &Env{Context: c, Headless: headless}
}

// Idle waits until every UI update queued so far has run.
func (e *Env) Idle(t *testing.T) {
	t.Helper()
	require.NoError(t, e.Dispatcher.WaitIdle(t.Context()))
}
