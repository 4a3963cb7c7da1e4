package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/lifecycle"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/procpool"
	"github.com/solsol/solsol/internal/ui"
)

const helperEnv = "SOLSOL_APP_HELPER"

// TestMain serves the process pool protocol when spawned as a child.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := procpool.Serve(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// Helper function to create test config
func createTestConfig(t *testing.T, probeStatus int) *config.Config {
	t.Helper()

	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(probeStatus)
	}))
	t.Cleanup(probe.Close)

	t.Setenv(helperEnv, "1")

	cfg := config.Default()
	cfg.App.DataPath = t.TempDir()
	cfg.App.ConfirmClosing = false
	cfg.Workers.PoolSize = 4
	cfg.Processes.Count = 1
	cfg.Processes.Command = os.Args[0]
	cfg.Boot.SettleMilliseconds = 0
	cfg.Boot.MaxConnectAttempts = 2
	cfg.Shutdown.PollMilliseconds = 5
	cfg.Shutdown.GraceMilliseconds = 0
	cfg.Connectivity.ProbeURL = probe.URL
	return cfg
}

type runResult struct {
	err error
}

func start(t *testing.T, a *App, ctx context.Context) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: a.Run(ctx)}
	}()
	return done
}

func wait(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(10 * time.Second):
		t.Fatal("application did not terminate")
		return nil
	}
}

// fakeComponent registers a finalizer and optionally fails its bring-up.
type fakeComponent struct {
	name      string
	err       error
	finalized atomic.Bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) BringUp(c *core.Context) error {
	c.Finalize(f.name+".finalize", func(context.Context) error {
		f.finalized.Store(true)
		return nil
	})
	return f.err
}

// slowStartComponent has a slow initialize function and a job every second.
type slowStartComponent struct {
	initialized atomic.Bool
	early       atomic.Int32
	fired       atomic.Int32
}

func (s *slowStartComponent) Name() string { return "slow_start" }

func (s *slowStartComponent) BringUp(c *core.Context) error {
	c.Initialize("slow_start.load_history", func(context.Context) error {
		time.Sleep(1500 * time.Millisecond)
		s.initialized.Store(true)
		return nil
	})
	return c.Scheduler.AddJob("slow_start.tick", cron.EverySecond(), func(context.Context) error {
		if !s.initialized.Load() {
			s.early.Add(1)
		}
		s.fired.Add(1)
		return nil
	})
}

func TestApp_RunAndShutdown(t *testing.T) {
	cfg := createTestConfig(t, http.StatusNoContent)
	headless := ui.NewHeadless()

	a, err := New(cfg, logger.Nop(), WithSurface(headless))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := start(t, a, ctx)

	c := a.Context()
	require.Eventually(t, func() bool {
		return c.Lifecycle.State() == lifecycle.StateReady && headless.BoardVisible()
	}, 5*time.Second, 10*time.Millisecond)

	pid, err := readPID(filepath.Join(cfg.App.DataPath, PIDFileName))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	var names []string
	for _, job := range c.Scheduler.Jobs() {
		names = append(names, job.Name)
	}
	assert.Contains(t, names, "manager.display_system_status")
	assert.Contains(t, names, "collector.flush_trade_counts")
	assert.Contains(t, names, "simulator.simulate_symbols")
	assert.Len(t, c.Processes.Presences(), 1)

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	var gathered []string
	for _, f := range families {
		gathered = append(gathered, f.GetName())
	}
	assert.Contains(t, gathered, "solsol_lifecycle_state")

	cancel()
	require.NoError(t, wait(t, done))

	assert.Equal(t, lifecycle.StateTerminated, c.Lifecycle.State())
	assert.Equal(t, 1, headless.CloseCount())
	assert.False(t, headless.BoardVisible())
	assert.Contains(t, headless.Announcements(), lifecycle.AnnounceFinalizing)
	assert.Contains(t, headless.Announcements(), lifecycle.AnnounceDone)
	assert.True(t, c.Lifecycle.Barrier().Complete())

	_, err = os.Stat(filepath.Join(cfg.App.ManagerDir(), "settings.yaml"))
	assert.NoError(t, err, "manager settings are saved on finalize")
	_, err = os.Stat(filepath.Join(cfg.App.DataPath, PIDFileName))
	assert.True(t, os.IsNotExist(err), "instance lock is released")

	assert.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)
}

func TestApp_RequestCloseAsks(t *testing.T) {
	cfg := createTestConfig(t, http.StatusNoContent)
	cfg.App.ConfirmClosing = true
	// Decline once, then confirm.
	headless := ui.NewHeadless(0, 1)

	component := &fakeComponent{name: "fake"}
	a, err := New(cfg, logger.Nop(), WithSurface(headless), WithComponents(component))
	require.NoError(t, err)
	done := start(t, a, context.Background())

	c := a.Context()
	require.Eventually(t, func() bool {
		return c.Lifecycle.State() == lifecycle.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	a.RequestClose()
	require.Eventually(t, func() bool {
		return len(headless.Questions()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, lifecycle.StateReady, c.Lifecycle.State())

	a.RequestClose()
	require.NoError(t, wait(t, done))
	assert.Len(t, headless.Questions(), 2)
	assert.True(t, component.finalized.Load())
}

func TestApp_BootFailure(t *testing.T) {
	cfg := createTestConfig(t, http.StatusNoContent)
	headless := ui.NewHeadless()

	registered := &fakeComponent{name: "first"}
	broken := &fakeComponent{name: "broken", err: errors.New("cannot read history")}
	a, err := New(cfg, logger.Nop(), WithSurface(headless), WithComponents(registered, broken))
	require.NoError(t, err)

	err = wait(t, start(t, a, context.Background()))

	var bootErr *lifecycle.BootError
	require.ErrorAs(t, err, &bootErr)
	assert.Equal(t, "broken", bootErr.Step)
	assert.Contains(t, bootErr.Error(), "cannot read history")

	require.Len(t, headless.Questions(), 1)
	assert.Equal(t, "Boot failure", headless.Questions()[0].Title)
	assert.Equal(t, 1, headless.CloseCount())
	assert.False(t, registered.finalized.Load(), "finalize functions are skipped after a boot failure")
	assert.Equal(t, int64(0), a.Context().Lifecycle.Barrier().Total())
}

func TestApp_Offline(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a connectivity retry")
	}

	cfg := createTestConfig(t, http.StatusBadGateway)
	headless := ui.NewHeadless()

	a, err := New(cfg, logger.Nop(), WithSurface(headless), WithComponents())
	require.NoError(t, err)

	err = wait(t, start(t, a, context.Background()))
	assert.ErrorIs(t, err, lifecycle.ErrOffline)
	assert.Contains(t, headless.Announcements(), lifecycle.AnnounceOffline)
	assert.Empty(t, a.Context().Processes.Presences(), "process pool is never started")
}

func TestApp_CancelDuringBoot(t *testing.T) {
	cfg := createTestConfig(t, http.StatusBadGateway)
	cfg.Boot.MaxConnectAttempts = 0
	headless := ui.NewHeadless()

	a, err := New(cfg, logger.Nop(), WithSurface(headless), WithComponents())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, a, ctx)
	require.Eventually(t, func() bool {
		return len(headless.Announcements()) > 0
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, wait(t, done))
	assert.Equal(t, lifecycle.StateTerminated, a.Context().Lifecycle.State())
	assert.Equal(t, 1, headless.CloseCount())
}

func TestApp_SecondInstance(t *testing.T) {
	cfg := createTestConfig(t, http.StatusNoContent)
	path := filepath.Join(cfg.App.DataPath, PIDFileName)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getppid())), 0o600))

	a, err := New(cfg, logger.Nop(), WithSurface(ui.NewHeadless()), WithComponents())
	require.NoError(t, err)

	err = a.Run(context.Background())
	assert.ErrorIs(t, err, ErrInstanceRunning)

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getppid(), pid, "the other instance keeps its lock")
}

func TestInstanceLock_StaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)
	require.NoError(t, os.WriteFile(path, []byte("99999999\n"), 0o600))

	lock := newInstanceLock(dir)
	require.NoError(t, lock.Acquire())

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestApp_FirstRunPrompt(t *testing.T) {
	cfg := createTestConfig(t, http.StatusNoContent)
	cfg.App.DataPath = filepath.Join(cfg.App.DataPath, "fresh")
	headless := ui.NewHeadless()

	a, err := New(cfg, logger.Nop(), WithSurface(headless), WithComponents())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, a, ctx)
	require.Eventually(t, func() bool {
		return a.Context().Lifecycle.State() == lifecycle.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, headless.Questions(), 1)
	assert.Equal(t, "Data folder", headless.Questions()[0].Title)
	assert.Contains(t, headless.Questions()[0].Body, cfg.App.DataPath)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestApp_JobsWaitForInitializeFunctions(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for scheduled firings")
	}

	cfg := createTestConfig(t, http.StatusNoContent)
	component := &slowStartComponent{}
	a, err := New(cfg, logger.Nop(), WithSurface(ui.NewHeadless()), WithComponents(component))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := start(t, a, ctx)

	require.Eventually(t, func() bool {
		return component.fired.Load() >= 2
	}, 6*time.Second, 20*time.Millisecond)
	assert.True(t, component.initialized.Load())
	assert.Zero(t, component.early.Load(), "job fired before the initialize functions finished")

	cancel()
	require.NoError(t, wait(t, done))
}
