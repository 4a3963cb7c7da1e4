// Package manager owns the status gauge, the internal status labels, the
// board lock and the user settings.
package manager

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solsol/solsol/internal/bus"
	"github.com/solsol/solsol/internal/cleanup"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/ui"
)

// Label keys set by the manager.
const (
	LabelTaskPresences    = "task_presences"
	LabelProcessPresences = "process_presences"
	LabelPoolStats        = "pool_stats"
	LabelScheduledJobs    = "scheduled_jobs"
)

// LogOutputPattern matches the files written by LogPane.
const LogOutputPattern = "log_outputs_*.txt"

// maxSamples bounds the server time difference history.
const maxSamples = 120

// ChangeSettings replaces the manager settings and saves them.
type ChangeSettings struct {
	Settings Settings
}

// Interact records user input on the board and unlocks it.
type Interact struct{}

// ResetDatapath asks for confirmation and shuts down without the close prompt.
type ResetDatapath struct{}

// Manager is the housekeeping component.
type Manager struct {
	c    *core.Context
	dir  string
	log  *logger.Logger
	now  func() time.Time
	logs *cleanup.Runner

	mu       sync.Mutex
	settings Settings
	offsets  []time.Duration
	ping     time.Duration

	lastInteraction atomic.Int64
	boardLocked     atomic.Bool
}

// New creates the manager. It does nothing until BringUp.
func New() *Manager {
	return &Manager{now: time.Now}
}

// Name implements core.Component.
func (m *Manager) Name() string {
	return "manager"
}

// BringUp loads settings and registers jobs, commands and the settings finalizer.
func (m *Manager) BringUp(c *core.Context) error {
	m.c = c
	m.dir = c.Config.App.ManagerDir()
	m.log = c.Logger.With(logger.Field{Key: "component", Value: "manager"})
	m.lastInteraction.Store(m.now().UnixNano())

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manager directory: %w", err)
	}

	defaults := Settings{LockBoardAfter: c.Config.App.LockBoardAfter}
	if defaults.LockBoardAfter == "" {
		defaults.LockBoardAfter = "NEVER"
	}
	settings, err := loadSettings(m.dir, defaults)
	if err != nil {
		m.log.Warn("using default settings", logger.Field{Key: "error", Value: err.Error()})
	}
	m.settings = settings

	m.logs = cleanup.NewRunner(cleanup.Config{
		Pattern:  LogOutputPattern,
		MaxAge:   c.Config.App.LogRetention(),
		MaxFiles: c.Config.App.KeepLogOutputs,
	})

	jobs := []struct {
		name    string
		trigger cron.Trigger
		fn      cron.Func
	}{
		{"manager.lock_board", cron.EverySecond(), m.lockBoard},
		{"manager.check_online_status", cron.EverySecond(), m.checkOnlineStatus},
		{"manager.display_system_status", cron.EverySecond(), m.displaySystemStatus},
		{"manager.display_internal_status", cron.EverySecond(), m.displayInternalStatus},
		{"manager.match_system_time", cron.EveryNMinutes(10), m.matchSystemTime},
		{"manager.prune_log_outputs", cron.EveryHour(), m.pruneLogOutputs},
	}
	for _, j := range jobs {
		if err := c.Scheduler.AddJob(j.name, j.trigger, j.fn); err != nil {
			return err
		}
	}

	if err := bus.Register(c.Bus, m.changeSettings); err != nil {
		return err
	}
	if err := bus.Register(c.Bus, m.interact); err != nil {
		return err
	}
	if err := bus.Register(c.Bus, m.resetDatapath); err != nil {
		return err
	}

	c.Initialize("manager.display_system_status", m.displaySystemStatus)
	c.Finalize("manager.save_settings", m.saveSettings)
	return nil
}

// Settings returns a copy of the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// BoardLocked reports whether the board was locked for inactivity.
func (m *Manager) BoardLocked() bool {
	return m.boardLocked.Load()
}

func (m *Manager) pruneLogOutputs(context.Context) error {
	stats, err := m.logs.Run(m.dir, m.now(), m.log)
	if stats.FilesDeleted > 0 {
		m.log.Info("pruned log outputs",
			logger.Field{Key: "deleted", Value: stats.FilesDeleted},
			logger.Field{Key: "bytes", Value: stats.BytesFreed})
	}
	return err
}

func (m *Manager) saveSettings(context.Context) error {
	return saveSettings(m.dir, m.Settings())
}

func (m *Manager) changeSettings(_ context.Context, cmd ChangeSettings) error {
	if err := cmd.Settings.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = cmd.Settings
	m.mu.Unlock()

	m.log.Info("settings changed", logger.Field{Key: "lock_board_after", Value: cmd.Settings.LockBoardAfter})
	return saveSettings(m.dir, cmd.Settings)
}

func (m *Manager) interact(context.Context, Interact) error {
	m.lastInteraction.Store(m.now().UnixNano())
	if m.boardLocked.CompareAndSwap(true, false) {
		m.c.UI(func(s ui.Surface) { s.SetBoardEnabled(true) })
	}
	return nil
}

func (m *Manager) resetDatapath(ctx context.Context, _ ResetDatapath) error {
	q := ui.Question{
		Title: "Are you sure you want to change the data folder?",
		Body: "The application will shut down shortly. Point datapath in the config file " +
			"to the new folder before starting again. The previous data folder is not deleted.",
		Answers: []string{"No", "Yes"},
	}

	answer := make(chan int, 1)
	m.c.UI(func(s ui.Surface) {
		s.Ask(q, func(index int) { answer <- index })
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case index := <-answer:
		if index != 1 {
			return nil
		}
	}

	m.log.Info("data folder reset requested, shutting down")
	m.c.Lifecycle.Shutdown()
	return nil
}

func (m *Manager) lockBoard(context.Context) error {
	wait, ok := m.Settings().LockAfter()
	if !ok || m.boardLocked.Load() {
		return nil
	}
	last := time.Unix(0, m.lastInteraction.Load())
	if m.now().Before(last.Add(wait)) {
		return nil
	}
	if m.boardLocked.CompareAndSwap(false, true) {
		m.log.Info("board locked after inactivity", logger.Field{Key: "idle", Value: m.now().Sub(last)})
		m.c.UI(func(s ui.Surface) { s.SetBoardEnabled(false) })
	}
	return nil
}

// checkOnlineStatus records latency and server time difference. It returns
// at once while offline.
func (m *Manager) checkOnlineStatus(context.Context) error {
	if !m.c.Connectivity.Connected() {
		return nil
	}
	probe := m.c.Connectivity.LastProbe()
	if !probe.Online {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ping = probe.Latency
	m.offsets = append(m.offsets, probe.ServerOffset)
	if len(m.offsets) > maxSamples {
		m.offsets = m.offsets[len(m.offsets)-maxSamples:]
	}
	return nil
}

func (m *Manager) meanOffset() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.offsets) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.offsets {
		sum += d
	}
	return sum / time.Duration(len(m.offsets))
}

func (m *Manager) displaySystemStatus(context.Context) error {
	m.mu.Lock()
	ping := m.ping
	m.mu.Unlock()

	text := systemStatus(m.now(), m.c.Connectivity.Connected(), ping, m.meanOffset(), m.boardLocked.Load())
	m.c.UI(func(s ui.Surface) { s.SetGaugeText(text) })
	return nil
}

func (m *Manager) displayInternalStatus(context.Context) error {
	tasks := presenceText(m.c.Tasks.Presences(), func(name string) string { return name })
	stats := poolStats(m.c.Tasks.Metrics())

	processes := "0 active\n\n"
	if m.c.Processes != nil {
		processes = presenceText(m.c.Processes.Presences(), func(pid int) string {
			return "PID " + strconv.Itoa(pid)
		})
	}

	jobs := m.c.Scheduler.Jobs()
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		lines = append(lines, fmt.Sprintf("%s (%s)", j.Name, j.Trigger))
	}
	scheduled := printer.Sprintf("%d jobs\n\n", len(jobs)) + strings.Join(lines, "\n")

	m.c.UI(func(s ui.Surface) {
		s.SetLabel(LabelTaskPresences, tasks)
		s.SetLabel(LabelProcessPresences, processes)
		s.SetLabel(LabelPoolStats, stats)
		s.SetLabel(LabelScheduledJobs, scheduled)
	})
	return nil
}

// matchSystemTime reports clock drift once enough samples were taken.
// Setting the system clock needs privileges the application does not ask for.
func (m *Manager) matchSystemTime(context.Context) error {
	if !m.Settings().MatchSystemTime {
		return nil
	}

	m.mu.Lock()
	samples := len(m.offsets)
	m.mu.Unlock()
	if samples < maxSamples/2 {
		return nil
	}

	drift := m.meanOffset()
	m.mu.Lock()
	m.offsets = m.offsets[:0]
	m.mu.Unlock()

	if drift.Abs() >= time.Second {
		m.log.Warn("system clock differs from server", logger.Field{Key: "drift", Value: drift})
	}
	return nil
}
