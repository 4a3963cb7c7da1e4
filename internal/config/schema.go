// Package config provides configuration loading and validation for solsol.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation.
//
// Configuration structure:
//   - [app]: data folder and window behaviour
//   - [logging]: logging level, format, output and log pane level
//   - [workers]: task pool size and queue size
//   - [processes]: process pool size and child command
//   - [scheduler]: timezone and per-job queue depth
//   - [boot]: connectivity wait and initialization limits
//   - [shutdown]: finalize pool, barrier polling, grace and watchdog
//   - [connectivity]: probe URL and interval
//   - [streams]: market data websocket endpoints
//   - [metrics]: prometheus exposition
//
// Environment variables can be referenced using ${VAR} or ${VAR:default} syntax.
// For example: datapath = "${SOLSOL_DATA:~/solsol}"
package config

import (
	"path/filepath"
	"time"
)

// Config represents the main application configuration.
type Config struct {
	App          AppConfig          `toml:"app"`
	Logging      LoggingConfig      `toml:"logging"`
	Workers      WorkersConfig      `toml:"workers"`
	Processes    ProcessesConfig    `toml:"processes"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Boot         BootConfig         `toml:"boot"`
	Shutdown     ShutdownConfig     `toml:"shutdown"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Streams      StreamsConfig      `toml:"streams"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// AppConfig holds the data folder and window behaviour.
type AppConfig struct {
	DataPath       string `toml:"datapath"`
	ConfirmClosing bool   `toml:"confirm_closing"`
	LockBoardAfter string `toml:"lock_board_after"` // NEVER, 10_SECOND, 1_MINUTE, 10_MINUTE, 1_HOUR

	// Log output files older than LogRetentionDays or beyond the newest
	// KeepLogOutputs are pruned hourly.
	LogRetentionDays int `toml:"log_retention_days"`
	KeepLogOutputs   int `toml:"keep_log_outputs"`
}

// LoggingConfig configures the process logger and the log pane.
type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Output    string `toml:"output"`
	PaneLevel string `toml:"pane_level"`
}

// WorkersConfig configures the goroutine task pool.
type WorkersConfig struct {
	PoolSize  int `toml:"pool_size"`
	QueueSize int `toml:"queue_size"`
}

// ProcessesConfig configures the process pool.
// An empty Command means the running executable with the hidden "worker" subcommand.
type ProcessesConfig struct {
	Count   int      `toml:"count"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// SchedulerConfig configures the periodic scheduler.
type SchedulerConfig struct {
	Timezone   string `toml:"timezone"`
	MaxPending int    `toml:"max_pending"`
}

// BootConfig configures the boot sequence.
type BootConfig struct {
	ConnectRetrySeconds    int `toml:"connect_retry_seconds"`
	ConnectMaxBackoffSecs  int `toml:"connect_max_backoff_seconds"`
	MaxConnectAttempts     int `toml:"max_connect_attempts"` // 0 = wait forever
	InitializeTimeoutSecs  int `toml:"initialize_timeout_seconds"`
	SettleMilliseconds     int `toml:"settle_milliseconds"`
	InitializePollInterval int `toml:"initialize_poll_milliseconds"`
}

// ShutdownConfig configures the finalize barrier.
type ShutdownConfig struct {
	FinalizeWorkers    int `toml:"finalize_workers"`
	PollMilliseconds   int `toml:"poll_milliseconds"`
	GraceMilliseconds  int `toml:"grace_milliseconds"`
	WatchdogSeconds    int `toml:"watchdog_seconds"` // 0 = no watchdog
	TerminateTimeoutMs int `toml:"terminate_timeout_milliseconds"`
}

// ConnectivityConfig configures the internet connectivity monitor.
type ConnectivityConfig struct {
	ProbeURL        string `toml:"probe_url"`
	IntervalSeconds int    `toml:"interval_seconds"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// StreamsConfig lists market data websocket endpoints.
type StreamsConfig struct {
	Enabled bool     `toml:"enabled"`
	BaseURL string   `toml:"base_url"`
	Symbols []string `toml:"symbols"`
}

// MetricsConfig configures the prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// ManagerDir returns the manager's data directory.
func (c *AppConfig) ManagerDir() string {
	return filepath.Join(c.DataPath, "manager")
}

// LogRetention returns how long log output files are kept.
func (c *AppConfig) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionDays) * 24 * time.Hour
}

// CollectorDir returns the collector's data directory.
func (c *AppConfig) CollectorDir() string {
	return filepath.Join(c.DataPath, "collector")
}

// ConnectRetry returns the initial connectivity retry interval.
func (c *BootConfig) ConnectRetry() time.Duration {
	return time.Duration(c.ConnectRetrySeconds) * time.Second
}

// ConnectMaxBackoff returns the ceiling of the connectivity retry backoff.
func (c *BootConfig) ConnectMaxBackoff() time.Duration {
	return time.Duration(c.ConnectMaxBackoffSecs) * time.Second
}

// InitializeTimeout returns how long boot waits for initialize functions.
func (c *BootConfig) InitializeTimeout() time.Duration {
	return time.Duration(c.InitializeTimeoutSecs) * time.Second
}

// Settle returns the pause before the main widgets are shown.
func (c *BootConfig) Settle() time.Duration {
	return time.Duration(c.SettleMilliseconds) * time.Millisecond
}

// InitializePoll returns the polling interval used while waiting for initialize functions.
func (c *BootConfig) InitializePoll() time.Duration {
	return time.Duration(c.InitializePollInterval) * time.Millisecond
}

// Poll returns the barrier polling interval.
func (c *ShutdownConfig) Poll() time.Duration {
	return time.Duration(c.PollMilliseconds) * time.Millisecond
}

// Grace returns the pause between "Finalization done" and the real close.
func (c *ShutdownConfig) Grace() time.Duration {
	return time.Duration(c.GraceMilliseconds) * time.Millisecond
}

// Watchdog returns the finalize watchdog, zero when disabled.
func (c *ShutdownConfig) Watchdog() time.Duration {
	return time.Duration(c.WatchdogSeconds) * time.Second
}

// TerminateTimeout returns how long the process pool waits for children to exit.
func (c *ShutdownConfig) TerminateTimeout() time.Duration {
	return time.Duration(c.TerminateTimeoutMs) * time.Millisecond
}

// Interval returns the connectivity probe interval.
func (c *ConnectivityConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns the connectivity probe timeout.
func (c *ConnectivityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
