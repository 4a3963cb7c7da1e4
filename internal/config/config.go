package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file, applies defaults and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes, applies defaults and expands environment variables.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// confirm_closing defaults to true, so it can only be turned off explicitly
	if !md.IsDefined("app", "confirm_closing") {
		cfg.App.ConfirmClosing = true
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{App: AppConfig{ConfirmClosing: true}}
	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg
}

// LockBoardOptions lists the accepted values of app.lock_board_after.
var LockBoardOptions = map[string]time.Duration{
	"NEVER":     0,
	"10_SECOND": 10 * time.Second,
	"1_MINUTE":  time.Minute,
	"10_MINUTE": 10 * time.Minute,
	"1_HOUR":    time.Hour,
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errors []error

	if c.App.DataPath == "" {
		errors = append(errors, fmt.Errorf("app.datapath is required"))
	} else if err := validatePath(c.App.DataPath, "app.datapath"); err != nil {
		errors = append(errors, err)
	}
	if _, ok := LockBoardOptions[c.App.LockBoardAfter]; !ok {
		errors = append(errors, fmt.Errorf("invalid app.lock_board_after: %s (expected: NEVER, 10_SECOND, 1_MINUTE, 10_MINUTE, 1_HOUR)", c.App.LockBoardAfter))
	}
	if c.App.LogRetentionDays < 0 {
		errors = append(errors, fmt.Errorf("app.log_retention_days must be >= 0"))
	}
	if c.App.KeepLogOutputs < 0 {
		errors = append(errors, fmt.Errorf("app.keep_log_outputs must be >= 0"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	if !validLevels[strings.ToLower(c.Logging.PaneLevel)] {
		errors = append(errors, fmt.Errorf("invalid logging.pane_level: %s (expected: debug, info, warn, error)", c.Logging.PaneLevel))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errors = append(errors, fmt.Errorf("logging.output is required"))
	}

	if c.Workers.PoolSize < 1 {
		errors = append(errors, fmt.Errorf("workers.pool_size must be >= 1"))
	}
	if c.Workers.QueueSize < 1 {
		errors = append(errors, fmt.Errorf("workers.queue_size must be >= 1"))
	}
	if c.Processes.Count < 0 {
		errors = append(errors, fmt.Errorf("processes.count must be >= 0"))
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("invalid scheduler.timezone: %w", err))
	}
	if c.Scheduler.MaxPending < 0 {
		errors = append(errors, fmt.Errorf("scheduler.max_pending must be >= 0"))
	}

	if c.Boot.MaxConnectAttempts < 0 {
		errors = append(errors, fmt.Errorf("boot.max_connect_attempts must be >= 0 (0 waits forever)"))
	}
	if c.Boot.ConnectMaxBackoffSecs < c.Boot.ConnectRetrySeconds {
		errors = append(errors, fmt.Errorf("boot.connect_max_backoff_seconds must be >= boot.connect_retry_seconds"))
	}

	if c.Shutdown.FinalizeWorkers < 1 {
		errors = append(errors, fmt.Errorf("shutdown.finalize_workers must be >= 1"))
	}
	if c.Shutdown.WatchdogSeconds < 0 {
		errors = append(errors, fmt.Errorf("shutdown.watchdog_seconds must be >= 0 (0 disables the watchdog)"))
	}

	if c.Connectivity.ProbeURL == "" {
		errors = append(errors, fmt.Errorf("connectivity.probe_url is required"))
	}

	if c.Streams.Enabled {
		if c.Streams.BaseURL == "" {
			errors = append(errors, fmt.Errorf("streams.base_url is required when streams are enabled"))
		} else if !strings.HasPrefix(c.Streams.BaseURL, "ws://") && !strings.HasPrefix(c.Streams.BaseURL, "wss://") {
			errors = append(errors, fmt.Errorf("streams.base_url must start with ws:// or wss://"))
		}
		if len(c.Streams.Symbols) == 0 {
			errors = append(errors, fmt.Errorf("streams.symbols cannot be empty when streams are enabled"))
		}
	}

	return errors
}

func validatePath(path, fieldName string) error {
	if strings.HasPrefix(path, "~") {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.App.DataPath == "" {
		c.App.DataPath = "~/.solsol"
	}
	if c.App.LockBoardAfter == "" {
		c.App.LockBoardAfter = "NEVER"
	}
	if c.App.LogRetentionDays == 0 {
		c.App.LogRetentionDays = 30
	}
	if c.App.KeepLogOutputs == 0 {
		c.App.KeepLogOutputs = 50
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Logging.PaneLevel == "" {
		c.Logging.PaneLevel = "info"
	}

	if c.Workers.PoolSize == 0 {
		c.Workers.PoolSize = 8
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 256
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.MaxPending == 0 {
		c.Scheduler.MaxPending = 1
	}

	if c.Boot.ConnectRetrySeconds == 0 {
		c.Boot.ConnectRetrySeconds = 1
	}
	if c.Boot.ConnectMaxBackoffSecs == 0 {
		c.Boot.ConnectMaxBackoffSecs = 30
	}
	if c.Boot.InitializeTimeoutSecs == 0 {
		c.Boot.InitializeTimeoutSecs = 20
	}
	if c.Boot.SettleMilliseconds == 0 {
		c.Boot.SettleMilliseconds = 1000
	}
	if c.Boot.InitializePollInterval == 0 {
		c.Boot.InitializePollInterval = 100
	}

	if c.Shutdown.FinalizeWorkers == 0 {
		c.Shutdown.FinalizeWorkers = 4
	}
	if c.Shutdown.PollMilliseconds == 0 {
		c.Shutdown.PollMilliseconds = 100
	}
	if c.Shutdown.GraceMilliseconds == 0 {
		c.Shutdown.GraceMilliseconds = 1000
	}
	if c.Shutdown.TerminateTimeoutMs == 0 {
		c.Shutdown.TerminateTimeoutMs = 3000
	}

	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = "https://www.google.com/generate_204"
	}
	if c.Connectivity.IntervalSeconds == 0 {
		c.Connectivity.IntervalSeconds = 1
	}
	if c.Connectivity.TimeoutSeconds == 0 {
		c.Connectivity.TimeoutSeconds = 3
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "solsol"
	}
}

func expandEnvVars(c *Config) {
	if strings.HasPrefix(c.App.DataPath, "${") {
		c.App.DataPath = expandEnv(c.App.DataPath)
	}
	c.App.DataPath = expandHome(c.App.DataPath)

	if strings.HasPrefix(c.Logging.Output, "${") {
		c.Logging.Output = expandEnv(c.Logging.Output)
	}
	if strings.HasPrefix(c.Processes.Command, "${") {
		c.Processes.Command = expandEnv(c.Processes.Command)
	}
	if strings.HasPrefix(c.Streams.BaseURL, "${") {
		c.Streams.BaseURL = expandEnv(c.Streams.BaseURL)
	}
	if strings.HasPrefix(c.Metrics.Listen, "${") {
		c.Metrics.Listen = expandEnv(c.Metrics.Listen)
	}
}

// expandEnv expands a value of the form ${VAR} or ${VAR:default}.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	rest := s[end+1:]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val + rest
		}
		return parts[1] + rest
	}

	return os.Getenv(content) + rest
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
