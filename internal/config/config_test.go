package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.True(t, cfg.App.ConfirmClosing)
	assert.Equal(t, "NEVER", cfg.App.LockBoardAfter)
	assert.Equal(t, 8, cfg.Workers.PoolSize)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, 1, cfg.Scheduler.MaxPending)
	assert.Equal(t, 0, cfg.Boot.MaxConnectAttempts)
	assert.Equal(t, 0, cfg.Shutdown.WatchdogSeconds)
	assert.Equal(t, 100, cfg.Shutdown.PollMilliseconds)
	assert.Equal(t, 1000, cfg.Shutdown.GraceMilliseconds)
	assert.Equal(t, 20, cfg.Boot.InitializeTimeoutSecs)
	assert.Empty(t, cfg.Validate())
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
[app]
datapath = "/var/lib/solsol"
confirm_closing = false
lock_board_after = "1_MINUTE"

[workers]
pool_size = 3

[shutdown]
watchdog_seconds = 15

[streams]
enabled = true
base_url = "wss://fstream.example.com/ws"
symbols = ["BTCUSDT", "ETHUSDT"]
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/solsol", cfg.App.DataPath)
	assert.False(t, cfg.App.ConfirmClosing)
	assert.Equal(t, 3, cfg.Workers.PoolSize)
	assert.Equal(t, "15s", cfg.Shutdown.Watchdog().String())
	assert.Equal(t, filepath.Join("/var/lib/solsol", "manager"), cfg.App.ManagerDir())
	assert.Empty(t, cfg.Validate())
}

func TestParse_InvalidTOML(t *testing.T) {
	_, err := Parse([]byte("[app\ndatapath = 1"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   int
	}{
		{name: "valid", mutate: func(c *Config) {}, want: 0},
		{name: "bad lock option", mutate: func(c *Config) { c.App.LockBoardAfter = "SOMETIMES" }, want: 1},
		{name: "path traversal", mutate: func(c *Config) { c.App.DataPath = "/tmp/../etc" }, want: 1},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: 1},
		{name: "zero pool", mutate: func(c *Config) { c.Workers.PoolSize = 0 }, want: 1},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: 1},
		{name: "negative watchdog", mutate: func(c *Config) { c.Shutdown.WatchdogSeconds = -1 }, want: 1},
		{name: "stream without url", mutate: func(c *Config) {
			c.Streams.Enabled = true
			c.Streams.Symbols = []string{"BTCUSDT"}
		}, want: 1},
		{name: "stream with http url", mutate: func(c *Config) {
			c.Streams.Enabled = true
			c.Streams.BaseURL = "https://example.com"
			c.Streams.Symbols = []string{"BTCUSDT"}
		}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Len(t, cfg.Validate(), tt.want)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SOLSOL_TEST_DATA", "/data/solsol")

	assert.Equal(t, "/data/solsol", expandEnv("${SOLSOL_TEST_DATA}"))
	assert.Equal(t, "/data/solsol", expandEnv("${SOLSOL_TEST_DATA:/fallback}"))
	assert.Equal(t, "/fallback", expandEnv("${SOLSOL_TEST_UNSET:/fallback}"))
	assert.Equal(t, "/data/solsol/sub", expandEnv("${SOLSOL_TEST_DATA}/sub"))
	assert.Equal(t, "plain", expandEnv("plain"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".solsol"), expandHome("~/.solsol"))
	assert.Equal(t, "/abs", expandHome("/abs"))
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
SOLSOL_ENV_A=alpha
SOLSOL_ENV_B="quoted value"
not a pair
`), 0600))

	t.Setenv("SOLSOL_ENV_A", "")
	require.NoError(t, os.Unsetenv("SOLSOL_ENV_A"))
	t.Cleanup(func() { _ = os.Unsetenv("SOLSOL_ENV_B") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "alpha", os.Getenv("SOLSOL_ENV_A"))
	assert.Equal(t, "quoted value", os.Getenv("SOLSOL_ENV_B"))
}

func TestLoadEnvOptional_Missing(t *testing.T) {
	assert.NoError(t, LoadEnvOptional(filepath.Join(t.TempDir(), "absent.env")))
}
