package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solsol/solsol/internal/config"
)

const settingsFile = "settings.yaml"

// Settings are the manager preferences persisted in the data folder.
type Settings struct {
	MatchSystemTime bool   `yaml:"match_system_time"`
	LockBoardAfter  string `yaml:"lock_board_after"`
}

// Validate checks the lock option.
func (s Settings) Validate() error {
	if _, ok := config.LockBoardOptions[s.LockBoardAfter]; !ok {
		return fmt.Errorf("invalid lock_board_after %q", s.LockBoardAfter)
	}
	return nil
}

// LockAfter returns the idle time before the board locks, false for NEVER.
func (s Settings) LockAfter() (time.Duration, bool) {
	d := config.LockBoardOptions[s.LockBoardAfter]
	return d, d > 0
}

// loadSettings reads dir/settings.yaml, returning defaults when it does not exist.
func loadSettings(dir string, defaults Settings) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(dir, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("failed to read settings: %w", err)
	}

	s := defaults
	if err := yaml.Unmarshal(data, &s); err != nil {
		return defaults, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return defaults, err
	}
	return s, nil
}

// saveSettings writes s atomically through a temporary file.
func saveSettings(dir string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	path := filepath.Join(dir, settingsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
