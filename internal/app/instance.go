package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/solsol/solsol/internal/procpool"
)

// PIDFileName is the instance lock kept in the data folder.
const PIDFileName = "solsol.pid"

// ErrInstanceRunning is returned when another process holds the data folder.
var ErrInstanceRunning = errors.New("another solsol instance is using this data folder")

// instanceLock keeps two processes from sharing one data folder.
type instanceLock struct {
	path string
	held bool
}

func newInstanceLock(dataPath string) *instanceLock {
	return &instanceLock{path: filepath.Join(dataPath, PIDFileName)}
}

// Acquire writes the current PID. A stale file left by a dead process is replaced.
func (l *instanceLock) Acquire() error {
	if pid, err := readPID(l.path); err == nil && pid != os.Getpid() && procpool.IsRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrInstanceRunning, pid)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data folder: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	l.held = true
	return nil
}

// Release removes the PID file if Acquire wrote it.
func (l *instanceLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
