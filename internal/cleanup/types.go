package cleanup

import (
	"sync"
	"time"
)

// Stats holds statistics about a cleanup run.
type Stats struct {
	FilesScanned int           // Files matching the pattern
	FilesDeleted int           // Files removed
	BytesFreed   int64         // Bytes removed
	Duration     time.Duration // Time taken for cleanup
}

// Config holds configuration for cleanup operations.
type Config struct {
	Pattern  string        // Glob matched against file names in the directory
	MaxAge   time.Duration // Delete files last modified before now-MaxAge (0 = no age limit)
	MaxFiles int           // Keep only the newest MaxFiles files (0 = no limit)
}

// Runner prunes files in one directory.
type Runner struct {
	config Config

	mu      sync.Mutex
	stats   Stats
	lastRun time.Time
}

// NewRunner creates a new cleanup runner.
func NewRunner(config Config) *Runner {
	if config.Pattern == "" {
		config.Pattern = "*"
	}
	return &Runner{
		config: config,
	}
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}
