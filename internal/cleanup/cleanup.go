// Package cleanup prunes old output files from the data folder.
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/solsol/solsol/internal/logger"
)

// Run deletes files in dir matching the pattern that are older than MaxAge or
// beyond the MaxFiles newest. A missing directory is not an error.
func (r *Runner) Run(dir string, now time.Time, log *logger.Logger) (Stats, error) {
	if log == nil {
		log = logger.Nop()
	}
	startTime := time.Now()
	stats := Stats{}

	files, err := r.list(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("cleanup directory does not exist, skipping cleanup", logger.Field{Key: "dir", Value: dir})
			return stats, nil
		}
		return stats, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	stats.FilesScanned = len(files)

	// Newest first, so the count limit keeps the head.
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	var errs []error
	for i, f := range files {
		if !r.expired(i, f, now) {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		stats.FilesDeleted++
		stats.BytesFreed += f.size
		log.Debug("deleted old file", logger.Field{Key: "path", Value: f.path})
	}

	stats.Duration = time.Since(startTime)

	r.mu.Lock()
	r.stats = stats
	r.lastRun = now
	r.mu.Unlock()

	return stats, errors.Join(errs...)
}

func (r *Runner) expired(rank int, f fileInfo, now time.Time) bool {
	if r.config.MaxFiles > 0 && rank >= r.config.MaxFiles {
		return true
	}
	return r.config.MaxAge > 0 && f.modTime.Before(now.Add(-r.config.MaxAge))
}

func (r *Runner) list(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(r.config.Pattern, entry.Name())
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// GetStats returns statistics from the last run.
func (r *Runner) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// GetLastRun returns the time of the last run.
func (r *Runner) GetLastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}
