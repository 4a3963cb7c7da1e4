// Package workers provides the goroutine task pool.
// Workers are pre-spawned, named worker-1..worker-N, and execute closures
// submitted with RunAsync or mapped over a slice with Map and MapAsync.
package workers

import (
	"context"
	"errors"
	"time"
)

// Job is a unit of background work.
type Job func(ctx context.Context) error

// ErrPoolStopped is returned for jobs submitted to, or still queued in, a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolMetrics is a snapshot of a pool's counters.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TotalDuration  time.Duration
	Busy           int
	Queued         int
}

// Defaults for worker pool configuration.
const (
	DefaultPoolSize  = 8
	DefaultQueueSize = 256
)

type task struct {
	job  Job
	done func(error)
}
