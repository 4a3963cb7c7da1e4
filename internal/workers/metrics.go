package workers

import (
	"sync/atomic"
	"time"
)

// counters are the pool's lifetime totals, updated by the workers.
type counters struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	nanos     atomic.Int64
}

func (c *counters) record(d time.Duration, err error) {
	if err != nil {
		c.failed.Add(1)
	} else {
		c.completed.Add(1)
	}
	c.nanos.Add(int64(d))
}

// Metrics returns a snapshot of the pool counters. Busy is the number of
// workers executing a job at the time of the call.
func (p *WorkerPool) Metrics() PoolMetrics {
	busy := 0
	for i := range p.busy {
		if p.busy[i].Load() {
			busy++
		}
	}
	return PoolMetrics{
		TasksSubmitted: p.counters.submitted.Load(),
		TasksCompleted: p.counters.completed.Load(),
		TasksFailed:    p.counters.failed.Load(),
		TotalDuration:  time.Duration(p.counters.nanos.Load()),
		Busy:           busy,
		Queued:         len(p.taskQueue),
	}
}
