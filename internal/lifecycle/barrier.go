package lifecycle

import (
	"sync/atomic"

	"github.com/solsol/solsol/internal/metrics"
)

// Barrier counts finished finalize steps against the registered total.
// done only grows and never passes total.
type Barrier struct {
	done    atomic.Int64
	total   atomic.Int64
	armed   atomic.Bool
	metrics *metrics.Metrics
}

func newBarrier(m *metrics.Metrics) *Barrier {
	return &Barrier{metrics: m}
}

// Arm sets the total. Only the first call has an effect.
func (b *Barrier) Arm(total int) {
	if !b.armed.CompareAndSwap(false, true) {
		return
	}
	b.total.Store(int64(total))
	b.metrics.Barrier(0, int64(total))
}

// Step records one finished finalize function.
func (b *Barrier) Step() {
	total := b.total.Load()
	for {
		done := b.done.Load()
		if done >= total {
			return
		}
		if b.done.CompareAndSwap(done, done+1) {
			b.metrics.Barrier(done+1, total)
			return
		}
	}
}

// Done returns the finished step count.
func (b *Barrier) Done() int64 {
	return b.done.Load()
}

// Total returns the armed total.
func (b *Barrier) Total() int64 {
	return b.total.Load()
}

// Complete reports whether the barrier is armed and every step has finished.
func (b *Barrier) Complete() bool {
	return b.armed.Load() && b.done.Load() == b.total.Load()
}
