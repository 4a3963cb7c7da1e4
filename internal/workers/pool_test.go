package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsol/solsol/internal/logger"
)

func newTestPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	pool := NewPool("test", workers, 16, log, nil)
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool("defaults", 0, 0, nil, nil)
	assert.Equal(t, DefaultPoolSize, pool.WorkerCount())
	assert.Equal(t, "defaults", pool.Name())
	assert.Len(t, pool.Presences(), DefaultPoolSize)
	pool.Stop()
}

func TestPool_RunAsync(t *testing.T) {
	pool := newTestPool(t, 2)

	done := make(chan struct{})
	require.NoError(t, pool.RunAsync(func(context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestPool_PanicIsIsolated(t *testing.T) {
	pool := newTestPool(t, 1)

	results := make(chan error, 2)
	require.NoError(t, pool.SubmitWithContext(context.Background(), func(context.Context) error {
		panic("index out of range")
	}, func(err error) { results <- err }))
	require.NoError(t, pool.SubmitWithContext(context.Background(), func(context.Context) error {
		return nil
	}, func(err error) { results <- err }))

	first := <-results
	require.Error(t, first)
	assert.Contains(t, first.Error(), "index out of range")
	assert.NoError(t, <-results)

	stats := pool.Metrics()
	assert.Equal(t, uint64(2), stats.TasksSubmitted)
	assert.Equal(t, uint64(1), stats.TasksCompleted)
	assert.Equal(t, uint64(1), stats.TasksFailed)
}

func TestPool_Presences(t *testing.T) {
	pool := newTestPool(t, 3)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.RunAsync(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	presences := pool.Presences()
	require.Len(t, presences, 3)
	busy := 0
	for name, b := range presences {
		assert.Contains(t, []string{"worker-1", "worker-2", "worker-3"}, name)
		if b {
			busy++
		}
	}
	assert.Equal(t, 1, busy)
	assert.Equal(t, 1, pool.Metrics().Busy)
	close(release)

	assert.Eventually(t, func() bool {
		for _, b := range pool.Presences() {
			if b {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestPool_MetricsConcurrent(t *testing.T) {
	pool := newTestPool(t, 4)

	const jobs = 200
	results := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		fail := i%4 == 0
		go func() {
			err := pool.SubmitWithContext(context.Background(), func(context.Context) error {
				_ = pool.Metrics()
				if fail {
					return errors.New("rejected order")
				}
				return nil
			}, func(err error) { results <- err })
			if err != nil {
				results <- err
			}
		}()
	}

	failed := 0
	for i := 0; i < jobs; i++ {
		if <-results != nil {
			failed++
		}
	}

	stats := pool.Metrics()
	assert.Equal(t, uint64(jobs), stats.TasksSubmitted)
	assert.Equal(t, uint64(jobs-failed), stats.TasksCompleted)
	assert.Equal(t, uint64(failed), stats.TasksFailed)
	assert.Equal(t, jobs/4, failed)
	assert.Zero(t, stats.Queued)
}

func TestPool_StopLetsInFlightFinish(t *testing.T) {
	pool := NewPool("stop", 1, 4, logger.Nop(), nil)
	pool.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, pool.RunAsync(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	queued := make(chan error, 1)
	require.NoError(t, pool.SubmitWithContext(context.Background(), func(context.Context) error {
		return nil
	}, func(err error) { queued <- err }))

	<-started
	pool.Stop()
	pool.Stop()

	assert.True(t, finished.Load())
	select {
	case err := <-queued:
		// The queued job either ran before cancellation was observed or was dropped.
		if err != nil {
			assert.ErrorIs(t, err, ErrPoolStopped)
		}
	case <-time.After(time.Second):
		t.Fatal("queued job never completed")
	}
	assert.ErrorIs(t, pool.RunAsync(func(context.Context) error { return nil }), ErrPoolStopped)
}

func TestMap_EachItemOnceDespiteFailures(t *testing.T) {
	pool := newTestPool(t, 4)

	const n = 40
	var calls [n]atomic.Int32
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}

	errs := Map(context.Background(), pool, items, func(_ context.Context, i int) error {
		calls[i].Add(1)
		switch {
		case i%10 == 3:
			return fmt.Errorf("item %d failed", i)
		case i%10 == 7:
			panic("boom")
		}
		return nil
	})

	require.Len(t, errs, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, int32(1), calls[i].Load(), "item %d", i)
		if i%10 == 3 || i%10 == 7 {
			assert.Error(t, errs[i], "item %d", i)
		} else {
			assert.NoError(t, errs[i], "item %d", i)
		}
	}
}

func TestMapAsync_ReadyAndSuccessful(t *testing.T) {
	pool := newTestPool(t, 2)

	release := make(chan struct{})
	r := MapAsync(context.Background(), pool, []string{"a", "b"}, func(context.Context, string) error {
		<-release
		return nil
	})
	assert.False(t, r.Ready())
	assert.False(t, r.Successful())

	close(release)
	errs, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []error{nil, nil}, errs)
	assert.True(t, r.Ready())
	assert.True(t, r.Successful())
	assert.Equal(t, 2, r.Done())
}

func TestMapAsync_Empty(t *testing.T) {
	pool := newTestPool(t, 1)

	r := MapAsync(context.Background(), pool, []int(nil), func(context.Context, int) error { return nil })
	assert.True(t, r.Ready())
	assert.True(t, r.Successful())
}

func TestMapAsync_Failure(t *testing.T) {
	pool := newTestPool(t, 2)
	boom := errors.New("boom")

	r := MapAsync(context.Background(), pool, []int{1, 2}, func(_ context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	errs, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.True(t, r.Ready())
	assert.False(t, r.Successful())
}

func TestMap_StoppedPool(t *testing.T) {
	pool := NewPool("stopped", 1, 1, logger.Nop(), nil)
	pool.Stop()

	errs := Map(context.Background(), pool, []int{1, 2, 3}, func(context.Context, int) error { return nil })
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrPoolStopped)
	}
}

func TestMap_ContextCancelled(t *testing.T) {
	pool := newTestPool(t, 1)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errs := Map(ctx, pool, []int{1}, func(context.Context, int) error {
		<-release
		return nil
	})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}
