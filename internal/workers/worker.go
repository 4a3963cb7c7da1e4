package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/solsol/solsol/internal/logger"
)

// worker is the main worker goroutine that processes tasks from the queue.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	name := workerName(id)
	p.logger.Debug("worker started", logger.Field{Key: "worker", Value: name})

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("worker stopping", logger.Field{Key: "worker", Value: name})
			return
		case t := <-p.taskQueue:
			p.processTask(id, t)
		}
	}
}

// processTask runs one job with metrics and panic isolation.
func (p *WorkerPool) processTask(id int, t task) {
	p.busy[id].Store(true)
	p.prom.WorkerBusy(p.name, 1)
	defer func() {
		p.busy[id].Store(false)
		p.prom.WorkerBusy(p.name, -1)
	}()

	start := time.Now()
	err := p.safeRun(p.ctx, t.job)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("task failed", err,
			logger.Field{Key: "worker", Value: workerName(id)},
			logger.Field{Key: "duration_ms", Value: duration.Milliseconds()})
	}
	p.counters.record(duration, err)
	p.prom.TaskDone(p.name, duration, err)

	t.done(err)
}

func (p *WorkerPool) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during task execution: %v", r)
		}
	}()
	return job(ctx)
}
