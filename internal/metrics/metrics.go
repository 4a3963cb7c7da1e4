// Package metrics exposes prometheus collectors for the dispatcher, the pools,
// the scheduler and the shutdown barrier. Every method is safe on a nil
// *Metrics so components can be built without instrumentation.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the core reports to.
type Metrics struct {
	dispatchTotal      *prometheus.CounterVec
	dispatchQueueDepth prometheus.Gauge
	taskTotal          *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	workersBusy        *prometheus.GaugeVec
	processCalls       *prometheus.CounterVec
	schedulerRuns      *prometheus.CounterVec
	schedulerCoalesced *prometheus.CounterVec
	barrierDone        prometheus.Gauge
	barrierTotal       prometheus.Gauge
	lifecycleState     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "solsol"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_jobs_total",
			Help:      "Jobs executed on the UI thread.",
		}, []string{"status"}),
		dispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Jobs waiting for the UI thread.",
		}),
		taskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_total",
			Help:      "Tasks executed by a pool.",
		}, []string{"pool", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_task_duration_seconds",
			Help:      "Duration of pool tasks.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"pool"}),
		workersBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers_busy",
			Help:      "Workers currently executing a task.",
		}, []string{"pool"}),
		processCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_calls_total",
			Help:      "Calls executed by child processes.",
		}, []string{"handler", "status"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled job invocations.",
		}, []string{"job", "status"}),
		schedulerCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_coalesced_total",
			Help:      "Firings dropped because the job queue was full.",
		}, []string{"job"}),
		barrierDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_steps_done",
			Help:      "Finalize functions completed.",
		}),
		barrierTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_steps_total",
			Help:      "Finalize functions registered at shutdown start.",
		}),
		lifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "0=booting 1=ready 2=closing 3=finalizing 4=terminated.",
		}),
	}

	collectors := []prometheus.Collector{
		m.dispatchTotal, m.dispatchQueueDepth,
		m.taskTotal, m.taskDuration, m.workersBusy,
		m.processCalls,
		m.schedulerRuns, m.schedulerCoalesced,
		m.barrierDone, m.barrierTotal, m.lifecycleState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}

	return m, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// DispatchDone counts a UI-thread job.
func (m *Metrics) DispatchDone(err error) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(statusLabel(err)).Inc()
}

// DispatchQueueDepth records the dispatcher backlog.
func (m *Metrics) DispatchQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.dispatchQueueDepth.Set(float64(depth))
}

// TaskDone records a finished pool task.
func (m *Metrics) TaskDone(pool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.taskTotal.WithLabelValues(pool, statusLabel(err)).Inc()
	m.taskDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// WorkerBusy moves the busy gauge of pool by delta.
func (m *Metrics) WorkerBusy(pool string, delta float64) {
	if m == nil {
		return
	}
	m.workersBusy.WithLabelValues(pool).Add(delta)
}

// ProcessCallDone counts a call served by a child process.
func (m *Metrics) ProcessCallDone(handler string, err error) {
	if m == nil {
		return
	}
	m.processCalls.WithLabelValues(handler, statusLabel(err)).Inc()
}

// JobRun counts a scheduled job invocation.
func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, statusLabel(err)).Inc()
}

// JobCoalesced counts a firing dropped because the job already had a queued run.
func (m *Metrics) JobCoalesced(job string) {
	if m == nil {
		return
	}
	m.schedulerCoalesced.WithLabelValues(job).Inc()
}

// Barrier records shutdown progress.
func (m *Metrics) Barrier(done, total int64) {
	if m == nil {
		return
	}
	m.barrierDone.Set(float64(done))
	m.barrierTotal.Set(float64(total))
}

// LifecycleState records the orchestrator state as its ordinal.
func (m *Metrics) LifecycleState(state int) {
	if m == nil {
		return
	}
	m.lifecycleState.Set(float64(state))
}
