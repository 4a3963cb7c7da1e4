// Package connectivity watches internet reachability.
// A Monitor probes a URL on a fixed interval and notifies listeners when the
// state flips between online and offline.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solsol/solsol/internal/logger"
)

// Config configures a Monitor.
type Config struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
}

// Probe is the outcome of one check.
type Probe struct {
	At      time.Time
	Online  bool
	Latency time.Duration
	// ServerOffset is the local clock minus the server's Date header,
	// corrected by half the latency. Zero when the header is missing.
	ServerOffset time.Duration
}

// Monitor periodically checks connectivity.
type Monitor struct {
	cfg       Config
	client    *http.Client
	logger    *logger.Logger
	connected atomic.Bool
	checked   atomic.Bool

	mu        sync.RWMutex
	listeners []func(connected bool)
	last      Probe
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	stopped   chan struct{}
}

// NewMonitor creates a monitor. It does not probe until Start or Check.
func NewMonitor(cfg Config, log *logger.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.With(logger.Field{Key: "component", Value: "connectivity"}),
	}
}

// OnChange registers fn to be called on every online/offline transition.
// The first completed probe counts as a transition.
func (m *Monitor) OnChange(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Connected reports the last probe result.
func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

// Start begins probing in the background. Calling it twice is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.stopped = make(chan struct{})
	m.started = true

	m.logger.Info("connectivity monitor started",
		logger.Field{Key: "probe", Value: m.cfg.ProbeURL},
		logger.Field{Key: "interval", Value: m.cfg.Interval})

	go m.run(m.ctx, m.stopped)
	return nil
}

// Stop ends probing and waits for the loop to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.started = false
	stopped := m.stopped
	m.mu.Unlock()

	<-stopped
	m.logger.Info("connectivity monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes once, records the result and notifies listeners on a change.
func (m *Monitor) Check(ctx context.Context) bool {
	result, err := m.probe(ctx)
	online := err == nil
	result.Online = online

	m.mu.Lock()
	m.last = result
	m.mu.Unlock()

	first := !m.checked.Swap(true)
	previous := m.connected.Swap(online)
	if first || previous != online {
		if online {
			m.logger.Info("internet connection available")
		} else {
			m.logger.Warn("internet connection lost", logger.Field{Key: "error", Value: err.Error()})
		}
		m.notify(online)
	}
	return online
}

// LastProbe returns the most recent check result.
func (m *Monitor) LastProbe() Probe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) probe(ctx context.Context) (Probe, error) {
	start := time.Now()
	result := Probe{At: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return result, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	received := time.Now()
	result.Latency = received.Sub(start)
	if date, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		result.ServerOffset = received.Sub(date) - result.Latency/2
	}

	if resp.StatusCode >= 500 {
		return result, fmt.Errorf("probe returned %s", resp.Status)
	}
	return result, nil
}

func (m *Monitor) notify(online bool) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(online)
	}
}
