// Package procpool runs CPU-bound calls in child OS processes.
//
// The pool spawns Count children from the same executable (or a configured
// command) and reuses them across calls. Parent and child exchange
// newline-delimited JSON frames over the child's stdin and stdout; each call
// carries a correlation id. Handlers are registered by name in the child
// with Register, and the child side of the protocol is Serve.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/metrics"
)

var (
	// ErrTerminated completes calls that were pending when TerminateAll ran.
	ErrTerminated = errors.New("process pool terminated")
	// ErrWorkerExited completes a call whose child process died while serving it.
	ErrWorkerExited = errors.New("process worker exited")
	// ErrNotStarted is returned by calls submitted before Start.
	ErrNotStarted = errors.New("process pool not started")
)

// Config configures the process pool.
type Config struct {
	Count            int
	Command          string   // empty: the running executable
	Args             []string // default: ["worker"] when Command is empty
	Env              []string // appended to the parent environment
	TerminateTimeout time.Duration
}

// Pool is a set of reusable child processes.
type Pool struct {
	cfg     Config
	calls   chan *Call
	quit    chan struct{}
	wg      sync.WaitGroup
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	procs      []*process
	started    bool
	terminated bool
	termOnce   sync.Once
}

// New creates a pool. Processes are spawned by Start.
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = 3 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		cfg:     cfg,
		calls:   make(chan *Call, cfg.Count*64),
		quit:    make(chan struct{}),
		logger:  log.With(logger.Field{Key: "component", Value: "procpool"}),
		metrics: m,
		procs:   make([]*process, cfg.Count),
	}
}

// Start spawns the child processes.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrTerminated
	}
	if p.started {
		return nil
	}

	if p.cfg.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		p.cfg.Command = exe
		if len(p.cfg.Args) == 0 {
			p.cfg.Args = []string{"worker"}
		}
	}

	for i := range p.procs {
		proc, err := startProcess(i, p.cfg)
		if err != nil {
			for _, started := range p.procs[:i] {
				started.stop(p.cfg.TerminateTimeout)
			}
			return fmt.Errorf("spawn process worker %d: %w", i, err)
		}
		p.procs[i] = proc
	}
	p.started = true

	for i := range p.procs {
		p.wg.Add(1)
		go p.serve(i)
	}

	p.logger.Info("process pool started",
		logger.Field{Key: "count", Value: p.cfg.Count},
		logger.Field{Key: "command", Value: p.cfg.Command})
	return nil
}

// RunAsync queues a call to method. payload is encoded as JSON.
func (p *Pool) RunAsync(ctx context.Context, method string, payload any) *Call {
	c := newCall(uuid.NewString(), method)

	raw, err := json.Marshal(payload)
	if err != nil {
		c.complete(nil, fmt.Errorf("encode payload: %w", err))
		return c
	}
	c.payload = raw

	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case p.terminated:
		c.complete(nil, ErrTerminated)
		return c
	case !p.started:
		c.complete(nil, ErrNotStarted)
		return c
	}

	select {
	case p.calls <- c:
	case <-p.quit:
		c.complete(nil, ErrTerminated)
	case <-ctx.Done():
		c.complete(nil, ctx.Err())
	}
	return c
}

// Map runs method once per payload and blocks until every call completes.
// Results and errors are indexed like payloads.
func (p *Pool) Map(ctx context.Context, method string, payloads []any) ([][]byte, []error) {
	calls := make([]*Call, len(payloads))
	for i, payload := range payloads {
		calls[i] = p.RunAsync(ctx, method, payload)
	}

	results := make([][]byte, len(calls))
	errs := make([]error, len(calls))
	for i, c := range calls {
		results[i], errs[i] = c.Wait(ctx)
	}
	return results, errs
}

// Invoke runs method and decodes its result into Out.
func Invoke[Out any](ctx context.Context, p *Pool, method string, payload any) (Out, error) {
	var out Out
	raw, err := p.RunAsync(ctx, method, payload).Wait(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

// Presences reports, per child PID, whether the child is serving a call.
func (p *Pool) Presences() map[int]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[int]bool, len(p.procs))
	for _, proc := range p.procs {
		if proc == nil || !proc.alive() {
			continue
		}
		out[proc.PID()] = proc.busy.Load()
	}
	return out
}

// TerminateAll stops every child and fails pending calls with ErrTerminated.
// It is safe to call more than once and with idle or already exited children.
func (p *Pool) TerminateAll() {
	p.termOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.terminated = true
		procs := append([]*process(nil), p.procs...)
		p.mu.Unlock()

		var wg sync.WaitGroup
		for _, proc := range procs {
			if proc == nil {
				continue
			}
			wg.Add(1)
			go func(proc *process) {
				defer wg.Done()
				proc.stop(p.cfg.TerminateTimeout)
			}(proc)
		}
		wg.Wait()
		p.wg.Wait()

	drain:
		for {
			select {
			case c := <-p.calls:
				c.complete(nil, ErrTerminated)
			default:
				break drain
			}
		}

		p.logger.Info("process pool terminated", logger.Field{Key: "count", Value: len(procs)})
	})
}

// serve feeds calls to the child at index i, respawning it after an unexpected exit.
func (p *Pool) serve(i int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case c := <-p.calls:
			p.execute(i, c)
		}
	}
}

func (p *Pool) execute(i int, c *Call) {
	proc := p.process(i)
	if proc == nil || !proc.alive() {
		var err error
		if proc, err = p.respawn(i); err != nil {
			c.complete(nil, err)
			return
		}
	}

	proc.busy.Store(true)
	resp, err := proc.roundTrip(request{ID: c.ID, Method: c.Method, Payload: c.payload})
	proc.busy.Store(false)

	if err != nil {
		if p.isTerminated() {
			c.complete(nil, ErrTerminated)
			return
		}
		p.logger.Error("process worker exited", err,
			logger.Field{Key: "pid", Value: proc.PID()},
			logger.Field{Key: "method", Value: c.Method})
		p.metrics.ProcessCallDone(c.Method, err)
		p.discard(i, proc)
		c.complete(nil, fmt.Errorf("%w: %v", ErrWorkerExited, err))
		go proc.stop(p.cfg.TerminateTimeout)
		return
	}

	if resp.Error != "" {
		rerr := &RemoteError{Method: c.Method, Message: resp.Error}
		p.metrics.ProcessCallDone(c.Method, rerr)
		c.complete(nil, rerr)
		return
	}
	p.metrics.ProcessCallDone(c.Method, nil)
	c.complete(resp.Result, nil)
}

func (p *Pool) process(i int) *process {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.procs[i]
}

// discard forgets proc so the next call on slot i spawns a replacement.
func (p *Pool) discard(i int, proc *process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.procs[i] == proc {
		p.procs[i] = nil
	}
}

func (p *Pool) respawn(i int) (*process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return nil, ErrTerminated
	}
	proc, err := startProcess(i, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: respawn failed: %v", ErrWorkerExited, err)
	}
	p.procs[i] = proc
	p.logger.Warn("process worker respawned",
		logger.Field{Key: "index", Value: i},
		logger.Field{Key: "pid", Value: proc.PID()})
	return proc, nil
}

func (p *Pool) isTerminated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.terminated
}
