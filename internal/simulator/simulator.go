// Package simulator backtests strategies in the process pool.
//
// Importing the package registers the "simulate" method, so the hidden worker
// command serves it in every child process.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/solsol/solsol/internal/bus"
	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/procpool"
	"github.com/solsol/solsol/internal/ui"
)

func init() {
	procpool.RegisterFunc(MethodSimulate, Simulate)
}

// LabelSimulation shows the latest backtest.
const LabelSimulation = "simulation"

// Default averages used by the scheduled run.
const (
	DefaultFast = 10
	DefaultSlow = 30
	DefaultFee  = 0.0004
)

// ErrNoProcessPool is returned when the context has no process pool.
var ErrNoProcessPool = errors.New("process pool unavailable")

var printer = message.NewPrinter(language.English)

// PriceSource provides recent prices, oldest first.
type PriceSource interface {
	Prices(symbol string) []float64
}

// Run backtests Symbol with the given averages.
type Run struct {
	Symbol string
	Fast   int
	Slow   int
}

// Simulator is the backtesting component.
type Simulator struct {
	c      *core.Context
	source PriceSource
	log    *logger.Logger

	mu   sync.Mutex
	last map[string]Result
}

// New creates the simulator.
func New(source PriceSource) *Simulator {
	return &Simulator{source: source, last: make(map[string]Result)}
}

// Name implements core.Component.
func (s *Simulator) Name() string {
	return "simulator"
}

// BringUp registers the Run command and a periodic run over the streamed symbols.
func (s *Simulator) BringUp(c *core.Context) error {
	s.c = c
	s.log = c.Logger.With(logger.Field{Key: "component", Value: "simulator"})

	if err := bus.Register(c.Bus, s.run); err != nil {
		return err
	}
	return c.Scheduler.AddJob("simulator.simulate_symbols", cron.EveryNMinutes(10), s.simulateSymbols)
}

// Last returns the latest result for symbol.
func (s *Simulator) Last(symbol string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[symbol]
	return r, ok
}

func (s *Simulator) run(ctx context.Context, cmd Run) error {
	req := Request{
		Symbol: cmd.Symbol,
		Prices: s.source.Prices(cmd.Symbol),
		Fast:   cmd.Fast,
		Slow:   cmd.Slow,
		Fee:    DefaultFee,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if s.c.Processes == nil {
		return ErrNoProcessPool
	}

	res, err := procpool.Invoke[Result](ctx, s.c.Processes, MethodSimulate, req)
	if err != nil {
		return fmt.Errorf("simulate %s: %w", cmd.Symbol, err)
	}

	s.mu.Lock()
	s.last[cmd.Symbol] = res
	s.mu.Unlock()

	text := fmt.Sprintf("%s SMA %d/%d over %s prices\n%d trades, return %+.2f%%",
		cmd.Symbol, cmd.Fast, cmd.Slow, printer.Sprintf("%d", len(req.Prices)), res.Trades, res.Return*100)
	s.c.UI(func(su ui.Surface) { su.SetLabel(LabelSimulation, text) })
	s.log.Info("simulation done",
		logger.Field{Key: "symbol", Value: cmd.Symbol},
		logger.Field{Key: "trades", Value: res.Trades},
		logger.Field{Key: "return", Value: res.Return})
	return nil
}

// simulateSymbols backtests every streamed symbol that has enough prices.
// Symbols without enough data are skipped until a later tick.
func (s *Simulator) simulateSymbols(ctx context.Context) error {
	var errs []error
	for _, symbol := range s.c.Config.Streams.Symbols {
		err := s.run(ctx, Run{Symbol: symbol, Fast: DefaultFast, Slow: DefaultSlow})
		if err != nil && !errors.Is(err, ErrNotEnoughData) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
