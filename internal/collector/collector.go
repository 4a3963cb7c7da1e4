// Package collector counts market trades received over websocket streams
// and keeps a short price history per symbol.
package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/solsol/solsol/internal/core"
	"github.com/solsol/solsol/internal/cron"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/stream"
	"github.com/solsol/solsol/internal/ui"
)

// LabelTradeCounts is the label showing trades per symbol.
const LabelTradeCounts = "trade_counts"

const (
	countsFile = "trade_counts.csv"
	historyLen = 1000
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var printer = message.NewPrinter(language.English)

// Trade is an aggregated trade event.
type Trade struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	Time     int64  `json:"T"`
}

// Collector is the market data component.
type Collector struct {
	c   *core.Context
	dir string
	log *logger.Logger
	now func() time.Time

	mu      sync.Mutex
	pending map[string]int64
	totals  map[string]int64
	prices  map[string][]float64
}

// New creates the collector.
func New() *Collector {
	return &Collector{
		now:     time.Now,
		pending: make(map[string]int64),
		totals:  make(map[string]int64),
		prices:  make(map[string][]float64),
	}
}

// Name implements core.Component.
func (co *Collector) Name() string {
	return "collector"
}

// BringUp registers the streams, the flush and display jobs and the final flush.
// Streams connect once boot runs the initialize functions.
func (co *Collector) BringUp(c *core.Context) error {
	co.c = c
	co.dir = c.Config.App.CollectorDir()
	co.log = c.Logger.With(logger.Field{Key: "component", Value: "collector"})

	if err := os.MkdirAll(co.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create collector directory: %w", err)
	}

	if err := c.Scheduler.AddJob("collector.flush_trade_counts", cron.EveryMinute(), co.flush); err != nil {
		return err
	}
	if err := c.Scheduler.AddJob("collector.display_trade_counts", cron.EverySecond(), co.display); err != nil {
		return err
	}

	if c.Config.Streams.Enabled {
		base := strings.TrimRight(c.Config.Streams.BaseURL, "/")
		symbols := append([]string(nil), c.Config.Streams.Symbols...)
		c.Initialize("collector.open_streams", func(context.Context) error {
			for _, symbol := range symbols {
				name := strings.ToLower(symbol) + "@aggTrade"
				c.Streams.Add(stream.New(name, stream.DefaultConfig(base+"/"+name), co.handle, co.log))
			}
			return nil
		})
	}

	c.Finalize("collector.flush_trade_counts", co.flush)
	return nil
}

// handle decodes one stream message.
func (co *Collector) handle(msg []byte) {
	var t Trade
	if err := json.Unmarshal(msg, &t); err != nil {
		co.log.Debug("undecodable trade", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if t.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		co.log.Debug("invalid trade price", logger.Field{Key: "price", Value: t.Price})
		return
	}

	co.mu.Lock()
	defer co.mu.Unlock()
	co.pending[t.Symbol]++
	co.totals[t.Symbol]++
	history := append(co.prices[t.Symbol], price)
	if len(history) > historyLen {
		history = history[len(history)-historyLen:]
	}
	co.prices[t.Symbol] = history
}

// Prices returns the recent prices of symbol, oldest first.
func (co *Collector) Prices(symbol string) []float64 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return append([]float64(nil), co.prices[symbol]...)
}

// Totals returns trades received per symbol since start.
func (co *Collector) Totals() map[string]int64 {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make(map[string]int64, len(co.totals))
	for k, v := range co.totals {
		out[k] = v
	}
	return out
}

// flush appends the counts gathered since the previous flush to the CSV file.
func (co *Collector) flush(context.Context) error {
	co.mu.Lock()
	pending := co.pending
	co.pending = make(map[string]int64)
	co.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(pending))
	for s := range pending {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	minute := co.now().UTC().Truncate(time.Minute).Format(time.RFC3339)
	records := make([][]string, 0, len(symbols))
	for _, s := range symbols {
		records = append(records, []string{minute, s, strconv.FormatInt(pending[s], 10)})
	}

	f, err := os.OpenFile(filepath.Join(co.dir, countsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trade counts: %w", err)
	}
	w := csv.NewWriter(f)
	werr := w.WriteAll(records)
	if err := errors.Join(werr, f.Close()); err != nil {
		return fmt.Errorf("failed to write trade counts: %w", err)
	}
	return nil
}

func (co *Collector) display(context.Context) error {
	totals := co.Totals()
	symbols := make([]string, 0, len(totals))
	for s := range totals {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	lines := make([]string, 0, len(symbols))
	for _, s := range symbols {
		lines = append(lines, printer.Sprintf("%s %d", s, totals[s]))
	}
	text := strings.Join(lines, "\n")
	co.c.UI(func(s ui.Surface) { s.SetLabel(LabelTradeCounts, text) })
	return nil
}
