package simulator

import (
	"context"
	"errors"
	"fmt"
)

// MethodSimulate is the process pool method served by Simulate.
const MethodSimulate = "simulate"

// ErrNotEnoughData is returned when the series is shorter than the slow average.
var ErrNotEnoughData = errors.New("not enough prices")

// Request is a moving-average crossover backtest over one price series.
type Request struct {
	Symbol string    `json:"symbol"`
	Prices []float64 `json:"prices"`
	Fast   int       `json:"fast"`
	Slow   int       `json:"slow"`
	Fee    float64   `json:"fee"` // per fill, 0.0004 = 0.04%
}

// Signal is one entry or exit.
type Signal struct {
	Index int     `json:"index"`
	Side  string  `json:"side"`
	Price float64 `json:"price"`
}

// Result summarizes a backtest.
type Result struct {
	Symbol  string   `json:"symbol"`
	Trades  int      `json:"trades"`
	Return  float64  `json:"return"` // 0.05 = +5%
	Signals []Signal `json:"signals"`
}

// Validate checks the averages and the series length.
func (r Request) Validate() error {
	if r.Fast <= 0 || r.Slow <= r.Fast {
		return fmt.Errorf("invalid averages fast=%d slow=%d", r.Fast, r.Slow)
	}
	if len(r.Prices) <= r.Slow {
		return fmt.Errorf("%w: have %d, need more than %d", ErrNotEnoughData, len(r.Prices), r.Slow)
	}
	return nil
}

// Simulate goes long when the fast average crosses above the slow one and
// exits when it crosses back below. An open position is closed at the last price.
func Simulate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	// sums[i] is the sum of the first i prices.
	sums := make([]float64, len(req.Prices)+1)
	for i, p := range req.Prices {
		sums[i+1] = sums[i] + p
	}
	average := func(end, n int) float64 {
		return (sums[end+1] - sums[end+1-n]) / float64(n)
	}

	res := Result{Symbol: req.Symbol}
	equity := 1.0
	entry := 0.0
	holding := false
	prevAbove := average(req.Slow-1, req.Fast) > average(req.Slow-1, req.Slow)

	for i := req.Slow; i < len(req.Prices); i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		above := average(i, req.Fast) > average(i, req.Slow)
		price := req.Prices[i]
		switch {
		case above && !prevAbove && !holding:
			entry = price
			holding = true
			res.Signals = append(res.Signals, Signal{Index: i, Side: "buy", Price: price})
		case !above && prevAbove && holding:
			equity *= price / entry * (1 - req.Fee) * (1 - req.Fee)
			holding = false
			res.Trades++
			res.Signals = append(res.Signals, Signal{Index: i, Side: "sell", Price: price})
		}
		prevAbove = above
	}

	if holding {
		last := len(req.Prices) - 1
		equity *= req.Prices[last] / entry * (1 - req.Fee) * (1 - req.Fee)
		res.Trades++
		res.Signals = append(res.Signals, Signal{Index: last, Side: "sell", Price: req.Prices[last]})
	}

	res.Return = equity - 1
	return res, nil
}
