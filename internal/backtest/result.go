// result.go accumulates the run statistics a backtest reports once replay
// finishes: fill/commission totals, an equity curve sampled once per
// strategy tick, drawdown, and a simple Sharpe ratio over tick-to-tick
// returns. Grounded on the equity-curve/drawdown-curve bookkeeping in the
// RyanLisse-go-crypto-bot-clean event-driven engine, adapted from gorm
// persistence (out of scope here) to an in-memory snapshot returned
// directly from Engine.Result.
package backtest

import (
	"math"
	"sync"

	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

// EquityPoint is one sample of the account's equity curve.
type EquityPoint struct {
	Time   clock.Timestamp
	Equity decimal.Decimal
}

// Result is the summary of a completed backtest run.
type Result struct {
	TotalFills      int
	TotalCommission decimal.Decimal
	TotalVolume     decimal.Decimal
	WinningFills    int
	LosingFills     int
	MaxDrawdownPct  float64
	SharpeRatio     float64
	EquityCurve     []EquityPoint
}

type resultAccumulator struct {
	mu           sync.Mutex
	fills        int
	commission   decimal.Decimal
	volume       decimal.Decimal
	wins, losses int
	equityCurve  []EquityPoint
}

func newResultAccumulator() *resultAccumulator {
	return &resultAccumulator{}
}

func (r *resultAccumulator) recordFill(f quanttypes.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills++
	r.commission = r.commission.Add(f.Fee)
	r.volume = r.volume.Add(f.Price.Mul(f.Quantity))
}

// recordEquity samples the account equity at a tick boundary and
// classifies the tick-over-tick equity move for the win/loss tally used by
// a simple equity-direction win rate (a rise is a win, a fall a loss).
func (r *resultAccumulator) recordEquity(at clock.Timestamp, acct quanttypes.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.equityCurve); n > 0 {
		prior := r.equityCurve[n-1].Equity
		switch {
		case acct.Equity.GreaterThan(prior):
			r.wins++
		case acct.Equity.LessThan(prior):
			r.losses++
		}
	}
	r.equityCurve = append(r.equityCurve, EquityPoint{Time: at, Equity: acct.Equity})
}

func (r *resultAccumulator) snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.wins + r.losses

	res := Result{
		TotalFills:      r.fills,
		TotalCommission: r.commission,
		TotalVolume:     r.volume,
		WinningFills:    r.wins,
		LosingFills:     r.losses,
		EquityCurve:     append([]EquityPoint(nil), r.equityCurve...),
	}
	if total > 0 {
		res.MaxDrawdownPct = maxDrawdownPct(r.equityCurve)
		res.SharpeRatio = sharpeRatio(r.equityCurve)
	}
	return res
}

// maxDrawdownPct returns the largest peak-to-trough decline over the
// equity curve, as a fraction (0.15 == 15%).
func maxDrawdownPct(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity.Float64()
	maxDD := 0.0
	for _, p := range curve {
		v := p.Equity.Float64()
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio computes the mean over stddev of tick-to-tick equity returns,
// unannualized: the replay's tick interval is config-defined, so scaling to
// an annualized figure is left to whatever consumes Result.
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity.Float64()-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}
