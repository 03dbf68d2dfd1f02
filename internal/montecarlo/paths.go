package montecarlo

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"quantval/internal/backtest"
	"quantval/internal/types"
)

// newPathRNG derives an independent source for one path from the master
// seed, the mode name and the path index. The derivation is a pure hash, so
// every path reproduces regardless of which worker runs it.
func newPathRNG(master int64, mode Mode, path int) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(mode))
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(master >> (8 * i))
		buf[8+i] = byte(path >> (8 * i))
	}
	h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// shufflePath permutes the realized trade returns and recompounds the equity
// curve from the initial capital. The product of the returns does not depend
// on their order, so the terminal equity is permutation-invariant; the
// drawdown path between start and end is not.
func (s *Simulator) shufflePath(rng *rand.Rand, base *backtest.Result) pathOutcome {
	returns := tradeReturns(base.Trades)
	rng.Shuffle(len(returns), func(i, j int) {
		returns[i], returns[j] = returns[j], returns[i]
	})
	return s.scoreEquity(base.InitialCapital, compound(base.InitialCapital, returns))
}

// bootstrapPath resamples the per-trade returns with replacement, drawing as
// many as the base run closed, and compounds them from the initial capital.
// Sampling trades rather than equity bars keeps the distribution driven by
// trade outcomes instead of bar count.
func (s *Simulator) bootstrapPath(rng *rand.Rand, base *backtest.Result) pathOutcome {
	returns := tradeReturns(base.Trades)
	if len(returns) == 0 {
		return pathOutcome{failed: true}
	}

	sampled := make([]float64, len(returns))
	for i := range sampled {
		sampled[i] = returns[rng.Intn(len(returns))]
	}
	return s.scoreEquity(base.InitialCapital, compound(base.InitialCapital, sampled))
}

func tradeReturns(trades []types.Trade) []float64 {
	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.Return()
	}
	return returns
}

// compound builds an equity series by applying each fractional return to the
// running balance.
func compound(initial float64, returns []float64) []float64 {
	equity := make([]float64, 0, len(returns)+1)
	equity = append(equity, initial)
	for _, r := range returns {
		equity = append(equity, equity[len(equity)-1]*(1+r))
	}
	return equity
}

// sensitivityPath perturbs every strategy parameter uniformly within
// ±SensitivityPct and reruns the simulator with the perturbed set.
func (s *Simulator) sensitivityPath(ctx context.Context, rng *rand.Rand, base *backtest.Result, bars []types.Bar) pathOutcome {
	if len(base.Parameters) == 0 {
		return pathOutcome{failed: true}
	}

	params := base.Parameters.Clone()
	for _, name := range params.Names() {
		shift := (rng.Float64()*2 - 1) * s.cfg.SensitivityPct
		params[name] *= 1 + shift
	}

	src, err := s.factory(params)
	if err != nil {
		return pathOutcome{failed: true}
	}
	res, err := s.engine.Run(ctx, bars, src, nil)
	if err != nil {
		return pathOutcome{failed: true}
	}

	ruinLevel := res.InitialCapital * s.cfg.RuinFloor
	ruined := false
	for _, p := range res.EquityCurve {
		if p.Equity <= ruinLevel {
			ruined = true
			break
		}
	}
	return pathOutcome{
		totalReturn: res.Metrics.TotalReturn,
		sharpe:      res.Metrics.SharpeRatio,
		maxDrawdown: res.Metrics.MaxDrawdown,
		ruined:      ruined,
	}
}

// jitterPath shifts each trade's entry (or exit) bar by a uniform offset in
// [-JitterMaxBars, +JitterMaxBars] and reprices the shifted fill at that
// bar's close. The other side keeps its recorded fill, and recorded fees and
// funding carry over unchanged.
func (s *Simulator) jitterPath(rng *rand.Rand, base *backtest.Result, bars []types.Bar, entrySide bool) pathOutcome {
	pnls := make([]float64, 0, len(base.Trades))
	for _, t := range base.Trades {
		offset := rng.Intn(2*s.cfg.JitterMaxBars+1) - s.cfg.JitterMaxBars

		entryPrice, exitPrice := t.EntryPrice, t.ExitPrice
		if entrySide {
			bar := clampBar(t.EntryBar+offset, 0, t.ExitBar-1)
			entryPrice = bars[bar].Close
		} else {
			bar := clampBar(t.ExitBar+offset, t.EntryBar+1, len(bars)-1)
			exitPrice = bars[bar].Close
		}

		gross := (exitPrice - entryPrice) * t.Size
		if t.Side == types.SideShort {
			gross = -gross
		}
		pnls = append(pnls, gross-t.Fees-t.Funding)
	}

	equity := make([]float64, 0, len(pnls)+1)
	equity = append(equity, base.InitialCapital)
	for _, pnl := range pnls {
		equity = append(equity, equity[len(equity)-1]+pnl)
	}
	return s.scoreEquity(base.InitialCapital, equity)
}

func clampBar(i, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// scoreEquity reduces a synthetic equity series to the path statistics.
// Sharpe here is the per-step mean/std ratio; it is compared only within a
// mode's own distribution, so annualization would cancel out.
func (s *Simulator) scoreEquity(initial float64, equity []float64) pathOutcome {
	if initial <= 0 || len(equity) < 2 {
		return pathOutcome{failed: true}
	}

	out := pathOutcome{
		totalReturn: equity[len(equity)-1]/initial - 1,
	}

	ruinLevel := initial * s.cfg.RuinFloor
	peak := equity[0]
	var maxDD float64
	var returns []float64
	for i, e := range equity {
		if e <= ruinLevel {
			out.ruined = true
		}
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if i > 0 && equity[i-1] > 0 {
			returns = append(returns, e/equity[i-1]-1)
		}
	}
	out.maxDrawdown = maxDD

	if len(returns) > 1 {
		m := seriesMean(returns)
		sd := seriesStd(returns, m)
		if sd > 0 {
			out.sharpe = m / sd
		}
	}
	return out
}

// describe summarizes values as mean/std plus interpolated percentiles.
func describe(values []float64) Distribution {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	m := seriesMean(sorted)
	d := Distribution{
		Mean:   m,
		Std:    seriesStd(sorted, m),
		Median: percentile(sorted, 50),
		P5:     percentile(sorted, 5),
		P25:    percentile(sorted, 25),
		P50:    percentile(sorted, 50),
		P75:    percentile(sorted, 75),
		P95:    percentile(sorted, 95),
	}
	return d
}

// percentile interpolates linearly between the two nearest order statistics.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// tailMean averages the values at or below the cutoff.
func tailMean(values []float64, cutoff float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v <= cutoff {
			sum += v
			n++
		}
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

func seriesMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func seriesStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
