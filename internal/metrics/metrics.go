// Package metrics implements the performance metrics calculator: pure,
// stateless functions over a trade sequence and equity curve. All functions
// are deterministic and reproduce bit-identical results for identical inputs.
//
// Ratio metrics that would divide by zero return a defined sentinel instead
// of NaN: +Inf when the numerator is positive (e.g. profit factor with no
// losing trades) and 0 when both sides are zero.
package metrics

import (
	"math"
	"sort"
	"time"

	"quantval/internal/types"
)

// Metrics represents the standardized statistics computed for one run.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	CAGR             float64 `json:"cagr"`

	DailyVolatility      float64 `json:"daily_volatility"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`

	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	InformationRatio float64 `json:"information_ratio,omitempty"`

	MaxDrawdown         float64       `json:"max_drawdown"`
	AvgDrawdown         float64       `json:"avg_drawdown"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	RecoveryFactor      float64       `json:"recovery_factor"`
	UlcerIndex          float64       `json:"ulcer_index"`

	TradeCount      int     `json:"trade_count"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	Expectancy      float64 `json:"expectancy"`
	ExpectancyRatio float64 `json:"expectancy_ratio"`
	PayoffRatio     float64 `json:"payoff_ratio"`
	KellyCriterion  float64 `json:"kelly_criterion"`
	OptimalF        float64 `json:"optimal_f"`

	GainToPain float64 `json:"gain_to_pain"`
	KRatio     float64 `json:"k_ratio"`

	AvgMAE float64 `json:"avg_mae"`
	AvgMFE float64 `json:"avg_mfe"`
	MaxMAE float64 `json:"max_mae"`
	MaxMFE float64 `json:"max_mfe"`

	MonthlyWinRate float64 `json:"monthly_win_rate"`
}

// Calculate computes the full metric set from a completed run's trades and
// equity curve. benchmark may be nil; when present it must be a per-period
// return series aligned with the equity curve and enables the information
// ratio.
func Calculate(trades []types.Trade, equity []types.EquityPoint, benchmark []float64) *Metrics {
	m := &Metrics{TradeCount: len(trades)}
	if len(equity) < 2 {
		return m
	}

	returns := Returns(equity)
	periodsPerYear := PeriodsPerYear(equity)
	initial := equity[0].Equity
	final := equity[len(equity)-1].Equity

	m.TotalReturn = sentinelDiv(final-initial, initial)

	years := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / (24 * 365.25)
	if years > 0 && final > 0 && initial > 0 {
		m.CAGR = math.Pow(final/initial, 1/years) - 1
		m.AnnualizedReturn = m.CAGR
	}

	periodVol := stdDev(returns)
	perDay := periodsPerYear / 365.25
	if perDay < 1 {
		perDay = 1
	}
	m.DailyVolatility = periodVol * math.Sqrt(perDay)
	m.AnnualizedVolatility = periodVol * math.Sqrt(periodsPerYear)

	m.SharpeRatio = sharpe(returns, periodsPerYear)
	m.SortinoRatio = sortino(returns, periodsPerYear)

	dd := drawdownSeries(equity)
	m.MaxDrawdown = maxOf(dd)
	m.AvgDrawdown = meanPositive(dd)
	m.MaxDrawdownDuration = maxDrawdownDuration(equity)
	m.CalmarRatio = sentinelDiv(m.CAGR, m.MaxDrawdown)
	m.RecoveryFactor = sentinelDiv(m.TotalReturn, m.MaxDrawdown)
	m.UlcerIndex = ulcerIndex(dd)
	m.GainToPain = gainToPain(returns)
	m.KRatio = kRatio(equity)
	m.MonthlyWinRate = monthlyWinRate(equity)

	if benchmark != nil {
		m.InformationRatio = informationRatio(returns, benchmark, periodsPerYear)
	}

	fillTradeStats(m, trades)
	return m
}

// Returns converts an equity curve into per-period simple returns.
func Returns(equity []types.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	rs := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			rs = append(rs, 0)
			continue
		}
		rs = append(rs, (equity[i].Equity-prev)/prev)
	}
	return rs
}

// PeriodsPerYear infers the annualization basis from the median bar spacing:
// daily or slower bars use the conventional 252 trading periods, intraday
// bars scale 252 by the number of bars per 24h session.
func PeriodsPerYear(equity []types.EquityPoint) float64 {
	if len(equity) < 2 {
		return 252
	}
	spacings := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		d := equity[i].Timestamp.Sub(equity[i-1].Timestamp)
		if d > 0 {
			spacings = append(spacings, d.Seconds())
		}
	}
	if len(spacings) == 0 {
		return 252
	}
	med := median(spacings)
	day := (24 * time.Hour).Seconds()
	if med >= day {
		return 252
	}
	return 252 * day / med
}

func sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	sd := stdDev(returns)
	if sd == 0 {
		return sentinelDiv(m, 0)
	}
	return m / sd * math.Sqrt(periodsPerYear)
}

func sortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var downSq float64
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
		}
	}
	down := math.Sqrt(downSq / float64(len(returns)))
	if down == 0 {
		return sentinelDiv(m, 0)
	}
	return m / down * math.Sqrt(periodsPerYear)
}

func informationRatio(returns, benchmark []float64, periodsPerYear float64) float64 {
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return 0
	}
	active := make([]float64, n)
	for i := 0; i < n; i++ {
		active[i] = returns[i] - benchmark[i]
	}
	te := stdDev(active)
	if te == 0 {
		return sentinelDiv(mean(active), 0)
	}
	return mean(active) / te * math.Sqrt(periodsPerYear)
}

// drawdownSeries returns per-point drawdown fractions from the running peak.
func drawdownSeries(equity []types.EquityPoint) []float64 {
	dd := make([]float64, len(equity))
	peak := equity[0].Equity
	for i, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd[i] = (peak - p.Equity) / peak
		}
	}
	return dd
}

func maxDrawdownDuration(equity []types.EquityPoint) time.Duration {
	var longest time.Duration
	peak := equity[0].Equity
	peakTime := equity[0].Timestamp
	for _, p := range equity {
		if p.Equity >= peak {
			peak = p.Equity
			peakTime = p.Timestamp
			continue
		}
		if d := p.Timestamp.Sub(peakTime); d > longest {
			longest = d
		}
	}
	return longest
}

func ulcerIndex(dd []float64) float64 {
	if len(dd) == 0 {
		return 0
	}
	var sumSq float64
	for _, d := range dd {
		pct := d * 100
		sumSq += pct * pct
	}
	return math.Sqrt(sumSq / float64(len(dd)))
}

func gainToPain(returns []float64) float64 {
	var sum, pain float64
	for _, r := range returns {
		sum += r
		if r < 0 {
			pain += -r
		}
	}
	if pain == 0 {
		return sentinelDiv(sum, 0)
	}
	return sum / pain
}

// kRatio measures the statistical significance of the equity-curve slope:
// the slope of a linear regression of log equity on observation index,
// divided by the standard error of that slope, normalized by sqrt(n).
func kRatio(equity []types.EquityPoint) float64 {
	n := len(equity)
	if n < 3 {
		return 0
	}
	ys := make([]float64, n)
	for i, p := range equity {
		if p.Equity <= 0 {
			return 0
		}
		ys[i] = math.Log(p.Equity)
	}
	var sumX, sumY float64
	for i, y := range ys {
		sumX += float64(i)
		sumY += y
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy float64
	for i, y := range ys {
		dx := float64(i) - meanX
		sxx += dx * dx
		sxy += dx * (y - meanY)
	}
	if sxx == 0 {
		return 0
	}
	slope := sxy / sxx

	var sse float64
	for i, y := range ys {
		fit := meanY + slope*(float64(i)-meanX)
		sse += (y - fit) * (y - fit)
	}
	if sse == 0 {
		return sentinelDiv(slope, 0)
	}
	seSlope := math.Sqrt(sse / float64(n-2) / sxx)
	if seSlope == 0 {
		return sentinelDiv(slope, 0)
	}
	return slope / seSlope / math.Sqrt(float64(n))
}

func monthlyWinRate(equity []types.EquityPoint) float64 {
	type monthKey struct {
		year  int
		month time.Month
	}
	first := make(map[monthKey]float64)
	last := make(map[monthKey]float64)
	var order []monthKey
	for _, p := range equity {
		k := monthKey{p.Timestamp.Year(), p.Timestamp.Month()}
		if _, ok := first[k]; !ok {
			first[k] = p.Equity
			order = append(order, k)
		}
		last[k] = p.Equity
	}
	if len(order) == 0 {
		return 0
	}
	wins := 0
	for _, k := range order {
		if last[k] > first[k] {
			wins++
		}
	}
	return float64(wins) / float64(len(order))
}

func fillTradeStats(m *Metrics, trades []types.Trade) {
	if len(trades) == 0 {
		return
	}

	var grossProfit, grossLoss float64
	var winCount, lossCount int
	var maeSum, mfeSum float64
	largestLoss := 0.0

	for _, t := range trades {
		if t.NetPnL > 0 {
			grossProfit += t.NetPnL
			winCount++
		} else if t.NetPnL < 0 {
			grossLoss += -t.NetPnL
			lossCount++
			if -t.NetPnL > largestLoss {
				largestLoss = -t.NetPnL
			}
		}
		maeSum += t.MAE
		mfeSum += t.MFE
		if t.MAE > m.MaxMAE {
			m.MaxMAE = t.MAE
		}
		if t.MFE > m.MaxMFE {
			m.MaxMFE = t.MFE
		}
	}

	n := float64(len(trades))
	m.WinRate = float64(winCount) / n
	m.ProfitFactor = sentinelDiv(grossProfit, grossLoss)
	m.AvgMAE = maeSum / n
	m.AvgMFE = mfeSum / n

	if winCount > 0 {
		m.AvgWin = grossProfit / float64(winCount)
	}
	if lossCount > 0 {
		m.AvgLoss = grossLoss / float64(lossCount)
	}

	lossRate := float64(lossCount) / n
	m.Expectancy = m.WinRate*m.AvgWin - lossRate*m.AvgLoss
	m.ExpectancyRatio = sentinelDiv(m.Expectancy, m.AvgLoss)
	m.PayoffRatio = sentinelDiv(m.AvgWin, m.AvgLoss)

	if math.IsInf(m.PayoffRatio, 1) {
		m.KellyCriterion = m.WinRate
	} else if m.PayoffRatio > 0 {
		m.KellyCriterion = m.WinRate - (1-m.WinRate)/m.PayoffRatio
	}

	m.OptimalF = optimalF(trades, largestLoss)
}

// optimalF implements the Larry Williams method: scan position fractions and
// keep the one maximizing terminal wealth relative to the largest losing
// trade.
func optimalF(trades []types.Trade, largestLoss float64) float64 {
	if largestLoss == 0 {
		return 0
	}
	bestF, bestTWR := 0.0, 0.0
	for f := 0.01; f <= 1.0; f += 0.01 {
		twr := 1.0
		for _, t := range trades {
			hpr := 1 + f*(t.NetPnL/largestLoss)
			if hpr <= 0 {
				twr = 0
				break
			}
			twr *= hpr
		}
		if twr > bestTWR {
			bestTWR = twr
			bestF = f
		}
	}
	return bestF
}

// sentinelDiv divides num by den with the documented zero-denominator
// policy: +Inf for positive numerators, -Inf for negative, 0 when both are
// zero.
func sentinelDiv(num, den float64) float64 {
	if den == 0 {
		if num > 0 {
			return math.Inf(1)
		}
		if num < 0 {
			return math.Inf(-1)
		}
		return 0
	}
	return num / den
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func maxOf(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func meanPositive(xs []float64) float64 {
	var sum float64
	var n int
	for _, x := range xs {
		if x > 0 {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
