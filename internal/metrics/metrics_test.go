package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantval/internal/types"
)

func curve(equities ...float64) []types.EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]types.EquityPoint, len(equities))
	for i, e := range equities {
		points[i] = types.EquityPoint{Timestamp: start.AddDate(0, 0, i), Equity: e}
	}
	return points
}

func trade(pnl float64) types.Trade {
	return types.Trade{NetPnL: pnl}
}

func TestCalculateEmptyInputs(t *testing.T) {
	m := Calculate(nil, nil, nil)
	assert.Zero(t, m.TradeCount)
	assert.Zero(t, m.TotalReturn)

	m = Calculate(nil, curve(100_000), nil)
	assert.Zero(t, m.TotalReturn)
}

func TestTotalReturnAndDrawdown(t *testing.T) {
	m := Calculate(nil, curve(100, 110, 99, 104.5, 121), nil)

	assert.InEpsilon(t, 0.21, m.TotalReturn, 1e-9)
	assert.InEpsilon(t, 0.1, m.MaxDrawdown, 1e-9)
	assert.Greater(t, m.AvgDrawdown, 0.0)
	assert.Equal(t, 2*24*time.Hour, m.MaxDrawdownDuration)
}

func TestMonotonicEquityHasNoDrawdown(t *testing.T) {
	m := Calculate(nil, curve(100, 101, 102, 103, 104), nil)

	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.AvgDrawdown)
	assert.Zero(t, m.UlcerIndex)
	// Positive return over zero drawdown hits the +Inf sentinel.
	assert.True(t, math.IsInf(m.CalmarRatio, 1))
	assert.True(t, math.IsInf(m.RecoveryFactor, 1))
	// Constant positive returns also have zero downside deviation.
	assert.True(t, math.IsInf(m.GainToPain, 1))
	assert.True(t, math.IsInf(m.SortinoRatio, 1))
}

func TestTradeStatistics(t *testing.T) {
	trades := []types.Trade{trade(100), trade(-50), trade(200), trade(-50)}
	m := Calculate(trades, curve(1000, 1100, 1050, 1250, 1200), nil)

	assert.Equal(t, 4, m.TradeCount)
	assert.InEpsilon(t, 0.5, m.WinRate, 1e-9)
	assert.InEpsilon(t, 3.0, m.ProfitFactor, 1e-9) // 300 profit vs 100 loss
	assert.InEpsilon(t, 150.0, m.AvgWin, 1e-9)
	assert.InEpsilon(t, 50.0, m.AvgLoss, 1e-9)
	assert.InEpsilon(t, 50.0, m.Expectancy, 1e-9) // 0.5*150 - 0.5*50
	assert.InEpsilon(t, 1.0, m.ExpectancyRatio, 1e-9)
	assert.InEpsilon(t, 3.0, m.PayoffRatio, 1e-9)
	// Kelly: W - (1-W)/payoff = 0.5 - 0.5/3.
	assert.InEpsilon(t, 0.5-0.5/3, m.KellyCriterion, 1e-9)
	assert.Greater(t, m.OptimalF, 0.0)
}

func TestProfitFactorSentinelWithNoLosses(t *testing.T) {
	trades := []types.Trade{trade(100), trade(50)}
	m := Calculate(trades, curve(1000, 1100, 1150), nil)

	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.True(t, math.IsInf(m.PayoffRatio, 1))
	// Kelly degrades to the win rate when no loss exists.
	assert.InEpsilon(t, 1.0, m.KellyCriterion, 1e-9)
	assert.Zero(t, m.AvgLoss)
}

func TestSharpeScalesWithAnnualization(t *testing.T) {
	// Daily spacing annualizes by sqrt(252).
	daily := Calculate(nil, curve(100, 101, 100.5, 101.7, 101.2, 102.4), nil)
	require.NotZero(t, daily.SharpeRatio)

	// The same equity values on hourly spacing infer a larger basis.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hourly := make([]types.EquityPoint, 6)
	for i, e := range []float64{100, 101, 100.5, 101.7, 101.2, 102.4} {
		hourly[i] = types.EquityPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), Equity: e}
	}
	h := Calculate(nil, hourly, nil)
	assert.InEpsilon(t, daily.SharpeRatio*math.Sqrt(24), h.SharpeRatio, 1e-9)
}

func TestPeriodsPerYear(t *testing.T) {
	assert.Equal(t, 252.0, PeriodsPerYear(curve(100, 101, 102)))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hourly := []types.EquityPoint{
		{Timestamp: start, Equity: 100},
		{Timestamp: start.Add(time.Hour), Equity: 101},
		{Timestamp: start.Add(2 * time.Hour), Equity: 102},
	}
	assert.Equal(t, 252.0*24, PeriodsPerYear(hourly))
}

func TestInformationRatioRequiresBenchmark(t *testing.T) {
	points := curve(100, 101, 102, 101, 103)
	without := Calculate(nil, points, nil)
	assert.Zero(t, without.InformationRatio)

	with := Calculate(nil, points, []float64{0, 0, 0, 0})
	assert.NotZero(t, with.InformationRatio)
}

func TestMonthlyWinRate(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	points := []types.EquityPoint{
		{Timestamp: start, Equity: 100},                   // January rises
		{Timestamp: start.AddDate(0, 0, 10), Equity: 110}, // still January
		{Timestamp: start.AddDate(0, 1, 0), Equity: 110},  // February falls
		{Timestamp: start.AddDate(0, 1, 10), Equity: 105},
	}
	m := Calculate(nil, points, nil)
	assert.InEpsilon(t, 0.5, m.MonthlyWinRate, 1e-9)
}

func TestSentinelDivPolicy(t *testing.T) {
	assert.True(t, math.IsInf(sentinelDiv(1, 0), 1))
	assert.True(t, math.IsInf(sentinelDiv(-1, 0), -1))
	assert.Zero(t, sentinelDiv(0, 0))
	assert.InEpsilon(t, 2.0, sentinelDiv(4, 2), 1e-12)
}

func TestKRatioPositiveForSteadyGrowth(t *testing.T) {
	equities := make([]float64, 50)
	for i := range equities {
		equities[i] = 100 * math.Pow(1.01, float64(i))
	}
	m := Calculate(nil, curve(equities...), nil)
	// Perfectly log-linear growth has zero residual error.
	assert.True(t, math.IsInf(m.KRatio, 1))

	equities[25] *= 0.98
	m = Calculate(nil, curve(equities...), nil)
	assert.Greater(t, m.KRatio, 0.0)
	assert.False(t, math.IsInf(m.KRatio, 1))
}
