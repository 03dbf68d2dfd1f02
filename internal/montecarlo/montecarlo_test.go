package montecarlo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantval/internal/backtest"
	apperrors "quantval/internal/errors"
	"quantval/internal/testutils"
	"quantval/internal/types"
)

// alternatingSource enters on even bars and exits on odd bars.
type alternatingSource struct{}

func (alternatingSource) Signal(index int, _ []types.Bar) types.Signal {
	if index%2 == 0 {
		return types.Signal{Action: types.ActionEnterLong}
	}
	return types.Signal{Action: types.ActionExit}
}

func holdFactory(types.ParamSet) (types.SignalSource, error) {
	return alternatingSource{}, nil
}

func testEngine(t *testing.T) *backtest.Engine {
	t.Helper()
	cfg := backtest.DefaultConfig()
	cfg.Symbol = "TEST"
	engine, err := backtest.NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	return engine
}

func baseResult(t *testing.T, engine *backtest.Engine, bars []types.Bar) *backtest.Result {
	t.Helper()
	res, err := engine.Run(context.Background(), bars, alternatingSource{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	res.Parameters = types.ParamSet{"fast": 10, "slow": 30}
	return res
}

func testConfig(modes ...Mode) Config {
	cfg := DefaultConfig()
	cfg.Simulations = 64
	cfg.Modes = modes
	cfg.Seed = 99
	cfg.Workers = 2
	return cfg
}

func TestTradeShuffleVariesPathNotTerminalEquity(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)

	sim, err := New(testConfig(ModeTradeShuffle), engine, holdFactory, nil, nil)
	require.NoError(t, err)
	res, err := sim.Simulate(context.Background(), base, bars)
	require.NoError(t, err)

	require.Len(t, res.Modes, 1)
	mode := res.Modes[0]
	assert.Equal(t, ModeTradeShuffle, mode.Mode)
	assert.Equal(t, 64, mode.Simulations)

	// Compounding the same returns in any order yields the same terminal
	// equity, but the drawdown path between start and end differs.
	expected := 1.0
	for _, tr := range base.Trades {
		expected *= 1 + tr.Return()
	}
	assert.InDelta(t, expected-1, mode.Return.Mean, 1e-9)
	assert.InDelta(t, 0, mode.Return.Std, 1e-9)
	assert.Greater(t, mode.MaxDrawdown.Std, 0.0)
}

func TestBootstrapResamplesTradeReturns(t *testing.T) {
	// A base run with a single profitable trade whose equity curve still
	// contains a deep losing bar: resampling trades admits only profitable
	// paths, resampling bars would not.
	base := &backtest.Result{
		InitialCapital: 100_000,
		Trades: []types.Trade{{
			EntryPrice: 100,
			Size:       100,
			NetPnL:     1_000,
		}},
		EquityCurve: []types.EquityPoint{
			{Timestamp: testutils.Epoch, Equity: 100_000},
			{Timestamp: testutils.Epoch.Add(24 * time.Hour), Equity: 90_000},
			{Timestamp: testutils.Epoch.Add(48 * time.Hour), Equity: 101_000},
		},
	}

	sim, err := New(testConfig(ModeReturnBootstrap), nil, nil, nil, nil)
	require.NoError(t, err)
	res, err := sim.Simulate(context.Background(), base, nil)
	require.NoError(t, err)

	require.Len(t, res.Modes, 1)
	mode := res.Modes[0]
	assert.Equal(t, 1.0, mode.ProbProfit)
	assert.Greater(t, mode.Return.P5, 0.0)
	// One trade returning +10% on its notional, drawn once per path.
	assert.InDelta(t, 0.10, mode.Return.Mean, 1e-9)
	assert.InDelta(t, 0, mode.Return.Std, 1e-9)
}

func TestSimulateIsSeedDeterministic(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)

	run := func() *Result {
		sim, err := New(testConfig(AllModes...), engine, holdFactory, nil, nil)
		require.NoError(t, err)
		res, err := sim.Simulate(context.Background(), base, bars)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Modes, b.Modes)
	assert.Equal(t, a.RobustnessScore, b.RobustnessScore)
	assert.Equal(t, a.ProbProfit, b.ProbProfit)
}

func TestAllModesProduceBoundedStatistics(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)

	sim, err := New(testConfig(AllModes...), engine, holdFactory, nil, nil)
	require.NoError(t, err)
	res, err := sim.Simulate(context.Background(), base, bars)
	require.NoError(t, err)

	require.Len(t, res.Modes, 5)
	for _, m := range res.Modes {
		assert.GreaterOrEqual(t, m.ProbProfit, 0.0, "mode %s", m.Mode)
		assert.LessOrEqual(t, m.ProbProfit, 1.0, "mode %s", m.Mode)
		assert.GreaterOrEqual(t, m.ProbRuin, 0.0, "mode %s", m.Mode)
		assert.LessOrEqual(t, m.ProbRuin, 1.0, "mode %s", m.Mode)
		assert.LessOrEqual(t, m.CVaR95, m.VaR95, "mode %s", m.Mode)
		assert.GreaterOrEqual(t, m.MaxDrawdown.Mean, 0.0, "mode %s", m.Mode)
	}
	assert.GreaterOrEqual(t, res.RobustnessScore, 0.0)
	assert.LessOrEqual(t, res.RobustnessScore, 1.0)
}

func TestModesRunInCanonicalOrder(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)

	// Request modes out of order; execution order stays canonical.
	sim, err := New(testConfig(ModeExitJitter, ModeTradeShuffle), engine, holdFactory, nil, nil)
	require.NoError(t, err)
	res, err := sim.Simulate(context.Background(), base, bars)
	require.NoError(t, err)

	require.Len(t, res.Modes, 2)
	assert.Equal(t, ModeTradeShuffle, res.Modes[0].Mode)
	assert.Equal(t, ModeExitJitter, res.Modes[1].Mode)
}

func TestSimulateRequiresTrades(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)
	base.Trades = nil

	sim, err := New(testConfig(ModeTradeShuffle), engine, holdFactory, nil, nil)
	require.NoError(t, err)
	_, err = sim.Simulate(context.Background(), base, bars)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientData))
}

func TestSensitivityRequiresEngine(t *testing.T) {
	engine := testEngine(t)
	bars := testutils.Sine(120, 5, 20)
	base := baseResult(t, engine, bars)

	sim, err := New(testConfig(ModeParameterSensitivity), nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = sim.Simulate(context.Background(), base, bars)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	assert.InEpsilon(t, 30.0, percentile(sorted, 50), 1e-12)
	assert.InEpsilon(t, 10.0+0.2*10, percentile(sorted, 5), 1e-12)
	assert.InEpsilon(t, 48.0, percentile(sorted, 95), 1e-12)
	assert.Equal(t, 50.0, percentile(sorted, 100))
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 7.0, percentile([]float64{7}, 50))
	assert.Zero(t, percentile(nil, 50))
}

func TestTailMean(t *testing.T) {
	values := []float64{-10, -5, 0, 5, 10}
	assert.InEpsilon(t, -7.5, tailMean(values, -5), 1e-12)
	// Nothing at or below the cutoff falls back to the cutoff itself.
	assert.Equal(t, -20.0, tailMean(values, -20))
}

func TestDispersionAndClamp(t *testing.T) {
	assert.Zero(t, dispersion(Distribution{Mean: 0, Std: 0}))
	assert.Equal(t, 1.0, dispersion(Distribution{Mean: 0, Std: 0.5}))
	assert.InEpsilon(t, 0.5, dispersion(Distribution{Mean: -2, Std: 1}), 1e-12)

	assert.Equal(t, 0.0, clamp01(-0.3))
	assert.Equal(t, 1.0, clamp01(1.3))
	assert.Equal(t, 0.7, clamp01(0.7))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero simulations", func(c *Config) { c.Simulations = 0 }},
		{"no modes", func(c *Config) { c.Modes = nil }},
		{"unknown mode", func(c *Config) { c.Modes = []Mode{"quantum"} }},
		{"ruin floor out of range", func(c *Config) { c.RuinFloor = 1 }},
		{"zero jitter", func(c *Config) { c.JitterMaxBars = 0 }},
		{"sensitivity out of range", func(c *Config) { c.SensitivityPct = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil, nil, nil, nil)
			require.Error(t, err)
		})
	}
}
