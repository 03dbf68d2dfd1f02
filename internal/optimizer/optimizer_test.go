package optimizer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantval/internal/backtest"
	apperrors "quantval/internal/errors"
	"quantval/internal/metrics"
	"quantval/internal/testutils"
	"quantval/internal/types"
)

// holdSource enters long on the first bar and never exits.
type holdSource struct{}

func (holdSource) Signal(index int, _ []types.Bar) types.Signal {
	if index == 0 {
		return types.Signal{Action: types.ActionEnterLong}
	}
	return types.Signal{Action: types.ActionHold}
}

func holdFactory(types.ParamSet) (types.SignalSource, error) {
	return holdSource{}, nil
}

func testEngine(t *testing.T) *backtest.Engine {
	t.Helper()
	cfg := backtest.DefaultConfig()
	cfg.Symbol = "TEST"
	engine, err := backtest.NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	return engine
}

func testConfig(method Method) Config {
	cfg := DefaultConfig()
	cfg.Method = method
	cfg.Ranges = map[string]types.ParamRange{
		"a": {Min: 1, Max: 3, Step: 1},
		"b": {Min: 10, Max: 20, Step: 10},
	}
	cfg.Constraints = Constraints{MinTrades: 0, MaxDrawdown: 1}
	cfg.Workers = 2
	return cfg
}

func TestGridSearchEnumeratesFullProduct(t *testing.T) {
	opt, err := New(testConfig(MethodGrid), testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
	require.NoError(t, err)

	require.Len(t, res.Trials, 6)
	seen := map[[2]float64]bool{}
	for _, trial := range res.Trials {
		seen[[2]float64{trial.Params["a"], trial.Params["b"]}] = true
	}
	for _, a := range []float64{1, 2, 3} {
		for _, b := range []float64{10, 20} {
			assert.True(t, seen[[2]float64{a, b}], "missing combination a=%v b=%v", a, b)
		}
	}
}

func TestBestTrialTieBreaksToEarliest(t *testing.T) {
	// Every parameter set drives the same strategy, so all six trials score
	// identically and the first must win.
	opt, err := New(testConfig(MethodGrid), testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
	require.NoError(t, err)

	require.NotNil(t, res.Best)
	assert.Equal(t, 0, res.Best.ID)
}

func TestConstraintViolationsExcludeTrials(t *testing.T) {
	cfg := testConfig(MethodGrid)
	cfg.Constraints = Constraints{MinTrades: 5, MaxDrawdown: 1}
	opt, err := New(cfg, testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
	require.NoError(t, err)

	assert.Nil(t, res.Best)
	for _, trial := range res.Trials {
		assert.False(t, trial.ConstraintSatisfied)
		assert.False(t, trial.Failed)
	}
}

func TestFactoryFailuresAreIsolated(t *testing.T) {
	factory := func(params types.ParamSet) (types.SignalSource, error) {
		if params["a"] == 2 {
			return nil, apperrors.New(apperrors.ErrCodeParameterInvalid, "a=2 is rejected")
		}
		return holdSource{}, nil
	}
	opt, err := New(testConfig(MethodGrid), testEngine(t), factory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
	require.NoError(t, err)

	failed := 0
	for _, trial := range res.Trials {
		if trial.Failed {
			failed++
			assert.Equal(t, 2.0, trial.Params["a"])
		}
	}
	assert.Equal(t, 2, failed)
	require.NotNil(t, res.Best)
	assert.NotEqual(t, 2.0, res.Best.Params["a"])
}

func TestRandomSearchIsSeedDeterministic(t *testing.T) {
	cfg := testConfig(MethodRandom)
	cfg.MaxTrials = 12
	cfg.Seed = 42

	run := func() *Result {
		opt, err := New(cfg, testEngine(t), holdFactory, nil, nil)
		require.NoError(t, err)
		res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.Len(t, a.Trials, 12)
	for i := range a.Trials {
		assert.Equal(t, a.Trials[i].Params, b.Trials[i].Params)
		assert.Equal(t, a.Trials[i].Objective, b.Trials[i].Objective)
	}
}

func TestGeneticSearchIsSeedDeterministic(t *testing.T) {
	cfg := testConfig(MethodGenetic)
	cfg.Population = 6
	cfg.Generations = 3
	cfg.Seed = 7

	run := func() *Result {
		opt, err := New(cfg, testEngine(t), holdFactory, nil, nil)
		require.NoError(t, err)
		res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.NotEmpty(t, a.Trials)
	require.Len(t, b.Trials, len(a.Trials))
	assert.LessOrEqual(t, len(a.Trials), 6*3)
	for i := range a.Trials {
		assert.Equal(t, a.Trials[i].Params, b.Trials[i].Params)
	}
	require.NotNil(t, a.Best)
	require.NotNil(t, b.Best)
	assert.Equal(t, a.Best.Params, b.Best.Params)
}

func TestGeneticEarlyStopIgnoresViolatingObjectives(t *testing.T) {
	cfg := testConfig(MethodGenetic)
	cfg.Population = 4
	cfg.Generations = 20
	// Unreachable trade count: every individual violates the constraint, so
	// the best fitness stays at -Inf no matter how good the raw objectives
	// look, and the search stops after the stale window.
	cfg.Constraints = Constraints{MinTrades: 1000, MaxDrawdown: 1}
	cfg.Seed = 5

	opt, err := New(cfg, testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), testutils.Uptrend(100, 0.005))
	require.NoError(t, err)

	assert.Nil(t, res.Best)
	assert.Len(t, res.Trials, 4*earlyStopWindow)
	for _, trial := range res.Trials {
		assert.False(t, trial.ConstraintSatisfied)
	}
}

func TestValidationSplitIsChronological(t *testing.T) {
	cfg := testConfig(MethodGrid)
	cfg.ValidationSplit = 0.3
	opt, err := New(cfg, testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	bars := testutils.Uptrend(100, 0.005)
	train, validation := opt.split(bars)
	assert.Len(t, train, 70)
	assert.Len(t, validation, 30)
	assert.True(t, train[len(train)-1].Timestamp.Before(validation[0].Timestamp))
}

func TestOverfittingRatio(t *testing.T) {
	assert.InEpsilon(t, 0.5, overfittingRatio(2, 1), 1e-12)
	assert.InEpsilon(t, 1.0, overfittingRatio(1.5, 1.5), 1e-12)
	assert.Zero(t, overfittingRatio(0, 1))
	assert.Zero(t, overfittingRatio(-1, 1))
	assert.Zero(t, overfittingRatio(math.Inf(1), 1))
	// A negative validation score over a positive training score flags
	// curve fitting with a negative ratio.
	assert.Less(t, overfittingRatio(2, -1), 0.0)
}

func TestOverfittingRatioDropsWhenValidationDisagrees(t *testing.T) {
	// Training regime trends up, validation regime trends down, so a long
	// hold scores well in training and poorly out of sample.
	up := testutils.Uptrend(70, 0.01)
	down := testutils.Series(testutils.BarSpec{N: 30, Start: up[69].Close, DriftPerBar: -0.01})
	for i := range down {
		down[i].Timestamp = up[69].Timestamp.Add(time.Duration(i+1) * 24 * time.Hour)
	}
	bars := append(up, down...)

	opt, err := New(testConfig(MethodGrid), testEngine(t), holdFactory, nil, nil)
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), bars)
	require.NoError(t, err)
	require.NotNil(t, res.Best)

	assert.Greater(t, res.TrainingScore, 0.0)
	assert.Less(t, res.ValidationScore, res.TrainingScore)
	assert.Less(t, res.OverfittingRatio, 0.2)
}

func TestScoreMapsObjectives(t *testing.T) {
	m := &metrics.Metrics{SharpeRatio: 1, CAGR: 2, CalmarRatio: 3, SortinoRatio: 4}
	assert.Equal(t, 1.0, Score(ObjectiveSharpe, m))
	assert.Equal(t, 2.0, Score(ObjectiveCAGR, m))
	assert.Equal(t, 3.0, Score(ObjectiveCalmar, m))
	assert.Equal(t, 4.0, Score(ObjectiveSortino, m))

	m.SharpeRatio = math.NaN()
	assert.True(t, math.IsInf(Score(ObjectiveSharpe, m), -1))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown method", func(c *Config) { c.Method = "annealing" }},
		{"unknown objective", func(c *Config) { c.Objective = "alpha" }},
		{"empty ranges", func(c *Config) { c.Ranges = nil }},
		{"inverted range", func(c *Config) { c.Ranges["a"] = types.ParamRange{Min: 3, Max: 1} }},
		{"split out of range", func(c *Config) { c.ValidationSplit = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(MethodGrid)
			tt.mutate(&cfg)
			_, err := New(cfg, testEngine(t), holdFactory, nil, nil)
			require.Error(t, err)
		})
	}

	t.Run("random requires budget", func(t *testing.T) {
		cfg := testConfig(MethodRandom)
		cfg.MaxTrials = 0
		_, err := New(cfg, testEngine(t), holdFactory, nil, nil)
		require.Error(t, err)
	})
	t.Run("genetic requires population", func(t *testing.T) {
		cfg := testConfig(MethodGenetic)
		cfg.Population = 1
		_, err := New(cfg, testEngine(t), holdFactory, nil, nil)
		require.Error(t, err)
	})
}
