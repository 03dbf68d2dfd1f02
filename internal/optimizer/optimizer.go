// Package optimizer searches a strategy parameter space by running the
// execution simulator per trial and scoring each run with the metrics
// calculator. Three interchangeable methods (grid, random, genetic) sit
// behind one interface, selected by configuration rather than subtype.
package optimizer

import (
	"context"
	"errors"
	"math"
	"time"

	apperrors "quantval/internal/errors"
	"quantval/internal/backtest"
	"quantval/internal/logger"
	"quantval/internal/metrics"
	"quantval/internal/telemetry"
	"quantval/internal/types"
	"quantval/internal/worker"
)

// Method selects the search algorithm.
type Method string

const (
	MethodGrid    Method = "grid"
	MethodRandom  Method = "random"
	MethodGenetic Method = "genetic"
)

// Objective selects the metric maximized by the search.
type Objective string

const (
	ObjectiveSharpe  Objective = "sharpe"
	ObjectiveCAGR    Objective = "cagr"
	ObjectiveCalmar  Objective = "calmar"
	ObjectiveSortino Objective = "sortino"
)

// Constraints are checked after each trial run. A violating trial keeps its
// raw objective value but is flagged and excluded from best-trial selection.
type Constraints struct {
	MinTrades   int     `yaml:"min_trades" json:"min_trades"`
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
}

// Config represents an optimization run configuration.
type Config struct {
	Method      Method                      `yaml:"method" json:"method"`
	Objective   Objective                   `yaml:"objective" json:"objective"`
	Ranges      map[string]types.ParamRange `yaml:"ranges" json:"ranges"`
	Constraints Constraints                 `yaml:"constraints" json:"constraints"`

	// ValidationSplit is the fraction of data held out from the
	// chronological end; it is evaluated once with the final best
	// parameters and never shuffled into training.
	ValidationSplit float64 `yaml:"validation_split" json:"validation_split"`

	// MaxTrials bounds random search.
	MaxTrials int `yaml:"max_trials" json:"max_trials"`

	// Genetic algorithm knobs.
	Population     int     `yaml:"population" json:"population"`
	Generations    int     `yaml:"generations" json:"generations"`
	TournamentSize int     `yaml:"tournament_size" json:"tournament_size"`
	CrossoverRate  float64 `yaml:"crossover_rate" json:"crossover_rate"`
	MutationRate   float64 `yaml:"mutation_rate" json:"mutation_rate"`
	ElitismRate    float64 `yaml:"elitism_rate" json:"elitism_rate"`

	// Seed drives every random draw in the search; identical seeds produce
	// bit-identical results regardless of worker scheduling.
	Seed int64 `yaml:"seed" json:"seed"`

	// Workers bounds the trial pool; 0 means one per CPU core.
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultConfig returns the optimizer defaults.
func DefaultConfig() Config {
	return Config{
		Method:          MethodGrid,
		Objective:       ObjectiveSharpe,
		Constraints:     Constraints{MinTrades: 10, MaxDrawdown: 0.5},
		ValidationSplit: 0.3,
		MaxTrials:       100,
		Population:      50,
		Generations:     20,
		TournamentSize:  3,
		CrossoverRate:   0.7,
		MutationRate:    0.1,
		ElitismRate:     0.1,
		Seed:            1,
	}
}

// Validate rejects the configuration before any trial runs.
func (c Config) Validate() error {
	switch c.Method {
	case MethodGrid, MethodRandom, MethodGenetic:
	default:
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown optimization method %q", c.Method)
	}
	switch c.Objective {
	case ObjectiveSharpe, ObjectiveCAGR, ObjectiveCalmar, ObjectiveSortino:
	default:
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown objective %q", c.Objective)
	}
	if len(c.Ranges) == 0 {
		return apperrors.New(apperrors.ErrCodeParameterInvalid, "parameter ranges are empty")
	}
	for name, r := range c.Ranges {
		if err := r.Validate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeParameterInvalid, "range "+name)
		}
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "validation split must be in [0,1), got %v", c.ValidationSplit)
	}
	if c.Method == MethodRandom && c.MaxTrials <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "random search requires max_trials > 0")
	}
	if c.Method == MethodGenetic {
		if c.Population < 2 || c.Generations < 1 {
			return apperrors.New(apperrors.ErrCodeConfigInvalid, "genetic search requires population >= 2 and generations >= 1")
		}
		if c.TournamentSize < 1 || c.TournamentSize > c.Population {
			return apperrors.New(apperrors.ErrCodeConfigInvalid, "tournament size must be in [1, population]")
		}
		for name, rate := range map[string]float64{
			"crossover_rate": c.CrossoverRate,
			"mutation_rate":  c.MutationRate,
			"elitism_rate":   c.ElitismRate,
		} {
			if rate < 0 || rate > 1 {
				return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "%s must be in [0,1], got %v", name, rate)
			}
		}
	}
	return nil
}

// Trial represents one evaluated parameter vector.
type Trial struct {
	ID                  int              `json:"id"`
	Params              types.ParamSet   `json:"params"`
	Objective           float64          `json:"objective"`
	ConstraintSatisfied bool             `json:"constraint_satisfied"`
	Failed              bool             `json:"failed"`
	Error               string           `json:"error,omitempty"`
	TradeCount          int              `json:"trade_count"`
	MaxDrawdown         float64          `json:"max_drawdown"`
	Metrics             *metrics.Metrics `json:"metrics,omitempty"`
}

// Result owns the full trial history, the best trial and the overfitting
// ratio computed on the held-out validation slice.
type Result struct {
	Method           Method        `json:"method"`
	Objective        Objective     `json:"objective"`
	Trials           []Trial       `json:"trials"`
	Best             *Trial        `json:"best,omitempty"`
	TrainingScore    float64       `json:"training_score"`
	ValidationScore  float64       `json:"validation_score"`
	OverfittingRatio float64       `json:"overfitting_ratio"`
	Cancelled        bool          `json:"cancelled"`
	Duration         time.Duration `json:"duration"`
}

// Optimizer drives simulator runs over a parameter space.
type Optimizer struct {
	cfg     Config
	engine  *backtest.Engine
	factory types.SignalFactory
	log     logger.Logger
	tel     *telemetry.Metrics
}

// New validates the configuration and returns an optimizer.
func New(cfg Config, engine *backtest.Engine, factory types.SignalFactory, log logger.Logger, tel *telemetry.Metrics) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil || factory == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "engine and signal factory are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Optimizer{cfg: cfg, engine: engine, factory: factory, log: log, tel: tel}, nil
}

// Optimize searches the parameter space on the chronological training slice
// and evaluates the winner once on the held-out validation slice. Completed
// trials survive cancellation; the partial result is returned alongside a
// CANCELLED error only when nothing completed.
func (o *Optimizer) Optimize(ctx context.Context, bars []types.Bar) (*Result, error) {
	started := time.Now()
	if len(bars) < 4 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "need at least 4 bars, got %d", len(bars))
	}

	train, validation := o.split(bars)
	o.log.Info("starting optimization",
		"method", string(o.cfg.Method),
		"objective", string(o.cfg.Objective),
		"train_bars", len(train),
		"validation_bars", len(validation),
	)

	var trials []Trial
	var err error
	switch o.cfg.Method {
	case MethodGrid:
		trials, err = o.gridSearch(ctx, train)
	case MethodRandom:
		trials, err = o.randomSearch(ctx, train)
	case MethodGenetic:
		trials, err = o.geneticSearch(ctx, train)
	}

	res := &Result{
		Method:    o.cfg.Method,
		Objective: o.cfg.Objective,
		Trials:    trials,
		Cancelled: errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	res.Best = bestTrial(trials)
	if err != nil && res.Best == nil {
		return res, err
	}

	if res.Best != nil {
		res.TrainingScore = res.Best.Objective
		if len(validation) >= 2 {
			vt := o.evaluate(ctx, -1, res.Best.Params, validation)
			res.ValidationScore = vt.Objective
			res.OverfittingRatio = overfittingRatio(res.TrainingScore, res.ValidationScore)
		}
	}
	res.Duration = time.Since(started)

	o.log.Info("optimization complete",
		"trials", len(res.Trials),
		"training_score", res.TrainingScore,
		"validation_score", res.ValidationScore,
		"overfitting_ratio", res.OverfittingRatio,
		"cancelled", res.Cancelled,
	)
	return res, nil
}

// split carves the validation slice off the chronological end.
func (o *Optimizer) split(bars []types.Bar) (train, validation []types.Bar) {
	n := int(float64(len(bars)) * (1 - o.cfg.ValidationSplit))
	if n < 2 {
		n = 2
	}
	if n > len(bars) {
		n = len(bars)
	}
	return bars[:n], bars[n:]
}

// evaluate runs one trial: build the strategy, run the simulator, score the
// objective and check constraints. Failures are isolated to the trial.
func (o *Optimizer) evaluate(ctx context.Context, id int, params types.ParamSet, bars []types.Bar) Trial {
	started := time.Now()
	trial := Trial{ID: id, Params: params.Clone()}

	src, err := o.factory(params)
	if err != nil {
		trial.Failed = true
		trial.Error = err.Error()
		o.tel.ObserveTrial(string(o.cfg.Method), "failed", time.Since(started))
		return trial
	}

	res, err := o.engine.Run(ctx, bars, src, nil)
	if err != nil {
		trial.Failed = true
		trial.Error = err.Error()
		o.tel.ObserveTrial(string(o.cfg.Method), "failed", time.Since(started))
		return trial
	}

	res.Parameters = trial.Params
	trial.Objective = Score(o.cfg.Objective, res.Metrics)
	trial.TradeCount = res.Metrics.TradeCount
	trial.MaxDrawdown = res.Metrics.MaxDrawdown
	trial.ConstraintSatisfied = trial.TradeCount >= o.cfg.Constraints.MinTrades &&
		trial.MaxDrawdown <= o.cfg.Constraints.MaxDrawdown
	trial.Metrics = res.Metrics

	status := "violated"
	if trial.ConstraintSatisfied {
		status = "completed"
	}
	o.tel.ObserveTrial(string(o.cfg.Method), status, time.Since(started))
	return trial
}

// evaluateBatch fans candidate parameter sets over the worker pool and
// returns trials ordered by candidate index, so results do not depend on
// scheduling.
func (o *Optimizer) evaluateBatch(ctx context.Context, firstID int, candidates []types.ParamSet, bars []types.Bar) []Trial {
	jobs := make([]worker.Job[Trial], len(candidates))
	for i, params := range candidates {
		id := firstID + i
		p := params
		jobs[i] = func(jobCtx context.Context) (Trial, error) {
			return o.evaluate(jobCtx, id, p, bars), nil
		}
	}

	results := worker.Run(ctx, o.cfg.Workers, jobs)
	trials := make([]Trial, len(results))
	for i, r := range results {
		if r.Err != nil {
			trials[i] = Trial{
				ID:     firstID + i,
				Params: candidates[i].Clone(),
				Failed: true,
				Error:  r.Err.Error(),
			}
			continue
		}
		trials[i] = r.Value
	}
	return trials
}

// bestTrial picks the highest objective among constraint-satisfying,
// non-failed trials. Ties resolve to the earlier trial, which keeps
// selection stable across runs.
func bestTrial(trials []Trial) *Trial {
	var best *Trial
	for i := range trials {
		t := &trials[i]
		if t.Failed || !t.ConstraintSatisfied {
			continue
		}
		if best == nil || t.Objective > best.Objective {
			best = t
		}
	}
	return best
}

// overfittingRatio is validation/training. A non-positive training score
// makes the ratio meaningless; it is reported as 0, a warning value for the
// caller to threshold.
func overfittingRatio(training, validation float64) float64 {
	if training <= 0 || math.IsInf(training, 0) || math.IsNaN(training) {
		return 0
	}
	return validation / training
}

// Score extracts the objective value from a computed metrics set. NaN maps
// to -Inf so broken runs always lose comparisons.
func Score(obj Objective, m *metrics.Metrics) float64 {
	var v float64
	switch obj {
	case ObjectiveSharpe:
		v = m.SharpeRatio
	case ObjectiveCAGR:
		v = m.CAGR
	case ObjectiveCalmar:
		v = m.CalmarRatio
	case ObjectiveSortino:
		v = m.SortinoRatio
	}
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}
