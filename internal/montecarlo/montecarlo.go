// Package montecarlo stress-tests a completed simulation result by
// generating many randomized variants of it. Five independent randomization
// modes estimate how sensitive the headline numbers are to trade ordering,
// return sampling, parameter choice and execution timing.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"time"

	"quantval/internal/backtest"
	apperrors "quantval/internal/errors"
	"quantval/internal/logger"
	"quantval/internal/telemetry"
	"quantval/internal/types"
	"quantval/internal/worker"
)

// Mode is one randomization scheme.
type Mode string

const (
	// ModeTradeShuffle permutes the order of realized trade returns and
	// recompounds the equity curve.
	ModeTradeShuffle Mode = "trade_shuffle"
	// ModeReturnBootstrap resamples per-trade returns with replacement,
	// same count as the base run.
	ModeReturnBootstrap Mode = "return_bootstrap"
	// ModeParameterSensitivity perturbs each strategy parameter within
	// ±SensitivityPct and reruns the simulator.
	ModeParameterSensitivity Mode = "parameter_sensitivity"
	// ModeEntryJitter shifts each trade's entry bar by a small random
	// offset and reprices the fill.
	ModeEntryJitter Mode = "entry_jitter"
	// ModeExitJitter is symmetric to entry jitter for exits.
	ModeExitJitter Mode = "exit_jitter"
)

// AllModes lists the modes in their canonical execution order.
var AllModes = []Mode{
	ModeTradeShuffle,
	ModeReturnBootstrap,
	ModeParameterSensitivity,
	ModeEntryJitter,
	ModeExitJitter,
}

// Config represents a Monte Carlo run configuration.
type Config struct {
	Simulations int    `yaml:"simulations" json:"simulations"`
	Modes       []Mode `yaml:"modes" json:"modes"`

	// RuinFloor is the equity fraction below which a path counts as ruined;
	// 0 means ruin at total loss of capital.
	RuinFloor float64 `yaml:"ruin_floor" json:"ruin_floor"`

	// JitterMaxBars bounds the timing offset for the jitter modes.
	JitterMaxBars int `yaml:"jitter_max_bars" json:"jitter_max_bars"`

	// SensitivityPct is the relative perturbation width for parameter
	// sensitivity, 0.10 meaning ±10%.
	SensitivityPct float64 `yaml:"sensitivity_pct" json:"sensitivity_pct"`

	// Seed is the master seed. Every path derives its own sub-seed from it,
	// so a fixed seed reproduces every path bit for bit regardless of how
	// the worker pool interleaves them.
	Seed int64 `yaml:"seed" json:"seed"`

	// Workers bounds the path pool; 0 means one per CPU core.
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultConfig returns 1,000 simulations per mode across all five modes.
func DefaultConfig() Config {
	return Config{
		Simulations:    1000,
		Modes:          append([]Mode(nil), AllModes...),
		RuinFloor:      0,
		JitterMaxBars:  3,
		SensitivityPct: 0.10,
		Seed:           1,
	}
}

// Validate rejects the configuration before any path runs.
func (c Config) Validate() error {
	if c.Simulations < 1 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "simulations must be positive")
	}
	if len(c.Modes) == 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "at least one mode is required")
	}
	for _, m := range c.Modes {
		switch m {
		case ModeTradeShuffle, ModeReturnBootstrap, ModeParameterSensitivity, ModeEntryJitter, ModeExitJitter:
		default:
			return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown mode %q", m)
		}
	}
	if c.RuinFloor < 0 || c.RuinFloor >= 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "ruin floor must be in [0,1), got %v", c.RuinFloor)
	}
	if c.JitterMaxBars < 1 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "jitter_max_bars must be positive")
	}
	if c.SensitivityPct <= 0 || c.SensitivityPct >= 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "sensitivity_pct must be in (0,1), got %v", c.SensitivityPct)
	}
	return nil
}

// Distribution summarizes one simulated quantity across all paths of a mode.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
}

// ModeResult holds the distributions and tail statistics for one mode.
type ModeResult struct {
	Mode        Mode         `json:"mode"`
	Simulations int          `json:"simulations"`
	Failed      int          `json:"failed"`
	Return      Distribution `json:"return"`
	Sharpe      Distribution `json:"sharpe"`
	MaxDrawdown Distribution `json:"max_drawdown"`
	ProbProfit  float64      `json:"prob_profit"`
	ProbRuin    float64      `json:"prob_ruin"`
	VaR95       float64      `json:"var_95"`
	CVaR95      float64      `json:"cvar_95"`
}

// Result owns the per-mode outcomes and the composite robustness score.
type Result struct {
	BaseRunID       string        `json:"base_run_id"`
	Modes           []ModeResult  `json:"modes"`
	ProbProfit      float64       `json:"prob_profit"`
	RobustnessScore float64       `json:"robustness_score"`
	Duration        time.Duration `json:"duration"`
}

// Simulator perturbs a completed backtest result. The engine, factory and
// bars back the rerun-based modes (sensitivity, jitter).
type Simulator struct {
	cfg     Config
	engine  *backtest.Engine
	factory types.SignalFactory
	log     logger.Logger
	tel     *telemetry.Metrics
}

// New validates the configuration and returns a simulator.
func New(cfg Config, engine *backtest.Engine, factory types.SignalFactory, log logger.Logger, tel *telemetry.Metrics) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Simulator{cfg: cfg, engine: engine, factory: factory, log: log, tel: tel}, nil
}

// pathOutcome is the scored result of one simulated path.
type pathOutcome struct {
	totalReturn float64
	sharpe      float64
	maxDrawdown float64
	ruined      bool
	failed      bool
}

// Simulate runs every configured mode against the base result. Modes run in
// canonical order; paths within a mode run on the worker pool, each seeded
// independently from the master seed.
func (s *Simulator) Simulate(ctx context.Context, base *backtest.Result, bars []types.Bar) (*Result, error) {
	started := time.Now()
	if base == nil || len(base.EquityCurve) < 2 {
		return nil, apperrors.New(apperrors.ErrCodeInsufficientData, "base result has no usable equity curve")
	}
	if len(base.Trades) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInsufficientData, "base result has no trades to perturb")
	}

	res := &Result{BaseRunID: base.RunID}
	for _, mode := range orderedModes(s.cfg.Modes) {
		if ctx.Err() != nil {
			break
		}
		if s.needsRerun(mode) && (s.engine == nil || s.factory == nil) {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
				"mode %q requires an engine and a signal factory", mode)
		}
		if s.needsBars(mode) && len(bars) < 2 {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
				"mode %q requires the bar history", mode)
		}
		mr := s.runMode(ctx, mode, base, bars)
		res.Modes = append(res.Modes, mr)
		s.log.Info("mode complete",
			"mode", string(mode),
			"simulations", mr.Simulations,
			"prob_profit", mr.ProbProfit,
			"prob_ruin", mr.ProbRuin,
		)
	}
	if len(res.Modes) == 0 {
		return res, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCancelled, "monte carlo cancelled")
	}

	res.ProbProfit = meanProbProfit(res.Modes)
	res.RobustnessScore = robustness(res)
	res.Duration = time.Since(started)
	s.log.Info("monte carlo complete",
		"modes", len(res.Modes),
		"prob_profit", res.ProbProfit,
		"robustness_score", res.RobustnessScore,
	)
	return res, nil
}

func (s *Simulator) needsRerun(mode Mode) bool {
	return mode == ModeParameterSensitivity
}

func (s *Simulator) needsBars(mode Mode) bool {
	return mode == ModeParameterSensitivity || mode == ModeEntryJitter || mode == ModeExitJitter
}

// runMode fans the paths of one mode over the worker pool and folds the
// outcomes into distributions.
func (s *Simulator) runMode(ctx context.Context, mode Mode, base *backtest.Result, bars []types.Bar) ModeResult {
	jobs := make([]worker.Job[pathOutcome], s.cfg.Simulations)
	for i := range jobs {
		path := i
		jobs[i] = func(jobCtx context.Context) (pathOutcome, error) {
			rng := newPathRNG(s.cfg.Seed, mode, path)
			return s.runPath(jobCtx, mode, rng, base, bars), nil
		}
	}

	results := worker.Run(ctx, s.cfg.Workers, jobs)
	outcomes := make([]pathOutcome, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil || r.Value.failed {
			failed++
			continue
		}
		outcomes = append(outcomes, r.Value)
	}
	return s.fold(mode, outcomes, failed)
}

func (s *Simulator) runPath(ctx context.Context, mode Mode, rng *rand.Rand, base *backtest.Result, bars []types.Bar) pathOutcome {
	switch mode {
	case ModeTradeShuffle:
		return s.shufflePath(rng, base)
	case ModeReturnBootstrap:
		return s.bootstrapPath(rng, base)
	case ModeParameterSensitivity:
		return s.sensitivityPath(ctx, rng, base, bars)
	case ModeEntryJitter:
		return s.jitterPath(rng, base, bars, true)
	case ModeExitJitter:
		return s.jitterPath(rng, base, bars, false)
	}
	return pathOutcome{failed: true}
}

// fold turns raw outcomes into a ModeResult. VaR95 is the 5th percentile of
// simulated total returns; CVaR95 averages the returns at or below it.
func (s *Simulator) fold(mode Mode, outcomes []pathOutcome, failed int) ModeResult {
	mr := ModeResult{Mode: mode, Simulations: len(outcomes) + failed, Failed: failed}
	if len(outcomes) == 0 {
		return mr
	}

	returns := make([]float64, len(outcomes))
	sharpes := make([]float64, len(outcomes))
	drawdowns := make([]float64, len(outcomes))
	profitable, ruined := 0, 0
	for i, o := range outcomes {
		returns[i] = o.totalReturn
		sharpes[i] = o.sharpe
		drawdowns[i] = o.maxDrawdown
		if o.totalReturn > 0 {
			profitable++
		}
		if o.ruined {
			ruined++
		}
	}

	mr.Return = describe(returns)
	mr.Sharpe = describe(sharpes)
	mr.MaxDrawdown = describe(drawdowns)
	mr.ProbProfit = float64(profitable) / float64(len(outcomes))
	mr.ProbRuin = float64(ruined) / float64(len(outcomes))
	mr.VaR95 = mr.Return.P5
	mr.CVaR95 = tailMean(returns, mr.VaR95)
	return mr
}

// robustness combines return stability, Sharpe stability, parameter
// sensitivity and probability of profit into one [0,1] score:
//
//	0.3*return_stability + 0.3*sharpe_stability
//	  + 0.2*(1-normalized_sensitivity) + 0.2*prob_profit
//
// where stability = clamp01(1 - std/|mean|). Stabilities come from the
// return-bootstrap mode: shuffling only reorders a fixed set of returns, so
// its terminal-return distribution is degenerate and would score every
// strategy as perfectly stable. When bootstrap is absent the first executed
// mode stands in. Sensitivity is the dispersion of returns under parameter
// perturbation.
func robustness(res *Result) float64 {
	stabilitySrc := res.Modes[0]
	var sensitivity float64
	for _, m := range res.Modes {
		if m.Mode == ModeReturnBootstrap {
			stabilitySrc = m
		}
		if m.Mode == ModeParameterSensitivity {
			sensitivity = clamp01(dispersion(m.Return))
		}
	}

	retStab := clamp01(1 - dispersion(stabilitySrc.Return))
	sharpeStab := clamp01(1 - dispersion(stabilitySrc.Sharpe))
	score := 0.3*retStab + 0.3*sharpeStab + 0.2*(1-sensitivity) + 0.2*res.ProbProfit
	return clamp01(score)
}

// dispersion is std/|mean|, the coefficient of variation of a distribution.
func dispersion(d Distribution) float64 {
	if d.Mean == 0 {
		if d.Std == 0 {
			return 0
		}
		return 1
	}
	return d.Std / math.Abs(d.Mean)
}

func meanProbProfit(modes []ModeResult) float64 {
	if len(modes) == 0 {
		return 0
	}
	var sum float64
	for _, m := range modes {
		sum += m.ProbProfit
	}
	return sum / float64(len(modes))
}

func orderedModes(modes []Mode) []Mode {
	seen := map[Mode]bool{}
	for _, m := range modes {
		seen[m] = true
	}
	out := make([]Mode, 0, len(modes))
	for _, m := range AllModes {
		if seen[m] {
			out = append(out, m)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
