// Package walkforward partitions a bar history into in-sample/out-of-sample
// windows, optimizes per window and scores the frozen winner on the
// out-of-sample slice. The aggregate statistics (degradation, parameter
// stability, consistency) quantify how badly in-sample performance decays
// out of sample.
package walkforward

import (
	"context"
	"math"
	"time"

	"quantval/internal/backtest"
	apperrors "quantval/internal/errors"
	"quantval/internal/logger"
	"quantval/internal/metrics"
	"quantval/internal/optimizer"
	"quantval/internal/telemetry"
	"quantval/internal/types"
	"quantval/internal/worker"
)

// Mode selects how the in-sample window advances.
type Mode string

const (
	// ModeRolling slides a fixed-length in-sample window forward by one
	// out-of-sample period per window.
	ModeRolling Mode = "rolling"
	// ModeAnchored keeps the in-sample start pinned to the first bar and
	// only advances the in-sample end.
	ModeAnchored Mode = "anchored"
)

// Config represents a walk-forward analysis configuration.
type Config struct {
	Mode          Mode             `yaml:"mode" json:"mode"`
	InSampleDays  int              `yaml:"in_sample_days" json:"in_sample_days"`
	OutSampleDays int              `yaml:"out_sample_days" json:"out_sample_days"`
	Optimizer     optimizer.Config `yaml:"optimizer" json:"optimizer"`

	// Workers bounds the window pool. Trials inside each window run
	// serially; parallelism comes from running windows concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultConfig returns rolling windows with 90 in-sample and 30
// out-of-sample days.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeRolling,
		InSampleDays:  90,
		OutSampleDays: 30,
		Optimizer:     optimizer.DefaultConfig(),
	}
}

// Validate rejects the configuration before any window runs.
func (c Config) Validate() error {
	if c.Mode != ModeRolling && c.Mode != ModeAnchored {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown walk-forward mode %q", c.Mode)
	}
	if c.InSampleDays <= 0 || c.OutSampleDays <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "in-sample and out-of-sample days must be positive")
	}
	return c.Optimizer.Validate()
}

// Window is one in-sample/out-of-sample pair. Index ranges are half open
// over the bar slice.
type Window struct {
	Index          int       `json:"index"`
	InSampleStart  time.Time `json:"in_sample_start"`
	InSampleEnd    time.Time `json:"in_sample_end"`
	OutSampleStart time.Time `json:"out_sample_start"`
	OutSampleEnd   time.Time `json:"out_sample_end"`

	isLo, isHi   int
	oosLo, oosHi int
}

// WindowResult pairs the optimized parameters with both simulator runs.
type WindowResult struct {
	Window         Window           `json:"window"`
	Params         types.ParamSet   `json:"params,omitempty"`
	InSample       *backtest.Result `json:"in_sample,omitempty"`
	OutSample      *backtest.Result `json:"out_sample,omitempty"`
	InSampleScore  float64          `json:"in_sample_score"`
	OutSampleScore float64          `json:"out_sample_score"`
	Degradation    float64          `json:"degradation"`
	Failed         bool             `json:"failed"`
	Error          string           `json:"error,omitempty"`
}

// Result owns the per-window triples and the aggregate statistics.
type Result struct {
	Mode               Mode                 `json:"mode"`
	Objective          optimizer.Objective  `json:"objective"`
	Windows            []WindowResult       `json:"windows"`
	MeanDegradation    float64              `json:"mean_degradation"`
	ParameterStability map[string]float64   `json:"parameter_stability"`
	ConsistencyScore   float64              `json:"consistency_score"`
	EquityCurve        []types.EquityPoint  `json:"equity_curve"`
	OutSampleMetrics   *metrics.Metrics     `json:"out_sample_metrics,omitempty"`
	Duration           time.Duration        `json:"duration"`
}

// Analyzer runs walk-forward analysis over a bar history.
type Analyzer struct {
	cfg     Config
	engine  *backtest.Engine
	factory types.SignalFactory
	log     logger.Logger
	tel     *telemetry.Metrics
}

// New validates the configuration and returns an analyzer.
func New(cfg Config, engine *backtest.Engine, factory types.SignalFactory, log logger.Logger, tel *telemetry.Metrics) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil || factory == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "engine and signal factory are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{cfg: cfg, engine: engine, factory: factory, log: log, tel: tel}, nil
}

// Analyze generates the windows, runs each on the worker pool and aggregates
// the out-of-sample results. Windows are independent, so results are ordered
// by window index no matter how the pool schedules them.
func (a *Analyzer) Analyze(ctx context.Context, bars []types.Bar) (*Result, error) {
	started := time.Now()
	windows := a.generateWindows(bars)
	if len(windows) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData,
			"history too short for %dd/%dd windows: %d bars", a.cfg.InSampleDays, a.cfg.OutSampleDays, len(bars))
	}
	a.log.Info("starting walk-forward analysis",
		"mode", string(a.cfg.Mode),
		"windows", len(windows),
		"bars", len(bars),
	)

	jobs := make([]worker.Job[WindowResult], len(windows))
	for i, w := range windows {
		win := w
		jobs[i] = func(jobCtx context.Context) (WindowResult, error) {
			return a.runWindow(jobCtx, bars, win), nil
		}
	}

	results := worker.Run(ctx, a.cfg.Workers, jobs)
	windowResults := make([]WindowResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			windowResults[i] = WindowResult{Window: windows[i], Failed: true, Error: r.Err.Error()}
			continue
		}
		windowResults[i] = r.Value
	}

	res := a.aggregate(windowResults)
	res.Duration = time.Since(started)
	a.log.Info("walk-forward analysis complete",
		"windows", len(res.Windows),
		"mean_degradation", res.MeanDegradation,
		"consistency_score", res.ConsistencyScore,
	)
	return res, nil
}

// runWindow optimizes on the in-sample slice, then runs the simulator once
// per slice with the frozen best parameters. A failure anywhere marks the
// window failed without touching its siblings.
func (a *Analyzer) runWindow(ctx context.Context, bars []types.Bar, w Window) WindowResult {
	out := WindowResult{Window: w}

	optCfg := a.cfg.Optimizer
	optCfg.Workers = 1
	opt, err := optimizer.New(optCfg, a.engine, a.factory, a.log.WithField("window", w.Index), a.tel)
	if err != nil {
		out.Failed = true
		out.Error = err.Error()
		return out
	}

	optRes, err := opt.Optimize(ctx, bars[w.isLo:w.isHi])
	if err != nil {
		out.Failed = true
		out.Error = err.Error()
		return out
	}
	if optRes.Best == nil {
		out.Failed = true
		out.Error = "no trial satisfied the constraints"
		return out
	}
	out.Params = optRes.Best.Params.Clone()

	src, err := a.factory(out.Params)
	if err != nil {
		out.Failed = true
		out.Error = err.Error()
		return out
	}

	// Rerun the full in-sample slice so the degradation baseline covers the
	// same data the optimizer saw, including its held-out tail.
	if out.InSample, err = a.engine.Run(ctx, bars[w.isLo:w.isHi], src, nil); err != nil {
		out.Failed = true
		out.Error = err.Error()
		return out
	}
	if out.OutSample, err = a.engine.Run(ctx, bars[w.oosLo:w.oosHi], src, nil); err != nil {
		out.Failed = true
		out.Error = err.Error()
		return out
	}
	out.InSample.Parameters = out.Params
	out.OutSample.Parameters = out.Params

	out.InSampleScore = optimizer.Score(optCfg.Objective, out.InSample.Metrics)
	out.OutSampleScore = optimizer.Score(optCfg.Objective, out.OutSample.Metrics)
	out.Degradation = degradation(out.InSampleScore, out.OutSampleScore)
	return out
}

// generateWindows lays out windows by calendar duration and maps them to bar
// index ranges. Windows whose slices are too short to optimize or simulate
// are not emitted.
func (a *Analyzer) generateWindows(bars []types.Bar) []Window {
	if len(bars) < 2 {
		return nil
	}
	isDur := time.Duration(a.cfg.InSampleDays) * 24 * time.Hour
	oosDur := time.Duration(a.cfg.OutSampleDays) * 24 * time.Hour
	first := bars[0].Timestamp
	last := bars[len(bars)-1].Timestamp

	var windows []Window
	for k := 0; ; k++ {
		isStart := first
		if a.cfg.Mode == ModeRolling {
			isStart = first.Add(time.Duration(k) * oosDur)
		}
		isEnd := isStart.Add(isDur)
		if a.cfg.Mode == ModeAnchored {
			isEnd = first.Add(isDur + time.Duration(k)*oosDur)
		}
		oosEnd := isEnd.Add(oosDur)
		if !isEnd.Before(last) {
			break
		}

		isLo, isHi := barRange(bars, isStart, isEnd)
		oosLo, oosHi := barRange(bars, isEnd, oosEnd)
		if isHi-isLo < 4 || oosHi-oosLo < 2 {
			continue
		}
		windows = append(windows, Window{
			Index:          len(windows),
			InSampleStart:  isStart,
			InSampleEnd:    isEnd,
			OutSampleStart: isEnd,
			OutSampleEnd:   oosEnd,
			isLo:           isLo,
			isHi:           isHi,
			oosLo:          oosLo,
			oosHi:          oosHi,
		})
	}
	return windows
}

// barRange returns the half-open index range of bars with timestamps in
// [from, to). Bars are already time ordered.
func barRange(bars []types.Bar, from, to time.Time) (lo, hi int) {
	lo = len(bars)
	for i, b := range bars {
		if !b.Timestamp.Before(from) {
			lo = i
			break
		}
	}
	hi = lo
	for hi < len(bars) && bars[hi].Timestamp.Before(to) {
		hi++
	}
	return lo, hi
}

// aggregate computes the cross-window statistics over successful windows.
func (a *Analyzer) aggregate(windows []WindowResult) *Result {
	res := &Result{
		Mode:               a.cfg.Mode,
		Objective:          a.cfg.Optimizer.Objective,
		Windows:            windows,
		ParameterStability: map[string]float64{},
	}

	var (
		degradations []float64
		positive     int
		succeeded    int
		trades       []types.Trade
	)
	paramValues := map[string][]float64{}

	for _, w := range windows {
		if w.Failed {
			continue
		}
		succeeded++
		degradations = append(degradations, w.Degradation)
		if w.OutSample.Metrics.SharpeRatio > 0 {
			positive++
		}
		for name, v := range w.Params {
			paramValues[name] = append(paramValues[name], v)
		}
		res.EquityCurve = appendRebased(res.EquityCurve, w.OutSample.EquityCurve)
		trades = append(trades, w.OutSample.Trades...)
	}

	if succeeded > 0 {
		res.MeanDegradation = mean(degradations)
		res.ConsistencyScore = float64(positive) / float64(succeeded)
	}
	for name, values := range paramValues {
		res.ParameterStability[name] = coefficientOfVariation(values)
	}
	if len(res.EquityCurve) >= 2 {
		res.OutSampleMetrics = metrics.Calculate(trades, res.EquityCurve, nil)
	}
	return res
}

// appendRebased scales a window's equity segment so it starts where the
// previous segment ended. Every simulator run restarts at the configured
// initial capital, which would otherwise inject an artificial jump at each
// seam of the stitched curve.
func appendRebased(curve, segment []types.EquityPoint) []types.EquityPoint {
	if len(segment) == 0 {
		return curve
	}
	scale := 1.0
	if len(curve) > 0 && segment[0].Equity > 0 {
		scale = curve[len(curve)-1].Equity / segment[0].Equity
	}
	for _, p := range segment {
		curve = append(curve, types.EquityPoint{Timestamp: p.Timestamp, Equity: p.Equity * scale})
	}
	return curve
}

// degradation is (in-sample − out-of-sample) / in-sample. A zero or
// non-finite in-sample score makes the ratio meaningless and reports 0.
func degradation(inSample, outSample float64) float64 {
	if inSample == 0 || math.IsInf(inSample, 0) || math.IsNaN(inSample) {
		return 0
	}
	return (inSample - outSample) / inSample
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	if m == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq/float64(len(values)-1)) / math.Abs(m)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
