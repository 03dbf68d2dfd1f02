// quantval runs backtests, walk-forward analyses, Monte Carlo stress tests
// and parameter optimizations over a CSV bar history and writes the result
// as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"quantval/internal/backtest"
	"quantval/internal/config"
	"quantval/internal/logger"
	"quantval/internal/montecarlo"
	"quantval/internal/optimizer"
	"quantval/internal/strategy"
	"quantval/internal/telemetry"
	"quantval/internal/types"
	"quantval/internal/walkforward"
)

func main() {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	var (
		configFile = flag.String("config", "", "YAML configuration file path")
		mode       = flag.String("mode", "backtest", "backtest | walkforward | montecarlo | optimize")
		dataFile   = flag.String("data", "", "CSV bar history (timestamp,open,high,low,close,volume)")
		paramsFlag = flag.String("params", "", "strategy parameters, e.g. fast=10,slow=30")
		rangesFlag = flag.String("ranges", "", "parameter ranges, e.g. fast=5:30:5,slow=20:100:10")
		seed       = flag.Int64("seed", 0, "override every random seed (0 keeps configured seeds)")
		outFile    = flag.String("out", "", "result output path (default stdout)")
	)
	flag.Parse()

	if err := run(*configFile, *mode, *dataFile, *paramsFlag, *rangesFlag, *seed, *outFile); err != nil {
		fmt.Fprintf(os.Stderr, "quantval: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, mode, dataFile, paramsFlag, rangesFlag string, seed int64, outFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if seed != 0 {
		cfg.Optimizer.Seed = seed
		cfg.WalkForward.Optimizer.Seed = seed
		cfg.MonteCarlo.Seed = seed
	}
	applyWorkers(cfg)

	log := logger.New(cfg.Logging)
	tel := telemetry.NewMetrics(prometheus.NewRegistry())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dataFile == "" {
		return fmt.Errorf("-data is required")
	}
	bars, err := loadBars(dataFile)
	if err != nil {
		return err
	}
	log.Info("bars loaded", "file", dataFile, "bars", len(bars))

	engine, err := backtest.NewEngine(cfg.Engine, log, tel)
	if err != nil {
		return err
	}

	var result any
	switch mode {
	case "backtest":
		result, err = runBacktest(ctx, engine, bars, paramsFlag)
	case "optimize":
		result, err = runOptimize(ctx, cfg, engine, log, tel, bars, rangesFlag)
	case "walkforward":
		result, err = runWalkForward(ctx, cfg, engine, log, tel, bars, rangesFlag)
	case "montecarlo":
		result, err = runMonteCarlo(ctx, cfg, engine, log, tel, bars, paramsFlag)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}
	return writeResult(outFile, result)
}

func runBacktest(ctx context.Context, engine *backtest.Engine, bars []types.Bar, paramsFlag string) (any, error) {
	src, params, err := buildSource(paramsFlag)
	if err != nil {
		return nil, err
	}
	res, err := engine.Run(ctx, bars, src, strategy.NewTrailingRegimeClassifier())
	if err != nil {
		return nil, err
	}
	res.Parameters = params
	return res, nil
}

func runOptimize(ctx context.Context, cfg *config.Config, engine *backtest.Engine, log logger.Logger, tel *telemetry.Metrics, bars []types.Bar, rangesFlag string) (any, error) {
	optCfg := cfg.Optimizer
	if rangesFlag != "" {
		ranges, err := parseRanges(rangesFlag)
		if err != nil {
			return nil, err
		}
		optCfg.Ranges = ranges
	}
	opt, err := optimizer.New(optCfg, engine, strategy.MACrossFactory, log, tel)
	if err != nil {
		return nil, err
	}
	return opt.Optimize(ctx, bars)
}

func runWalkForward(ctx context.Context, cfg *config.Config, engine *backtest.Engine, log logger.Logger, tel *telemetry.Metrics, bars []types.Bar, rangesFlag string) (any, error) {
	wfCfg := cfg.WalkForward
	if rangesFlag != "" {
		ranges, err := parseRanges(rangesFlag)
		if err != nil {
			return nil, err
		}
		wfCfg.Optimizer.Ranges = ranges
	}
	wf, err := walkforward.New(wfCfg, engine, strategy.MACrossFactory, log, tel)
	if err != nil {
		return nil, err
	}
	return wf.Analyze(ctx, bars)
}

func runMonteCarlo(ctx context.Context, cfg *config.Config, engine *backtest.Engine, log logger.Logger, tel *telemetry.Metrics, bars []types.Bar, paramsFlag string) (any, error) {
	src, params, err := buildSource(paramsFlag)
	if err != nil {
		return nil, err
	}
	base, err := engine.Run(ctx, bars, src, nil)
	if err != nil {
		return nil, err
	}
	base.Parameters = params

	mc, err := montecarlo.New(cfg.MonteCarlo, engine, strategy.MACrossFactory, log, tel)
	if err != nil {
		return nil, err
	}
	return mc.Simulate(ctx, base, bars)
}

// buildSource turns the -params flag into a signal source. Without
// parameters the run falls back to buy-and-hold.
func buildSource(paramsFlag string) (types.SignalSource, types.ParamSet, error) {
	if paramsFlag == "" {
		return strategy.HoldSource{}, nil, nil
	}
	params, err := parseParams(paramsFlag)
	if err != nil {
		return nil, nil, err
	}
	src, err := strategy.MACrossFactory(params)
	if err != nil {
		return nil, nil, err
	}
	return src, params, nil
}

// applyWorkers pushes the global worker bound into every section that did
// not set its own.
func applyWorkers(cfg *config.Config) {
	if cfg.Workers <= 0 {
		return
	}
	if cfg.Optimizer.Workers <= 0 {
		cfg.Optimizer.Workers = cfg.Workers
	}
	if cfg.WalkForward.Workers <= 0 {
		cfg.WalkForward.Workers = cfg.Workers
	}
	if cfg.MonteCarlo.Workers <= 0 {
		cfg.MonteCarlo.Workers = cfg.Workers
	}
}

func writeResult(outFile string, result any) error {
	var w io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
