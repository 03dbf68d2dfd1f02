package config

import (
	"os"
	"strconv"
	"strings"

	"quantval/internal/logger"
)

// envPrefix namespaces every override, e.g. QUANTVAL_LOG_LEVEL.
const envPrefix = "QUANTVAL_"

// applyEnv overlays the environment on top of the loaded configuration.
// Only operational knobs are overridable; model parameters stay in the file
// so a run's inputs remain auditable.
func applyEnv(cfg *Config) {
	if v := envString("ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := envString("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logger.LogLevel(v)
	}
	if v := envString("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = logger.LogFormat(v)
	}
	if v := envString("LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v, ok := envInt("WORKERS"); ok {
		cfg.Workers = v
	}
	if v, ok := envInt64("SEED"); ok {
		cfg.Optimizer.Seed = v
		cfg.WalkForward.Optimizer.Seed = v
		cfg.MonteCarlo.Seed = v
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string) (int, bool) {
	v := envString(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := envString(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
