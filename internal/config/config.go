// Package config loads the application configuration from YAML with
// environment overrides. Every section carries usable defaults, so an empty
// file (or no file at all) yields a valid configuration.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"quantval/internal/backtest"
	apperrors "quantval/internal/errors"
	"quantval/internal/logger"
	"quantval/internal/montecarlo"
	"quantval/internal/optimizer"
	"quantval/internal/walkforward"
)

// Config represents the application configuration.
type Config struct {
	App         AppConfig          `yaml:"app"`
	Engine      backtest.Config    `yaml:"engine"`
	Optimizer   optimizer.Config   `yaml:"optimizer"`
	WalkForward walkforward.Config `yaml:"walkforward"`
	MonteCarlo  montecarlo.Config  `yaml:"montecarlo"`
	Logging     logger.Config      `yaml:"logging"`

	// Workers bounds every worker pool in the process; 0 means one per
	// CPU core.
	Workers int `yaml:"workers"`
}

// AppConfig represents application identity configuration.
type AppConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		App:         AppConfig{Name: "quantval", Env: "development"},
		Engine:      backtest.DefaultConfig(),
		Optimizer:   optimizer.DefaultConfig(),
		WalkForward: walkforward.DefaultConfig(),
		MonteCarlo:  montecarlo.DefaultConfig(),
		Logging:     logger.DefaultConfig,
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty filename skips the file and loads defaults plus
// environment only.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "parse config file")
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. Parameter ranges arrive from the caller at
// run time, so the optimizer sections are only validated once ranges are
// present.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "workers must be non-negative")
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if len(c.Optimizer.Ranges) > 0 {
		if err := c.Optimizer.Validate(); err != nil {
			return err
		}
	}
	if len(c.WalkForward.Optimizer.Ranges) > 0 {
		if err := c.WalkForward.Validate(); err != nil {
			return err
		}
	}
	return c.MonteCarlo.Validate()
}
