package backtest

import (
	"math"
	"time"

	apperrors "quantval/internal/errors"
)

// Config represents immutable run configuration for the execution simulator.
// Build it from DefaultConfig, adjust fields, and let NewEngine validate it
// once; all defaults are explicit fields, never resolved at lookup time.
type Config struct {
	Symbol         string  `yaml:"symbol" json:"symbol"`
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`

	MakerFeeRate float64 `yaml:"maker_fee_rate" json:"maker_fee_rate"`
	TakerFeeRate float64 `yaml:"taker_fee_rate" json:"taker_fee_rate"`

	FundingInterval time.Duration `yaml:"funding_interval" json:"funding_interval"`
	FundingRate     float64       `yaml:"funding_rate" json:"funding_rate"`

	// Slippage model components: fixed basis points, volume impact scaled by
	// order size relative to bar volume, volatility impact scaled by recent
	// realized volatility, and an extra penalty applied to stop-loss fills.
	SlippageBps            float64 `yaml:"slippage_bps" json:"slippage_bps"`
	VolumeImpactFactor     float64 `yaml:"volume_impact_factor" json:"volume_impact_factor"`
	VolatilityImpactFactor float64 `yaml:"volatility_impact_factor" json:"volatility_impact_factor"`
	StopPenaltyBps         float64 `yaml:"stop_penalty_bps" json:"stop_penalty_bps"`

	// VolatilityWindow is the realized-volatility lookback, in bars, feeding
	// the volatility impact component. Deliberately configurable rather than
	// hard-coded.
	VolatilityWindow int `yaml:"volatility_window" json:"volatility_window"`

	MaxPositionFraction float64 `yaml:"max_position_fraction" json:"max_position_fraction"`
	MaxLeverage         float64 `yaml:"max_leverage" json:"max_leverage"`
	RiskPerTrade        float64 `yaml:"risk_per_trade" json:"risk_per_trade"`

	// CircuitBreakerThreshold is the drawdown fraction from the running peak
	// that latches the circuit breaker for the remainder of the run.
	CircuitBreakerThreshold float64 `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
}

// DefaultConfig returns the configuration used when the caller does not
// override a field.
func DefaultConfig() Config {
	return Config{
		Symbol:                  "UNKNOWN",
		InitialCapital:          100_000,
		MakerFeeRate:            0.0002,
		TakerFeeRate:            0.0004,
		FundingInterval:         8 * time.Hour,
		FundingRate:             0.0001,
		SlippageBps:             2,
		VolumeImpactFactor:      0.1,
		VolatilityImpactFactor:  0.5,
		StopPenaltyBps:          20,
		VolatilityWindow:        20,
		MaxPositionFraction:     0.95,
		MaxLeverage:             1,
		RiskPerTrade:            0.02,
		CircuitBreakerThreshold: 0.25,
	}
}

// Validate rejects the configuration before any simulation starts.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 || !isFinite(c.InitialCapital) {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "initial capital must be > 0, got %v", c.InitialCapital)
	}
	for name, rate := range map[string]float64{
		"maker_fee_rate":           c.MakerFeeRate,
		"taker_fee_rate":           c.TakerFeeRate,
		"funding_rate":             c.FundingRate,
		"slippage_bps":             c.SlippageBps,
		"volume_impact_factor":     c.VolumeImpactFactor,
		"volatility_impact_factor": c.VolatilityImpactFactor,
		"stop_penalty_bps":         c.StopPenaltyBps,
	} {
		if rate < 0 || !isFinite(rate) {
			return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "%s must be >= 0, got %v", name, rate)
		}
	}
	if c.FundingInterval <= 0 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "funding interval must be > 0, got %v", c.FundingInterval)
	}
	if c.VolatilityWindow < 2 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "volatility window must be >= 2, got %d", c.VolatilityWindow)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "max position fraction must be in (0,1], got %v", c.MaxPositionFraction)
	}
	if c.MaxLeverage < 1 || !isFinite(c.MaxLeverage) {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "max leverage must be >= 1, got %v", c.MaxLeverage)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "risk per trade must be in (0,1], got %v", c.RiskPerTrade)
	}
	if c.CircuitBreakerThreshold <= 0 || c.CircuitBreakerThreshold > 1 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "circuit breaker threshold must be in (0,1], got %v", c.CircuitBreakerThreshold)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
