package types

import (
	"math"
	"time"
)

// Bar represents a single OHLCV sample. Bars are read-only inputs to the
// simulator; the series is expected to be time-ordered.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether the bar is usable for simulation. A bar with a
// non-finite price or zero volume is skipped by the simulator rather than
// aborting the run.
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return b.Volume > 0 && !math.IsNaN(b.Volume) && !math.IsInf(b.Volume, 0)
}

// Regime represents a market-condition label attached to trades for
// performance attribution. Classification is an external collaborator input.
type Regime string

const (
	RegimeBullTrending Regime = "bull_trending"
	RegimeBearTrending Regime = "bear_trending"
	RegimeSideways     Regime = "sideways"
	RegimeHighVol      Regime = "high_volatility"
	RegimeLowVol       Regime = "low_volatility"
	RegimeUnknown      Regime = "unknown"
)

// RegimeSource provides a regime label per bar. Implementations are opaque
// classifiers; the engine only tags closed trades with the returned label.
type RegimeSource interface {
	Regime(index int, history []Bar) Regime
}

// EquityPoint represents a point in the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Warning represents a non-fatal data quality issue recorded during a run.
type Warning struct {
	BarIndex  int       `json:"bar_index"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// Warning codes attached to results.
const (
	WarnMalformedBar       = "MALFORMED_BAR"
	WarnNonMonotonicBar    = "NON_MONOTONIC_TIMESTAMP"
	WarnCircuitBreakerTrip = "CIRCUIT_BREAKER_TRIPPED"
)
