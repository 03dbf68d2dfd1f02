// Package strategy provides reference SignalSource implementations used by
// the CLI and the test suite. The engine itself never depends on a concrete
// strategy; anything satisfying types.SignalSource plugs in.
package strategy

import (
	"math"

	apperrors "quantval/internal/errors"
	"quantval/internal/types"
)

// HoldSource enters long on the first bar and holds to the end of data.
type HoldSource struct{}

// Signal implements types.SignalSource.
func (HoldSource) Signal(index int, history []types.Bar) types.Signal {
	if index == 0 {
		return types.Signal{Action: types.ActionEnterLong}
	}
	return types.Signal{Action: types.ActionHold}
}

// MACrossSource is a moving-average cross strategy: enter long when the fast
// SMA crosses above the slow SMA, exit when it crosses back below. Optional
// stop-loss and take-profit fractions are applied relative to the entry
// close.
type MACrossSource struct {
	Fast       int
	Slow       int
	StopPct    float64
	TargetPct  float64
	AllowShort bool
}

// NewMACrossSource validates the lookbacks and returns the source.
func NewMACrossSource(fast, slow int, stopPct, targetPct float64) (*MACrossSource, error) {
	if fast < 1 || slow <= fast {
		return nil, apperrors.Newf(apperrors.ErrCodeParameterInvalid,
			"require 1 <= fast < slow, got fast=%d slow=%d", fast, slow)
	}
	if stopPct < 0 || stopPct >= 1 || targetPct < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeParameterInvalid,
			"stop_pct must be in [0,1) and target_pct >= 0")
	}
	return &MACrossSource{Fast: fast, Slow: slow, StopPct: stopPct, TargetPct: targetPct}, nil
}

// Signal implements types.SignalSource.
func (s *MACrossSource) Signal(index int, history []types.Bar) types.Signal {
	if index < s.Slow {
		return types.Signal{Action: types.ActionHold}
	}
	fastNow := sma(history, index, s.Fast)
	slowNow := sma(history, index, s.Slow)
	fastPrev := sma(history, index-1, s.Fast)
	slowPrev := sma(history, index-1, s.Slow)

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	switch {
	case crossedUp:
		close := history[index].Close
		sig := types.Signal{Action: types.ActionEnterLong}
		if s.StopPct > 0 {
			sig.StopLoss = close * (1 - s.StopPct)
		}
		if s.TargetPct > 0 {
			sig.TakeProfit = close * (1 + s.TargetPct)
		}
		return sig
	case crossedDown:
		if s.AllowShort {
			close := history[index].Close
			sig := types.Signal{Action: types.ActionEnterShort}
			if s.StopPct > 0 {
				sig.StopLoss = close * (1 + s.StopPct)
			}
			if s.TargetPct > 0 {
				sig.TakeProfit = close * (1 - s.TargetPct)
			}
			return sig
		}
		return types.Signal{Action: types.ActionExit}
	default:
		return types.Signal{Action: types.ActionHold}
	}
}

// MACrossFactory builds MACrossSource instances from optimizer parameter
// sets. Expected keys: fast, slow; optional: stop_pct, take_profit_pct.
func MACrossFactory(params types.ParamSet) (types.SignalSource, error) {
	fast := int(math.Round(params["fast"]))
	slow := int(math.Round(params["slow"]))
	return NewMACrossSource(fast, slow, params["stop_pct"], params["take_profit_pct"])
}

func sma(history []types.Bar, index, window int) float64 {
	if index+1 < window {
		return 0
	}
	var sum float64
	for i := index - window + 1; i <= index; i++ {
		sum += history[i].Close
	}
	return sum / float64(window)
}
