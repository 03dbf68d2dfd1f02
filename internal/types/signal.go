package types

import (
	"fmt"
	"math"
	"sort"
)

// Action represents a strategy decision for one bar.
type Action string

const (
	ActionHold       Action = "hold"
	ActionEnterLong  Action = "enter_long"
	ActionEnterShort Action = "enter_short"
	ActionExit       Action = "exit"
)

// Signal represents a strategy decision plus optional protective levels.
// A zero StopLoss or TakeProfit means the level is not set.
type Signal struct {
	Action     Action  `json:"action"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// SignalSource produces a decision per bar given the visible history
// (bars[0..index]). Implementations may be rule-based or model-backed; the
// engine treats them as an opaque capability.
type SignalSource interface {
	Signal(index int, history []Bar) Signal
}

// SignalFactory builds a SignalSource from a concrete parameter set. Used by
// the optimizer and walk-forward analyzer to instantiate candidate
// strategies per trial.
type SignalFactory func(params ParamSet) (SignalSource, error)

// ParamSet represents one concrete parameter assignment.
type ParamSet map[string]float64

// Clone returns a deep copy of the parameter set.
func (p ParamSet) Clone() ParamSet {
	c := make(ParamSet, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Names returns the parameter names in sorted order. Deterministic iteration
// order is required for reproducible grid expansion and GA crossover.
func (p ParamSet) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParamRange represents a per-parameter search range. Step == 0 means the
// parameter is continuous; a positive step discretizes the range for grid
// search.
type ParamRange struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step,omitempty" yaml:"step,omitempty"`
}

// Validate checks the range for basic sanity.
func (r ParamRange) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
		return fmt.Errorf("parameter range contains NaN")
	}
	if r.Max < r.Min {
		return fmt.Errorf("parameter range inverted: max %v < min %v", r.Max, r.Min)
	}
	if r.Step < 0 {
		return fmt.Errorf("parameter step must be >= 0, got %v", r.Step)
	}
	return nil
}

// Values expands a discretized range into grid points. Continuous ranges
// (Step == 0) fall back to the two endpoints.
func (r ParamRange) Values() []float64 {
	if r.Step == 0 || r.Min == r.Max {
		if r.Min == r.Max {
			return []float64{r.Min}
		}
		return []float64{r.Min, r.Max}
	}
	var vs []float64
	// Index-based stepping avoids accumulating float error across the range.
	n := int(math.Floor((r.Max-r.Min)/r.Step + 1e-9))
	for i := 0; i <= n; i++ {
		vs = append(vs, r.Min+float64(i)*r.Step)
	}
	return vs
}

// RangeNames returns the parameter names of a range map in sorted order.
func RangeNames(ranges map[string]ParamRange) []string {
	names := make([]string, 0, len(ranges))
	for k := range ranges {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
