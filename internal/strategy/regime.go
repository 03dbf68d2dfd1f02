package strategy

import (
	"math"

	"quantval/internal/types"
)

// TrailingRegimeClassifier is a simple regime source based on trailing
// return and realized volatility over a lookback window. Production callers
// usually inject their own classifier; this one keeps trade tagging useful
// when none is supplied.
type TrailingRegimeClassifier struct {
	Window        int     // lookback bars, default 20
	TrendCutoff   float64 // absolute trailing return that counts as trending
	HighVolCutoff float64 // per-bar volatility above which the market is high-vol
	LowVolCutoff  float64 // per-bar volatility below which the market is low-vol
}

// NewTrailingRegimeClassifier returns a classifier with conventional
// defaults: 20-bar window, 5% trend cutoff, 3%/0.5% volatility cutoffs.
func NewTrailingRegimeClassifier() *TrailingRegimeClassifier {
	return &TrailingRegimeClassifier{
		Window:        20,
		TrendCutoff:   0.05,
		HighVolCutoff: 0.03,
		LowVolCutoff:  0.005,
	}
}

// Regime implements types.RegimeSource.
func (c *TrailingRegimeClassifier) Regime(index int, history []types.Bar) types.Regime {
	window := c.Window
	if window < 2 {
		window = 20
	}
	if index+1 < window {
		return types.RegimeUnknown
	}

	start := index - window + 1
	first := history[start].Close
	last := history[index].Close
	if first <= 0 {
		return types.RegimeUnknown
	}
	trailing := last/first - 1

	var returns []float64
	for i := start + 1; i <= index; i++ {
		prev := history[i-1].Close
		if prev > 0 {
			returns = append(returns, history[i].Close/prev-1)
		}
	}
	vol := stdDev(returns)

	switch {
	case vol >= c.HighVolCutoff:
		return types.RegimeHighVol
	case trailing >= c.TrendCutoff:
		return types.RegimeBullTrending
	case trailing <= -c.TrendCutoff:
		return types.RegimeBearTrending
	case vol <= c.LowVolCutoff:
		return types.RegimeLowVol
	default:
		return types.RegimeSideways
	}
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}
