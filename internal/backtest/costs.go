package backtest

import (
	"math"

	"quantval/internal/types"
)

// costModel prices the frictions of a fill: slippage, maker/taker fees and
// funding. It is a pure function of the run configuration plus per-fill
// inputs, so identical runs always pay identical costs.
type costModel struct {
	cfg Config
}

// slippagePerUnit returns the per-unit price concession for an order of the
// given size against the given bar: fixed bps + volume impact + volatility
// impact, plus the stop penalty when the fill is a triggered stop.
func (c costModel) slippagePerUnit(price, size float64, bar types.Bar, realizedVol float64, isStop bool) float64 {
	bps := c.cfg.SlippageBps
	if isStop {
		bps += c.cfg.StopPenaltyBps
	}
	frac := bps / 10_000
	if bar.Volume > 0 {
		frac += c.cfg.VolumeImpactFactor * (size / bar.Volume)
	}
	frac += c.cfg.VolatilityImpactFactor * realizedVol
	return price * frac
}

// fee returns the fee paid on the given notional. Passive fills (resting
// take-profit orders) pay the maker rate, aggressive fills pay taker.
func (c costModel) fee(notional float64, passive bool) float64 {
	if passive {
		return math.Abs(notional) * c.cfg.MakerFeeRate
	}
	return math.Abs(notional) * c.cfg.TakerFeeRate
}

// funding returns the funding charge for a position held across funding
// interval boundaries. Boundaries are multiples of the interval measured
// from the Unix epoch; the rate applies to the entry notional once per
// boundary crossed.
func (c costModel) funding(openedAt, closedAt int64, notional float64) float64 {
	interval := int64(c.cfg.FundingInterval.Seconds())
	if interval <= 0 || closedAt <= openedAt {
		return 0
	}
	crossings := closedAt/interval - openedAt/interval
	if crossings <= 0 {
		return 0
	}
	return float64(crossings) * c.cfg.FundingRate * math.Abs(notional)
}

// realizedVolatility is the sample standard deviation of simple returns over
// the trailing window of valid closes. The window length is cfg.VolatilityWindow;
// with fewer than two closes it is zero.
func realizedVolatility(closes []float64, window int) float64 {
	if len(closes) < 2 {
		return 0
	}
	start := len(closes) - window - 1
	if start < 0 {
		start = 0
	}
	var returns []float64
	for i := start + 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(returns)-1))
}
