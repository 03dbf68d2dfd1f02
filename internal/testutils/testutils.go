// Package testutils provides the synthetic market data shared by the package
// tests: deterministic bar series with known shapes (trend, sine, flat) so
// tests can assert exact outcomes instead of fuzzy ranges.
package testutils

import (
	"math"
	"time"

	"quantval/internal/types"
)

// Epoch anchors all synthetic series to a fixed instant so test runs never
// depend on the wall clock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// BarSpec shapes a synthetic bar series.
type BarSpec struct {
	N       int
	Start   float64
	Spacing time.Duration
	Volume  float64

	// DriftPerBar compounds the close by (1+drift) each bar.
	DriftPerBar float64

	// SineAmp and SinePeriod overlay a sine wave on the drifted close.
	SineAmp    float64
	SinePeriod float64
}

// Series renders a full OHLCV series: the open is the previous close, and
// high/low envelop both by a small margin.
func Series(s BarSpec) []types.Bar {
	if s.Spacing == 0 {
		s.Spacing = 24 * time.Hour
	}
	if s.Volume == 0 {
		s.Volume = 1_000_000
	}

	closes := make([]float64, s.N)
	price := s.Start
	for i := range closes {
		c := price
		if s.SineAmp > 0 && s.SinePeriod > 0 {
			c += s.SineAmp * math.Sin(2*math.Pi*float64(i)/s.SinePeriod)
		}
		closes[i] = c
		price *= 1 + s.DriftPerBar
	}

	bars := make([]types.Bar, s.N)
	prev := closes[0]
	for i, c := range closes {
		hi, lo := prev, c
		if hi < lo {
			hi, lo = lo, hi
		}
		bars[i] = types.Bar{
			Timestamp: Epoch.Add(time.Duration(i) * s.Spacing),
			Open:      prev,
			High:      hi * 1.001,
			Low:       lo * 0.999,
			Close:     c,
			Volume:    s.Volume,
		}
		prev = c
	}
	return bars
}

// Uptrend is n daily bars compounding up by rate per bar from 100.
func Uptrend(n int, rate float64) []types.Bar {
	return Series(BarSpec{N: n, Start: 100, DriftPerBar: rate})
}

// Downtrend is n daily bars compounding down by rate per bar from 100.
func Downtrend(n int, rate float64) []types.Bar {
	return Series(BarSpec{N: n, Start: 100, DriftPerBar: -rate})
}

// Sine is n daily bars oscillating around 100 with the given amplitude and
// period, which reliably produces moving-average crossings.
func Sine(n int, amp, period float64) []types.Bar {
	return Series(BarSpec{N: n, Start: 100, SineAmp: amp, SinePeriod: period})
}

// Flat is n daily bars pinned at the given price.
func Flat(n int, price float64) []types.Bar {
	return Series(BarSpec{N: n, Start: price})
}
