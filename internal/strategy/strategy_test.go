package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantval/internal/testutils"
	"quantval/internal/types"
)

func TestHoldSourceEntersOnceAndHolds(t *testing.T) {
	bars := testutils.Uptrend(10, 0.01)
	src := HoldSource{}

	assert.Equal(t, types.ActionEnterLong, src.Signal(0, bars[:1]).Action)
	for i := 1; i < len(bars); i++ {
		assert.Equal(t, types.ActionHold, src.Signal(i, bars[:i+1]).Action)
	}
}

func TestMACrossDetectsCrossings(t *testing.T) {
	src, err := NewMACrossSource(3, 6, 0, 0)
	require.NoError(t, err)

	bars := testutils.Sine(60, 10, 20)
	var entries, exits int
	for i := range bars {
		switch src.Signal(i, bars[:i+1]).Action {
		case types.ActionEnterLong:
			entries++
		case types.ActionExit:
			exits++
		}
	}
	// A 20-bar sine over 60 bars crosses the averages repeatedly.
	assert.Greater(t, entries, 1)
	assert.Greater(t, exits, 1)
}

func TestMACrossAttachesProtectiveLevels(t *testing.T) {
	src, err := NewMACrossSource(3, 6, 0.05, 0.10)
	require.NoError(t, err)

	bars := testutils.Sine(60, 10, 20)
	for i := range bars {
		sig := src.Signal(i, bars[:i+1])
		if sig.Action != types.ActionEnterLong {
			continue
		}
		close := bars[i].Close
		assert.InEpsilon(t, close*0.95, sig.StopLoss, 1e-9)
		assert.InEpsilon(t, close*1.10, sig.TakeProfit, 1e-9)
		return
	}
	t.Fatal("no entry signal produced")
}

func TestMACrossShortSide(t *testing.T) {
	src, err := NewMACrossSource(3, 6, 0.05, 0.10)
	require.NoError(t, err)
	src.AllowShort = true

	bars := testutils.Sine(60, 10, 20)
	for i := range bars {
		sig := src.Signal(i, bars[:i+1])
		if sig.Action != types.ActionEnterShort {
			continue
		}
		close := bars[i].Close
		// Short levels sit on the opposite sides of the entry.
		assert.InEpsilon(t, close*1.05, sig.StopLoss, 1e-9)
		assert.InEpsilon(t, close*0.90, sig.TakeProfit, 1e-9)
		return
	}
	t.Fatal("no short entry signal produced")
}

func TestMACrossWarmupHolds(t *testing.T) {
	src, err := NewMACrossSource(3, 6, 0, 0)
	require.NoError(t, err)

	bars := testutils.Sine(60, 10, 20)
	for i := 0; i <= 6; i++ {
		assert.Equal(t, types.ActionHold, src.Signal(i, bars[:i+1]).Action)
	}
}

func TestNewMACrossSourceValidation(t *testing.T) {
	_, err := NewMACrossSource(0, 6, 0, 0)
	assert.Error(t, err)
	_, err = NewMACrossSource(6, 6, 0, 0)
	assert.Error(t, err)
	_, err = NewMACrossSource(3, 6, 1.0, 0)
	assert.Error(t, err)
	_, err = NewMACrossSource(3, 6, 0, -0.1)
	assert.Error(t, err)
}

func TestMACrossFactoryRoundsLookbacks(t *testing.T) {
	src, err := MACrossFactory(types.ParamSet{"fast": 4.6, "slow": 19.2})
	require.NoError(t, err)

	cross, ok := src.(*MACrossSource)
	require.True(t, ok)
	assert.Equal(t, 5, cross.Fast)
	assert.Equal(t, 19, cross.Slow)
}

func TestMACrossFactoryRejectsBadParams(t *testing.T) {
	_, err := MACrossFactory(types.ParamSet{"fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestTrailingRegimeClassifier(t *testing.T) {
	c := NewTrailingRegimeClassifier()

	up := testutils.Uptrend(40, 0.01)
	assert.Equal(t, types.RegimeUnknown, c.Regime(5, up[:6]))
	assert.Equal(t, types.RegimeBullTrending, c.Regime(39, up))

	down := testutils.Downtrend(40, 0.01)
	assert.Equal(t, types.RegimeBearTrending, c.Regime(39, down))

	flat := testutils.Flat(40, 100)
	assert.Equal(t, types.RegimeLowVol, c.Regime(39, flat))
}
