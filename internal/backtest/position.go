package backtest

import (
	"time"

	"quantval/internal/types"
)

// position is the mutable state owned exclusively by the engine for the
// duration of a run. Exactly one open position exists per run at a time; it
// is converted into an immutable types.Trade the instant it closes.
type position struct {
	side       types.Side
	entryPrice float64 // ideal entry price before slippage
	fillPrice  float64 // actual entry fill including slippage
	size       float64
	stopLoss   float64
	takeProfit float64
	openedAt   time.Time
	entryBar   int

	entryFee      float64
	entrySlippage float64

	// Running excursions as fractions of the ideal entry price.
	maxAdverse   float64
	maxFavorable float64
}

// updateExcursions folds one bar's high/low into the running MAE/MFE.
func (p *position) updateExcursions(bar types.Bar) {
	if p.entryPrice == 0 {
		return
	}
	var adverse, favorable float64
	switch p.side {
	case types.SideLong:
		adverse = (p.entryPrice - bar.Low) / p.entryPrice
		favorable = (bar.High - p.entryPrice) / p.entryPrice
	case types.SideShort:
		adverse = (bar.High - p.entryPrice) / p.entryPrice
		favorable = (p.entryPrice - bar.Low) / p.entryPrice
	}
	if adverse > p.maxAdverse {
		p.maxAdverse = adverse
	}
	if favorable > p.maxFavorable {
		p.maxFavorable = favorable
	}
}

// unrealizedPnL marks the position to the given price using the actual fill.
func (p *position) unrealizedPnL(price float64) float64 {
	if p.side == types.SideLong {
		return (price - p.fillPrice) * p.size
	}
	return (p.fillPrice - price) * p.size
}

// stopTriggered returns the stop fill price if the bar's range crossed the
// stop level, else 0.
func (p *position) stopTriggered(bar types.Bar) float64 {
	if p.stopLoss == 0 {
		return 0
	}
	if p.side == types.SideLong && bar.Low <= p.stopLoss {
		return p.stopLoss
	}
	if p.side == types.SideShort && bar.High >= p.stopLoss {
		return p.stopLoss
	}
	return 0
}

// targetTriggered returns the take-profit fill price if the bar's range
// crossed the target level, else 0.
func (p *position) targetTriggered(bar types.Bar) float64 {
	if p.takeProfit == 0 {
		return 0
	}
	if p.side == types.SideLong && bar.High >= p.takeProfit {
		return p.takeProfit
	}
	if p.side == types.SideShort && bar.Low <= p.takeProfit {
		return p.takeProfit
	}
	return 0
}
