// Package backtest implements the execution simulator: a deterministic,
// single-threaded replay of one (symbol, parameter set, date range) against
// historical bars and an opaque signal source. All randomness-free state
// (position, circuit breaker latch, running peak) is owned by the run and
// never shared.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "quantval/internal/errors"
	"quantval/internal/logger"
	"quantval/internal/metrics"
	"quantval/internal/telemetry"
	"quantval/internal/types"
)

// Engine replays bars against a signal source and produces one Result per
// invocation. A single run is strictly sequential; concurrency happens above
// the engine, never inside it.
type Engine struct {
	cfg  Config
	cost costModel
	log  logger.Logger
	tel  *telemetry.Metrics
}

// Result owns the full trade sequence, the equity curve and the computed
// metrics for one run. It is immutable once returned.
type Result struct {
	RunID          string              `json:"run_id"`
	Symbol         string              `json:"symbol"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        time.Time           `json:"end_time"`
	InitialCapital float64             `json:"initial_capital"`
	FinalEquity    float64             `json:"final_equity"`
	Parameters     types.ParamSet      `json:"parameters,omitempty"`
	Trades         []types.Trade       `json:"trades"`
	EquityCurve    []types.EquityPoint `json:"equity_curve"`
	Metrics        *metrics.Metrics    `json:"metrics"`
	Warnings       []types.Warning     `json:"warnings,omitempty"`

	CircuitBreakerTripped bool `json:"circuit_breaker_tripped"`
	CircuitBreakerBar     int  `json:"circuit_breaker_bar"`
}

// NewEngine validates the configuration once and returns a reusable engine.
// tel may be nil; log defaults to a no-op logger.
func NewEngine(cfg Config, log logger.Logger, tel *telemetry.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{cfg: cfg, cost: costModel{cfg: cfg}, log: log, tel: tel}, nil
}

// Config returns the engine's validated configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run replays the bar series in time order. regimes may be nil, in which
// case trades are tagged RegimeUnknown. The run is deterministic: identical
// inputs produce identical trades, equity curve and metrics.
func (e *Engine) Run(ctx context.Context, bars []types.Bar, src types.SignalSource, regimes types.RegimeSource) (*Result, error) {
	started := time.Now()
	if src == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "signal source is required")
	}
	if len(bars) < 2 {
		e.tel.ObserveSimulation("rejected", time.Since(started))
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "need at least 2 bars, got %d", len(bars))
	}

	st := &runState{
		engine:     e,
		bars:       bars,
		src:        src,
		regimes:    regimes,
		cash:       e.cfg.InitialCapital,
		peak:       e.cfg.InitialCapital,
		breakerBar: -1,
		lastValid:  -1,
	}

	for i, bar := range bars {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				e.tel.ObserveSimulation("cancelled", time.Since(started))
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCancelled, "simulation cancelled")
			default:
			}
		}
		st.step(i, bar)
	}

	// A position still open at the end of data is closed on the last valid
	// bar so every round trip produces a trade.
	if st.pos != nil && st.lastValid >= 0 {
		last := bars[st.lastValid]
		st.closePosition(st.lastValid, last, last.Close, false, false, types.ExitReasonEndOfData)
		// The final curve point was marked with the position still open;
		// restate it with the realized cash balance.
		st.lastEquity = st.cash
		st.curve[len(st.curve)-1].Equity = st.cash
	}

	res := &Result{
		RunID:                 uuid.NewString(),
		Symbol:                e.cfg.Symbol,
		InitialCapital:        e.cfg.InitialCapital,
		FinalEquity:           st.lastEquity,
		Trades:                st.trades,
		EquityCurve:           st.curve,
		Metrics:               metrics.Calculate(st.trades, st.curve, nil),
		Warnings:              st.warnings,
		CircuitBreakerTripped: st.breakerTripped,
		CircuitBreakerBar:     st.breakerBar,
	}
	if len(st.curve) > 0 {
		res.StartTime = st.curve[0].Timestamp
		res.EndTime = st.curve[len(st.curve)-1].Timestamp
	}

	e.tel.ObserveSimulation("completed", time.Since(started))
	e.log.Debug("simulation complete",
		"symbol", e.cfg.Symbol,
		"bars", len(bars),
		"trades", len(res.Trades),
		"final_equity", res.FinalEquity,
		"breaker", res.CircuitBreakerTripped,
	)
	return res, nil
}

// runState carries the mutable per-run state. It lives on the stack of a
// single Run call and is never shared.
type runState struct {
	engine  *Engine
	bars    []types.Bar
	src     types.SignalSource
	regimes types.RegimeSource

	cash   float64
	pos    *position
	closes []float64

	trades   []types.Trade
	curve    []types.EquityPoint
	warnings []types.Warning

	peak           float64
	lastEquity     float64
	lastTimestamp  time.Time
	lastValid      int
	breakerTripped bool
	breakerBar     int
	tradeSeq       int
}

func (st *runState) step(i int, bar types.Bar) {
	if !bar.Valid() {
		st.warn(i, bar, types.WarnMalformedBar, "bar has non-finite price or zero volume")
		return
	}
	if !st.lastTimestamp.IsZero() && !bar.Timestamp.After(st.lastTimestamp) {
		st.warn(i, bar, types.WarnNonMonotonicBar, "bar timestamp does not advance")
		return
	}
	st.lastTimestamp = bar.Timestamp
	st.lastValid = i

	// A tripped breaker force-closes on the following bar and permanently
	// suspends new entries. The latch never resets within a run.
	if st.breakerTripped && st.pos != nil && i > st.breakerBar {
		st.closePosition(i, bar, bar.Open, false, false, types.ExitReasonCircuitBreaker)
	}

	if st.pos != nil {
		st.pos.updateExcursions(bar)
		if stop := st.pos.stopTriggered(bar); stop > 0 {
			st.closePosition(i, bar, stop, false, true, types.ExitReasonStopLoss)
		} else if target := st.pos.targetTriggered(bar); target > 0 {
			st.closePosition(i, bar, target, true, false, types.ExitReasonTakeProfit)
		}
	}

	sig := st.engine.sanitize(st.src.Signal(i, st.bars[:i+1]))
	switch sig.Action {
	case types.ActionExit:
		if st.pos != nil {
			st.closePosition(i, bar, bar.Close, false, false, types.ExitReasonSignal)
		}
	case types.ActionEnterLong:
		if st.pos == nil && !st.breakerTripped {
			st.openPosition(i, bar, types.SideLong, sig)
		}
	case types.ActionEnterShort:
		if st.pos == nil && !st.breakerTripped {
			st.openPosition(i, bar, types.SideShort, sig)
		}
	}

	st.closes = append(st.closes, bar.Close)
	st.appendEquity(bar)

	if st.lastEquity > st.peak {
		st.peak = st.lastEquity
	}
	if !st.breakerTripped && st.peak > 0 {
		dd := (st.peak - st.lastEquity) / st.peak
		if dd > st.engine.cfg.CircuitBreakerThreshold {
			st.breakerTripped = true
			st.breakerBar = i
			st.warn(i, bar, types.WarnCircuitBreakerTrip,
				fmt.Sprintf("drawdown %.4f exceeded threshold %.4f", dd, st.engine.cfg.CircuitBreakerThreshold))
			st.engine.tel.IncCircuitBreakerTrip()
		}
	}
}

func (st *runState) appendEquity(bar types.Bar) {
	equity := st.cash
	if st.pos != nil {
		equity += st.pos.unrealizedPnL(bar.Close)
	}
	st.lastEquity = equity
	st.curve = append(st.curve, types.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
}

// openPosition sizes and opens a position at the bar close. Entries that
// would exceed capital or leverage limits are rejected without error and
// without creating a trade.
func (st *runState) openPosition(i int, bar types.Bar, side types.Side, sig types.Signal) {
	cfg := st.engine.cfg
	equity := st.cash
	if equity <= 0 {
		return
	}
	price := bar.Close

	notional := cfg.MaxPositionFraction * equity
	if sig.StopLoss > 0 {
		dist := price - sig.StopLoss
		if side == types.SideShort {
			dist = sig.StopLoss - price
		}
		if dist <= 0 {
			// Stop already past the entry price: reject, no trade.
			return
		}
		riskNotional := cfg.RiskPerTrade * equity * price / dist
		if riskNotional < notional {
			notional = riskNotional
		}
	}
	if notional > equity*cfg.MaxLeverage {
		notional = equity * cfg.MaxLeverage
	}
	if notional <= 0 {
		return
	}

	size := notional / price
	vol := realizedVolatility(st.closes, cfg.VolatilityWindow)
	slipUnit := st.engine.cost.slippagePerUnit(price, size, bar, vol, false)

	fill := price + slipUnit
	if side == types.SideShort {
		fill = price - slipUnit
	}
	if fill <= 0 {
		return
	}
	entryFee := st.engine.cost.fee(fill*size, false)
	if entryFee >= st.cash {
		return
	}
	st.cash -= entryFee

	st.pos = &position{
		side:          side,
		entryPrice:    price,
		fillPrice:     fill,
		size:          size,
		stopLoss:      sig.StopLoss,
		takeProfit:    sig.TakeProfit,
		openedAt:      bar.Timestamp,
		entryBar:      i,
		entryFee:      entryFee,
		entrySlippage: slipUnit * size,
	}
}

// closePosition converts the open position into an immutable trade at the
// given ideal price, applying exit slippage, maker/taker fee and any funding
// charges accrued across interval boundaries.
func (st *runState) closePosition(i int, bar types.Bar, idealPrice float64, passive, isStop bool, reason string) {
	pos := st.pos
	st.pos = nil

	vol := realizedVolatility(st.closes, st.engine.cfg.VolatilityWindow)
	slipUnit := st.engine.cost.slippagePerUnit(idealPrice, pos.size, bar, vol, isStop)

	fill := idealPrice - slipUnit
	if pos.side == types.SideShort {
		fill = idealPrice + slipUnit
	}

	exitFee := st.engine.cost.fee(fill*pos.size, passive)
	entryNotional := pos.entryPrice * pos.size
	funding := st.engine.cost.funding(pos.openedAt.Unix(), bar.Timestamp.Unix(), entryNotional)

	gross := (idealPrice - pos.entryPrice) * pos.size
	if pos.side == types.SideShort {
		gross = (pos.entryPrice - idealPrice) * pos.size
	}
	slippageCost := pos.entrySlippage + slipUnit*pos.size
	fees := pos.entryFee + exitFee
	net := gross - slippageCost - fees - funding

	st.cash += gross - slippageCost - exitFee - funding

	regime := types.RegimeUnknown
	if st.regimes != nil {
		regime = st.regimes.Regime(i, st.bars[:i+1])
	}

	st.tradeSeq++
	st.trades = append(st.trades, types.Trade{
		ID:            fmt.Sprintf("trade-%04d", st.tradeSeq),
		Symbol:        st.engine.cfg.Symbol,
		Side:          pos.side,
		EntryPrice:    pos.fillPrice,
		ExitPrice:     fill,
		Size:          pos.size,
		EntryTime:     pos.openedAt,
		ExitTime:      bar.Timestamp,
		EntryBar:      pos.entryBar,
		ExitBar:       i,
		GrossPnL:      gross,
		Fees:          fees,
		Slippage:      slippageCost,
		Funding:       funding,
		NetPnL:        net,
		MAE:           pos.maxAdverse,
		MFE:           pos.maxFavorable,
		HoldingPeriod: bar.Timestamp.Sub(pos.openedAt),
		Regime:        regime,
		ExitReason:    reason,
	})
}

func (st *runState) warn(i int, bar types.Bar, code, message string) {
	st.warnings = append(st.warnings, types.Warning{
		BarIndex:  i,
		Timestamp: bar.Timestamp,
		Code:      code,
		Message:   message,
	})
	st.engine.tel.IncDataWarning(code)
}

// sanitize drops protective levels that are non-finite so a noisy signal
// source cannot poison position state.
func (e *Engine) sanitize(sig types.Signal) types.Signal {
	if !isFinite(sig.StopLoss) || sig.StopLoss < 0 {
		sig.StopLoss = 0
	}
	if !isFinite(sig.TakeProfit) || sig.TakeProfit < 0 {
		sig.TakeProfit = 0
	}
	return sig
}
