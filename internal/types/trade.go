package types

import "time"

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Trade represents an immutable record created the instant a position
// closes. Trades are never mutated after creation.
type Trade struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	EntryPrice    float64       `json:"entry_price"`
	ExitPrice     float64       `json:"exit_price"`
	Size          float64       `json:"size"`
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      time.Time     `json:"exit_time"`
	EntryBar      int           `json:"entry_bar"`
	ExitBar       int           `json:"exit_bar"`
	GrossPnL      float64       `json:"gross_pnl"`
	Fees          float64       `json:"fees"`
	Slippage      float64       `json:"slippage"`
	Funding       float64       `json:"funding"`
	NetPnL        float64       `json:"net_pnl"`
	MAE           float64       `json:"mae"`
	MFE           float64       `json:"mfe"`
	HoldingPeriod time.Duration `json:"holding_period"`
	Regime        Regime        `json:"regime"`
	ExitReason    string        `json:"exit_reason"`
}

// Exit reasons recorded on trades.
const (
	ExitReasonSignal         = "signal"
	ExitReasonStopLoss       = "stop_loss"
	ExitReasonTakeProfit     = "take_profit"
	ExitReasonCircuitBreaker = "circuit_breaker"
	ExitReasonEndOfData      = "end_of_data"
)

// Return is the trade's net P&L as a fraction of the entry notional.
func (t Trade) Return() float64 {
	notional := t.EntryPrice * t.Size
	if notional == 0 {
		return 0
	}
	return t.NetPnL / notional
}
