package models

import "time"

// BacktestRequest is the Dispatcher's submission, translated by the
// HTTP layer from the body of POST /engine/execute/.
type BacktestRequest struct {
	Symbol             string             `json:"symbol"`
	Code               string             `json:"code"`
	Start              string             `json:"start"` // YYYY-MM-DD, inclusive
	End                string             `json:"end"`   // YYYY-MM-DD, inclusive
	InitialCapital     float64            `json:"initial_capital"`
	InvestmentPerTrade float64            `json:"investment_per_trade"`
	TradingMethod      int                `json:"trading_method"` // 0 = close-worst-first, 1 = close-best-first
	Parameters         map[string]float64 `json:"parameters,omitempty"`
	Submitter          string             `json:"-"` // rate-limit identity, never serialized to the sandbox
}

// TaskStatus enumerates the lifecycle of a submitted execution task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// TaskResult is the record addressed by TaskId and returned by GET
// /engine/task/<task_id>/.
type TaskResult struct {
	TaskID    string          `json:"task_id"`
	Status    TaskStatus      `json:"status"`
	Result    *StrategyResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Stderr    string          `json:"stderr,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Bar is one row of a price series keyed by calendar date.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open,omitempty"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
}

// PriceFrame is an immutable, ordered sequence of Bars for one symbol.
// Callers must Clone before mutating; Filter never mutates the receiver.
type PriceFrame struct {
	Symbol string `json:"symbol"`
	Rows   []Bar  `json:"rows"`
}

// Clone returns a shallow copy whose Rows slice is independent of the
// receiver's backing array, so a caller that appends or reorders it
// cannot corrupt the cached frame.
func (f *PriceFrame) Clone() *PriceFrame {
	rows := make([]Bar, len(f.Rows))
	copy(rows, f.Rows)
	return &PriceFrame{Symbol: f.Symbol, Rows: rows}
}

// TradeSide is the direction of a Trade. The backtest loop only ever
// opens LONG positions per spec §4.5, but the field is named so a
// future short-selling signal value has somewhere to go.
type TradeSide string

const (
	SideLong TradeSide = "LONG"
)

// Trade is one position opened and (eventually) closed by the strategy
// harness during a backtest run.
type Trade struct {
	EntryDate  time.Time `json:"entry_date"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Side       TradeSide `json:"side"`
	ExitDate   time.Time `json:"exit_date,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"` // "signal" or "end_of_series"
	PnL        float64   `json:"pnl"`
	Open       bool      `json:"-"` // loop bookkeeping only, never serialized
}

// CurvePoint is one {date, value} sample of an equity or drawdown
// curve, emitted with an ISO date per spec §4.5.
type CurvePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// StrategyResult is the full backtest report a Sandbox Runtime process
// emits to stdout as JSON. Ratio fields are `any` because a zero
// denominator sentinel is the string "∞", not a float, per spec §4.5.
type StrategyResult struct {
	InitialCapital       float64      `json:"initial_capital"`
	FinalCapital         float64      `json:"final_capital"`
	TotalReturn          float64      `json:"total_return"`
	TotalReturnPct       float64      `json:"total_return_pct"`
	MaxDrawdown          float64      `json:"max_drawdown"`
	MaxDrawdownPct       float64      `json:"max_drawdown_pct"`
	SharpeRatio          float64      `json:"sharpe_ratio"`
	SortinoRatio         any          `json:"sortino_ratio"`
	AnnualizedVolatility float64      `json:"annualized_volatility"`
	CalmarRatio          any          `json:"calmar_ratio"`
	WinRate              float64      `json:"win_rate"`
	ProfitFactor         any          `json:"profit_factor"`
	AvgTradePnl          any          `json:"avg_trade_pnl"`
	AvgWinnerPnl         any          `json:"avg_winner_pnl"`
	AvgLoserPnl          any          `json:"avg_loser_pnl"`
	NumTrades            int          `json:"num_trades"`
	EquityCurve          []CurvePoint `json:"equity_curve"`
	DrawdownCurve        []CurvePoint `json:"drawdown_curve"`
	Trades               []Trade      `json:"trades"`
}
