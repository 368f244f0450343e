package sandboxruntime

import (
	"container/heap"
	"math"

	"github.com/arcline-labs/backdrop/internal/models"
)

// tradingMethod mirrors BacktestRequest.TradingMethod: 0 closes the
// worst-performing open trade first (loss-cutting), 1 closes the
// best-performing one first (profit-taking).
const (
	tradingMethodLossCutting  = 0
	tradingMethodProfitTaking = 1
)

// openTrade is one still-open position tracked on the priority heap,
// grounded on spec §4.5's "priority key equal to pnl when
// trading_method == 0, or -pnl when trading_method == 1".
type openTrade struct {
	trade    *models.Trade
	priority float64
	index    int // heap.Interface bookkeeping
}

// tradeHeap is a container/heap priority queue of open trades, the
// direct analogue of the original implementation's heapq usage (spec
// §9: "An optimisation (lazy deletion + dirty flag) is allowed but not
// required" — not taken here, for fidelity to the spec's literal
// reheap-every-step algorithm).
type tradeHeap []*openTrade

func (h tradeHeap) Len() int            { return len(h) }
func (h tradeHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h tradeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *tradeHeap) Push(x any) {
	ot := x.(*openTrade)
	ot.index = len(*h)
	*h = append(*h, ot)
}
func (h *tradeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func priorityFor(pnl float64, tradingMethod int) float64 {
	if tradingMethod == tradingMethodProfitTaking {
		return -pnl
	}
	return pnl
}

// backtestResult is the raw output of runBacktest before statistics
// are computed from it.
type backtestResult struct {
	equity  []float64 // one value per row, equity[0] == initialCapital
	trades  []*models.Trade
}

// runBacktest executes spec §4.5's backtest loop against frame using
// the signal column generate_signals produced, scanning from index 1
// (signal[0] is never acted on, per spec).
func runBacktest(frame *models.PriceFrame, signals []int, initialCapital, investmentPerTrade float64, tradingMethod int) backtestResult {
	n := len(frame.Rows)
	result := backtestResult{equity: make([]float64, n)}
	if n == 0 {
		return result
	}

	availableCapital := initialCapital
	result.equity[0] = initialCapital
	open := &tradeHeap{}
	heap.Init(open)

	for i := 1; i < n; i++ {
		price := frame.Rows[i].Close
		signal := 0
		if i < len(signals) {
			signal = signals[i]
		}

		switch {
		case signal == 1:
			quantity := math.Floor(investmentPerTrade / price)
			if quantity > 0 && quantity*price <= availableCapital {
				trade := &models.Trade{
					EntryDate:  frame.Rows[i].Date,
					EntryPrice: price,
					Quantity:   quantity,
					Side:       models.SideLong,
					Open:       true,
				}
				availableCapital -= quantity * price
				heap.Push(open, &openTrade{trade: trade, priority: priorityFor(0, tradingMethod)})
				result.trades = append(result.trades, trade)
			}
		case signal == -1 && open.Len() > 0:
			ot := heap.Pop(open).(*openTrade)
			t := ot.trade
			t.ExitDate = frame.Rows[i].Date
			t.ExitPrice = price
			t.ExitReason = "signal"
			t.PnL = (price - t.EntryPrice) * t.Quantity
			t.Open = false
			availableCapital += t.Quantity * price
		}

		// Mark-to-market: carry equity forward, then accrue each open
		// trade's move since the previous close into both equity and
		// the trade's running pnl, and reheap since priorities moved.
		result.equity[i] = result.equity[i-1]
		prevClose := frame.Rows[i-1].Close
		delta := price - prevClose
		*open = rebuildHeap(*open, func(ot *openTrade) {
			move := delta * ot.trade.Quantity
			result.equity[i] += move
			ot.trade.PnL += move
			ot.priority = priorityFor(ot.trade.PnL, tradingMethod)
		})
		heap.Init(open)
	}

	// End-of-series liquidation at the last close.
	lastPrice := frame.Rows[n-1].Close
	lastDate := frame.Rows[n-1].Date
	for open.Len() > 0 {
		ot := heap.Pop(open).(*openTrade)
		t := ot.trade
		t.ExitDate = lastDate
		t.ExitPrice = lastPrice
		t.ExitReason = "end_of_series"
		t.PnL = (lastPrice - t.EntryPrice) * t.Quantity
		t.Open = false
	}

	return result
}

// rebuildHeap applies fn to every element of h and returns the same
// backing slice, used to mutate pnl/priority in place before the
// caller re-heapifies.
func rebuildHeap(h tradeHeap, fn func(*openTrade)) tradeHeap {
	for _, ot := range h {
		fn(ot)
	}
	return h
}
