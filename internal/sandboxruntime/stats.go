package sandboxruntime

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/arcline-labs/backdrop/internal/models"
)

const (
	tradingDaysPerYear = 252
	riskFreeRate       = 0.02
)

// buildReport turns a raw backtestResult into the full StrategyResult
// statistics block per spec §4.5, dropping NaN/±Inf samples before
// any aggregation as the spec requires.
func buildReport(frame *models.PriceFrame, bt backtestResult, initialCapital float64) *models.StrategyResult {
	n := len(bt.equity)
	result := &models.StrategyResult{
		InitialCapital: initialCapital,
		NumTrades:      len(bt.trades),
	}
	if n == 0 {
		result.FinalCapital = initialCapital
		result.SortinoRatio = 0.0
		result.CalmarRatio = 0.0
		result.ProfitFactor = 0.0
		result.AvgTradePnl = "N/A"
		result.AvgWinnerPnl = "N/A"
		result.AvgLoserPnl = "N/A"
		return result
	}

	result.FinalCapital = bt.equity[n-1]
	result.TotalReturn = result.FinalCapital - initialCapital
	result.TotalReturnPct = (result.FinalCapital/initialCapital - 1) * 100

	equityCurve := make([]models.CurvePoint, n)
	drawdownCurve := make([]models.CurvePoint, n)
	runningMax := bt.equity[0]
	minDrawdown := 0.0
	for i := 0; i < n; i++ {
		date := frame.Rows[i].Date.Format("2006-01-02")
		equityCurve[i] = models.CurvePoint{Date: date, Value: bt.equity[i]}
		if bt.equity[i] > runningMax {
			runningMax = bt.equity[i]
		}
		dd := 0.0
		if runningMax != 0 {
			dd = (bt.equity[i] - runningMax) / runningMax
		}
		drawdownCurve[i] = models.CurvePoint{Date: date, Value: dd}
		if dd < minDrawdown {
			minDrawdown = dd
		}
	}
	result.EquityCurve = equityCurve
	result.DrawdownCurve = drawdownCurve
	result.MaxDrawdown = minDrawdown * initialCapital
	result.MaxDrawdownPct = minDrawdown * 100

	returns := cleanSeries(pctChange(bt.equity))
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - riskFreeRate/tradingDaysPerYear
	}

	result.SharpeRatio = sharpe(excess)
	result.SortinoRatio = sortino(excess)
	result.AnnualizedVolatility = volatility(returns)
	if result.MaxDrawdownPct == 0 {
		if result.TotalReturnPct > 0 {
			result.CalmarRatio = "∞"
		} else {
			result.CalmarRatio = 0.0
		}
	} else {
		result.CalmarRatio = result.TotalReturnPct / math.Abs(result.MaxDrawdownPct)
	}

	result.Trades = make([]models.Trade, len(bt.trades))
	var wins, grossProfit, grossLoss, totalPnl float64
	var winnerCount, loserCount int
	for i, t := range bt.trades {
		result.Trades[i] = *t
		totalPnl += t.PnL
		if t.PnL > 0 {
			wins++
			winnerCount++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			loserCount++
			grossLoss += -t.PnL
		}
	}
	if len(bt.trades) > 0 {
		result.WinRate = 100 * wins / float64(len(bt.trades))
		result.AvgTradePnl = totalPnl / float64(len(bt.trades))
	} else {
		result.WinRate = 0
		result.AvgTradePnl = "N/A"
	}
	if winnerCount > 0 {
		result.AvgWinnerPnl = grossProfit / float64(winnerCount)
	} else {
		result.AvgWinnerPnl = "N/A"
	}
	if loserCount > 0 {
		result.AvgLoserPnl = -grossLoss / float64(loserCount)
	} else {
		result.AvgLoserPnl = "N/A"
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			result.ProfitFactor = "∞"
		} else {
			result.ProfitFactor = 0.0
		}
	} else {
		result.ProfitFactor = grossProfit / grossLoss
	}

	return result
}

// pctChange returns the period-over-period fractional change of
// series, one element shorter than series.
func pctChange(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (series[i]-prev)/prev)
	}
	return out
}

// cleanSeries drops NaN and ±Inf samples per spec §4.5's aggregation
// rule.
func cleanSeries(series []float64) []float64 {
	out := make([]float64, 0, len(series))
	for _, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// sharpe returns √252 · mean(excess) / stdev(excess); a zero-sample
// result is 0.
func sharpe(excess []float64) float64 {
	if len(excess) == 0 {
		return 0
	}
	mean := stat.Mean(excess, nil)
	std := stat.StdDev(excess, nil)
	if std == 0 {
		return 0
	}
	return math.Sqrt(tradingDaysPerYear) * mean / std
}

// sortino divides mean(excess) by the stdev of negative excess
// samples only; returns "∞" when no negative sample exists and the
// mean is positive, else 0.0.
func sortino(excess []float64) any {
	if len(excess) == 0 {
		return 0.0
	}
	mean := stat.Mean(excess, nil)
	var negative []float64
	for _, v := range excess {
		if v < 0 {
			negative = append(negative, v)
		}
	}
	if len(negative) == 0 {
		if mean > 0 {
			return "∞"
		}
		return 0.0
	}
	std := stat.StdDev(negative, nil)
	if std == 0 {
		return 0.0
	}
	return math.Sqrt(tradingDaysPerYear) * mean / std
}

// volatility returns stdev(returns)·√252·100.
func volatility(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear) * 100
}
