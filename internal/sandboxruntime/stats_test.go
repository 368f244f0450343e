package sandboxruntime

import (
	"math"
	"testing"

	"github.com/arcline-labs/backdrop/internal/models"
)

func flatFrame(n int) *models.PriceFrame {
	rows := make([]models.Bar, n)
	for i := range rows {
		rows[i] = models.Bar{Date: mustDate("2020-01-02").AddDate(0, 0, i), Close: 100}
	}
	return &models.PriceFrame{Symbol: "TEST", Rows: rows}
}

// An empty trade log: profitFactor must report 0.0, not "∞", since
// grossProfit and grossLoss are both 0.
func TestBuildReport_ProfitFactor_ZeroWhenNoTrades(t *testing.T) {
	frame := flatFrame(3)
	bt := backtestResult{equity: []float64{10000, 10000, 10000}}
	report := buildReport(frame, bt, 10000)

	if report.ProfitFactor != 0.0 {
		t.Errorf("ProfitFactor = %v, want 0.0 with no trades", report.ProfitFactor)
	}
	if report.AvgTradePnl != "N/A" {
		t.Errorf("AvgTradePnl = %v, want N/A with no trades", report.AvgTradePnl)
	}
	if report.AvgWinnerPnl != "N/A" || report.AvgLoserPnl != "N/A" {
		t.Errorf("AvgWinnerPnl/AvgLoserPnl should be N/A with no trades, got %v / %v", report.AvgWinnerPnl, report.AvgLoserPnl)
	}
}

// All-winning trades (no losses) drive profitFactor to the "∞" sentinel.
func TestBuildReport_ProfitFactor_InfinityWhenNoLosses(t *testing.T) {
	frame := flatFrame(3)
	bt := backtestResult{
		equity: []float64{10000, 10100, 10200},
		trades: []*models.Trade{
			{EntryPrice: 100, Quantity: 10, PnL: 100, Open: false},
			{EntryPrice: 100, Quantity: 10, PnL: 50, Open: false},
		},
	}
	report := buildReport(frame, bt, 10000)

	if report.ProfitFactor != "∞" {
		t.Errorf("ProfitFactor = %v, want ∞ sentinel", report.ProfitFactor)
	}
	if report.AvgLoserPnl != "N/A" {
		t.Errorf("AvgLoserPnl = %v, want N/A with zero losers", report.AvgLoserPnl)
	}
}

// A mixed win/loss set produces an ordinary float profitFactor.
func TestBuildReport_ProfitFactor_OrdinaryRatio(t *testing.T) {
	frame := flatFrame(3)
	bt := backtestResult{
		equity: []float64{10000, 10050, 10000},
		trades: []*models.Trade{
			{EntryPrice: 100, Quantity: 10, PnL: 100, Open: false},
			{EntryPrice: 100, Quantity: 10, PnL: -50, Open: false},
		},
	}
	report := buildReport(frame, bt, 10000)

	pf, ok := report.ProfitFactor.(float64)
	if !ok {
		t.Fatalf("ProfitFactor = %v (%T), want float64", report.ProfitFactor, report.ProfitFactor)
	}
	if math.Abs(pf-2.0) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 2.0 (100 gross profit / 50 gross loss)", pf)
	}
	if avg, ok := report.AvgWinnerPnl.(float64); !ok || math.Abs(avg-100) > 1e-9 {
		t.Errorf("AvgWinnerPnl = %v, want 100", report.AvgWinnerPnl)
	}
	if avg, ok := report.AvgLoserPnl.(float64); !ok || math.Abs(avg-(-50)) > 1e-9 {
		t.Errorf("AvgLoserPnl = %v, want -50", report.AvgLoserPnl)
	}
}

// A monotonically rising equity curve never draws down: Calmar hits
// the "∞" sentinel and the drawdown curve never goes negative.
func TestBuildReport_CalmarInfinity_AndZeroDrawdownOnMonotonicRise(t *testing.T) {
	frame := flatFrame(4)
	bt := backtestResult{equity: []float64{10000, 10100, 10200, 10300}}
	report := buildReport(frame, bt, 10000)

	if report.CalmarRatio != "∞" {
		t.Errorf("CalmarRatio = %v, want ∞ sentinel on a monotonic rise", report.CalmarRatio)
	}
	if report.MaxDrawdownPct != 0 {
		t.Errorf("MaxDrawdownPct = %v, want 0 on a monotonic rise", report.MaxDrawdownPct)
	}
	for _, p := range report.DrawdownCurve {
		if p.Value > 0 {
			t.Errorf("drawdown curve point %+v should never be positive", p)
		}
	}
}

// Property 8: drawdown is bounded — the curve never exceeds 0 and
// maxDrawdownPct is never positive, even on a volatile series.
func TestBuildReport_DrawdownCurveNeverExceedsZero(t *testing.T) {
	frame := flatFrame(5)
	bt := backtestResult{equity: []float64{10000, 10500, 9800, 10200, 9500}}
	report := buildReport(frame, bt, 10000)

	if report.MaxDrawdownPct > 0 {
		t.Errorf("MaxDrawdownPct = %v, must be <= 0", report.MaxDrawdownPct)
	}
	for _, p := range report.DrawdownCurve {
		if p.Value > 1e-12 {
			t.Errorf("drawdown curve point %+v exceeds zero", p)
		}
	}
}

// Property 7: capital conservation — finalCapital reported by
// buildReport matches the last point of runBacktest's own equity
// series; buildReport must not silently recompute or clamp it.
func TestBuildReport_FinalCapitalMatchesLastEquityPoint(t *testing.T) {
	frame := flatFrame(3)
	bt := backtestResult{equity: []float64{10000, 10500, 9800}}
	report := buildReport(frame, bt, 10000)

	if report.FinalCapital != bt.equity[len(bt.equity)-1] {
		t.Errorf("FinalCapital = %v, want %v", report.FinalCapital, bt.equity[len(bt.equity)-1])
	}
	if math.Abs(report.TotalReturn-(report.FinalCapital-10000)) > 1e-9 {
		t.Errorf("TotalReturn inconsistent with FinalCapital: %+v", report)
	}
}

func TestBuildReport_EmptyEquitySeries(t *testing.T) {
	frame := &models.PriceFrame{Symbol: "TEST"}
	bt := backtestResult{}
	report := buildReport(frame, bt, 10000)

	if report.FinalCapital != 10000 {
		t.Errorf("FinalCapital = %v, want unchanged initialCapital on an empty series", report.FinalCapital)
	}
	if report.SortinoRatio != 0.0 || report.CalmarRatio != 0.0 || report.ProfitFactor != 0.0 {
		t.Errorf("expected all ratio sentinels to be 0.0 on an empty series, got %+v", report)
	}
}

func TestSortino_InfinityWithNoNegativeExcessAndPositiveMean(t *testing.T) {
	excess := []float64{0.01, 0.02, 0.015}
	got := sortino(excess)
	if got != "∞" {
		t.Errorf("sortino = %v, want ∞ sentinel", got)
	}
}

func TestSortino_ZeroWithNoSamples(t *testing.T) {
	if got := sortino(nil); got != 0.0 {
		t.Errorf("sortino(nil) = %v, want 0.0", got)
	}
}

func TestSortino_OrdinaryRatioWithMixedSigns(t *testing.T) {
	excess := []float64{0.02, -0.01, 0.015, -0.02}
	got := sortino(excess)
	if _, ok := got.(float64); !ok {
		t.Errorf("sortino = %v (%T), want float64 with mixed-sign samples", got, got)
	}
}

func TestCleanSeries_DropsNaNAndInf(t *testing.T) {
	series := []float64{1, math.NaN(), 2, math.Inf(1), 3, math.Inf(-1)}
	cleaned := cleanSeries(series)
	if len(cleaned) != 3 {
		t.Fatalf("cleanSeries dropped to %d elements, want 3: %v", len(cleaned), cleaned)
	}
	for _, v := range cleaned {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("cleanSeries left a non-finite value: %v", v)
		}
	}
}

func TestPctChange_ZeroBaseYieldsZero(t *testing.T) {
	got := pctChange([]float64{0, 5})
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("pctChange with zero base = %v, want [0]", got)
	}
}

func TestPctChange_OrdinaryMove(t *testing.T) {
	got := pctChange([]float64{100, 110})
	if len(got) != 1 || math.Abs(got[0]-0.1) > 1e-9 {
		t.Errorf("pctChange = %v, want [0.1]", got)
	}
}
