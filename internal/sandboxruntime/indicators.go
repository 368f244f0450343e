package sandboxruntime

import (
	"math"

	"github.com/arcline-labs/backdrop/internal/models"
)

// Indicator columns pre-populated onto the Frame object before
// generate_signals runs, adapted from the teacher's internal/signals
// indicator package. The teacher's functions assume bars[0] is the
// most recent row (descending date order); this adaptation assumes
// the ascending order the staged PriceFrame always uses, so every
// "look back i rows" becomes "look back from the current index i"
// rather than "skip forward from index 0".

// sma returns the simple moving average of bars[i-period+1 : i+1],
// or 0 if fewer than period rows are available up to i.
func sma(bars []models.Bar, i, period int) float64 {
	if i+1 < period {
		return 0
	}
	sum := 0.0
	for k := i - period + 1; k <= i; k++ {
		sum += bars[k].Close
	}
	return sum / float64(period)
}

// ema returns the exponential moving average at i, seeded by the
// simple moving average of the first period rows of bars and then
// smoothed forward one row at a time up to i.
func ema(bars []models.Bar, i, period int) float64 {
	if i+1 < period {
		return 0
	}
	value := sma(bars, period-1, period)
	multiplier := 2.0 / float64(period+1)
	for k := period; k <= i; k++ {
		value = (bars[k].Close-value)*multiplier + value
	}
	return value
}

// rsi returns the Relative Strength Index over the period rows ending
// at i, 50 (neutral) if there isn't enough history.
func rsi(bars []models.Bar, i, period int) float64 {
	if i+1 < period+1 {
		return 50
	}
	var gains, losses float64
	for k := i - period + 1; k <= i; k++ {
		change := bars[k].Close - bars[k-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// macd returns the MACD line, a signal line taken as 0.9 times the
// MACD line (not an EMA of it), and their difference (histogram) at
// row i.
func macd(bars []models.Bar, i, fastPeriod, slowPeriod int) (line, signal, histogram float64) {
	if i+1 < slowPeriod {
		return 0, 0, 0
	}
	fastEMA := ema(bars, i, fastPeriod)
	slowEMA := ema(bars, i, slowPeriod)
	line = fastEMA - slowEMA
	signal = line * 0.9
	histogram = line - signal
	return line, signal, histogram
}

// atr returns the Average True Range over the period rows ending at
// row i.
func atr(bars []models.Bar, i, period int) float64 {
	if i+1 < period+1 {
		return 0
	}
	var sum float64
	for k := i - period + 1; k <= i; k++ {
		high, low, prevClose := bars[k].High, bars[k].Low, bars[k-1].Close
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)
		sum += math.Max(tr1, math.Max(tr2, tr3))
	}
	return sum / float64(period)
}

// indicatorColumns is the fixed set of indicator series pre-computed
// over an entire frame and exposed to user code, keyed by the column
// name the Frame object exposes them under.
type indicatorColumns struct {
	sma20, sma50, sma200 []float64
	rsi14                []float64
	macdLine, macdSignal []float64
	atr14                []float64
}

// computeIndicators pre-populates every indicator column for frame,
// one value per row, so generate_signals sees them as plain numeric
// series aligned to the date index.
func computeIndicators(frame *models.PriceFrame) indicatorColumns {
	n := len(frame.Rows)
	cols := indicatorColumns{
		sma20:      make([]float64, n),
		sma50:      make([]float64, n),
		sma200:     make([]float64, n),
		rsi14:      make([]float64, n),
		macdLine:   make([]float64, n),
		macdSignal: make([]float64, n),
		atr14:      make([]float64, n),
	}
	for i := range frame.Rows {
		cols.sma20[i] = sma(frame.Rows, i, 20)
		cols.sma50[i] = sma(frame.Rows, i, 50)
		cols.sma200[i] = sma(frame.Rows, i, 200)
		cols.rsi14[i] = rsi(frame.Rows, i, 14)
		cols.macdLine[i], cols.macdSignal[i], _ = macd(frame.Rows, i, 12, 26)
		cols.atr14[i] = atr(frame.Rows, i, 14)
	}
	return cols
}
