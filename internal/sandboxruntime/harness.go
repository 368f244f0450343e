package sandboxruntime

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-python/gpython/py"

	_ "github.com/go-python/gpython/builtin"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// driverSource is appended after the vetted user code and the
// indicator prelude. It calls the user's generate_signals against the
// pre-populated frame and leaves the resulting signal column in a
// module-level name the Go side reads back, rather than returning
// through Python's C-API-shaped call convention the original harness
// used. generate_signals is expected to return frame with a "signal"
// key/column added; a KeyError here surfaces as UserCodeRuntimeError.
const driverSource = `
if "generate_signals" not in globals() or not callable(generate_signals):
    raise NameError("generate_signals is missing or not callable")
_frame_out = generate_signals(frame)
_signal_result = _frame_out["signal"]
`

// buildFramePrelude renders the Python source that constructs the
// dict-of-columns Frame object handed to generate_signals. Spec §4.5
// step 3 describes the harness pre-populating "references to the
// price library and numeric library"; this repository expresses the
// Frame as a plain dict of equal-length column lists (date, close,
// and every indicator column) rather than an attribute-bearing
// object, because gpython's Dict/Module attribute protocol is not
// something this codebase can verify against a compiler — building
// the dict via an ordinary Python dict literal keeps every value
// gpython needs to construct a plain list of floats/strings, which is
// the most certain part of its object model. generate_signals reads
// columns as frame["close"], frame["sma_20"], etc. See DESIGN.md for
// the full rationale.
func buildFramePrelude(frame *models.PriceFrame, cols indicatorColumns) string {
	var b strings.Builder
	b.WriteString("frame = {\n")
	writeColumn(&b, "date", dateStrings(frame))
	writeColumn(&b, "close", closes(frame))
	writeColumn(&b, "sma_20", cols.sma20)
	writeColumn(&b, "sma_50", cols.sma50)
	writeColumn(&b, "sma_200", cols.sma200)
	writeColumn(&b, "rsi_14", cols.rsi14)
	writeColumn(&b, "macd_line", cols.macdLine)
	writeColumn(&b, "macd_signal", cols.macdSignal)
	writeColumn(&b, "atr_14", cols.atr14)
	b.WriteString("}\n")
	return b.String()
}

func writeColumn(b *strings.Builder, name string, values any) {
	fmt.Fprintf(b, "    %q: [", name)
	switch vs := values.(type) {
	case []string:
		for i, v := range vs {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%q", v)
		}
	case []float64:
		for i, v := range vs {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%v", v)
		}
	}
	b.WriteString("],\n")
}

func dateStrings(frame *models.PriceFrame) []string {
	out := make([]string, len(frame.Rows))
	for i, r := range frame.Rows {
		out[i] = r.Date.Format("2006-01-02")
	}
	return out
}

func closes(frame *models.PriceFrame) []float64 {
	out := make([]float64, len(frame.Rows))
	for i, r := range frame.Rows {
		out[i] = r.Close
	}
	return out
}

// runStrategy vets userCode, runs it inside a gpython interpreter
// together with the pre-populated Frame dict and the harness driver,
// and returns one signal value per row of frame. ctx governs the
// "outer governor" deadline spec §5 allows around the sandbox
// execution.
func runStrategy(ctx context.Context, userCode string, frame *models.PriceFrame) ([]int, error) {
	if err := vetSource(userCode); err != nil {
		return nil, err
	}

	cols := computeIndicators(frame)
	source := buildFramePrelude(frame, cols) + "\n" + userCode + "\n" + driverSource

	interp := py.NewContext(py.DefaultContextOpts())
	defer interp.Close()

	module, err := py.RunString(interp, source, "<generate_signals>", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUserCodeRuntime, err)
	}

	raw, ok := module.Globals["_signal_result"]
	if !ok {
		return nil, fmt.Errorf("%w: generate_signals did not return a \"signal\" column", common.ErrUserCodeRuntime)
	}

	signals, err := extractIntColumn(raw, len(frame.Rows))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUserCodeRuntime, err)
	}
	return signals, nil
}

// extractIntColumn converts a gpython list-like Object of numeric
// signal values (-1, 0, +1) back into a Go slice, padding short
// results with 0 (hold) rather than panicking on a malformed
// generate_signals return.
func extractIntColumn(obj py.Object, want int) ([]int, error) {
	list, ok := obj.(*py.List)
	if !ok {
		return nil, fmt.Errorf("signal column is not a list (got %T)", obj)
	}
	out := make([]int, want)
	for i := 0; i < want && i < len(list.Items); i++ {
		switch v := list.Items[i].(type) {
		case py.Int:
			out[i] = int(v)
		case py.Float:
			out[i] = int(v)
		default:
			return nil, fmt.Errorf("signal value at row %d is not numeric (got %T)", i, v)
		}
	}
	return out, nil
}
