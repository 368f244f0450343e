// Package sandboxruntime implements the Sandbox Runtime (SR): the
// process that runs inside each sandbox worker, statically vets the
// staged user code, binds it into the fixed strategy harness, runs
// the backtest loop, and emits a StrategyResult as JSON.
package sandboxruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arcline-labs/backdrop/internal/scratchstager"
)

// Exit codes reserved by spec §4.5 step 1/2.
const (
	ExitMissingInput = 2
	ExitCodeRejected = 1
	ExitOK           = 0
)

// Execute is cmd/sandbox-execute's entire job: read the three staged
// files from dir, run the backtest, and write the StrategyResult JSON
// to out. It returns the process exit code the caller should use.
func Execute(ctx context.Context, dir string, out io.Writer, stderr io.Writer) int {
	codePath := dir + "/code.py"
	dataPath := dir + "/data.pkl"
	configPath := dir + "/config.txt"

	code, err := os.ReadFile(codePath)
	if err != nil {
		fmt.Fprintf(stderr, "reading code.py: %v\n", err)
		return ExitMissingInput
	}
	frame, err := scratchstager.ReadFrame(dataPath)
	if err != nil {
		fmt.Fprintf(stderr, "reading data.pkl: %v\n", err)
		return ExitMissingInput
	}
	config, err := readConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "reading config.txt: %v\n", err)
		return ExitMissingInput
	}

	// Spec §4.5 reserves exit 1 for both a rejected static vet and a
	// missing/non-callable/raising generate_signals — there is no
	// third exit code for a user-code runtime fault.
	signals, err := runStrategy(ctx, string(code), frame)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return ExitCodeRejected
	}

	initialCapital := config["initialCapital"]
	investmentPerTrade := config["investmentPerTrade"]
	tradingMethod := int(config["trading_method"])

	bt := runBacktest(frame, signals, initialCapital, investmentPerTrade, tradingMethod)
	report := buildReport(frame, bt, initialCapital)

	enc := json.NewEncoder(out)
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "encoding result: %v\n", err)
		return ExitCodeRejected
	}
	return ExitOK
}

// readConfig parses config.txt's key=value lines (written by
// scratchstager's writeConfig) into a float map.
func readConfig(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	config := make(map[string]float64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
		config[key] = f
	}
	return config, scanner.Err()
}
