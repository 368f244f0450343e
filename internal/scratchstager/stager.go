// Package scratchstager writes the three files a Sandbox Runtime
// invocation reads from its bind-mounted scratch directory: the
// verbatim user code, the serialized price frame, and the float-valued
// strategy configuration.
package scratchstager

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

const (
	codeFilename   = "code.py"
	dataFilename   = "data.pkl"
	configFilename = "config.txt"
)

// Stager writes staged inputs into a worker's scratch directory.
type Stager struct{}

// New returns a ready Stager.
func New() *Stager {
	return &Stager{}
}

// Stage writes code.py, data.pkl, and config.txt into worker's scratch
// directory, in that order. If any write fails partway through, the
// files already written are left in place — the pool's Release/Replace
// cleanup is responsible for clearing the directory, not the Stager.
func (s *Stager) Stage(ctx context.Context, worker *models.SandboxWorker, code string, frame *models.PriceFrame, config map[string]float64) (*models.StagedInputs, error) {
	codePath := filepath.Join(worker.ScratchDir, codeFilename)
	if err := os.WriteFile(codePath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", common.ErrStaging, codeFilename, err)
	}

	dataPath := filepath.Join(worker.ScratchDir, dataFilename)
	if err := writeFrame(dataPath, frame); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", common.ErrStaging, dataFilename, err)
	}

	configPath := filepath.Join(worker.ScratchDir, configFilename)
	if err := writeConfig(configPath, config); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", common.ErrStaging, configFilename, err)
	}

	return &models.StagedInputs{CodePath: codePath, DataPath: dataPath, ConfigPath: configPath}, nil
}

func writeFrame(path string, frame *models.PriceFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(frame)
}

// writeConfig emits deterministic key=value float lines, one per
// line, sorted by key so staged output is reproducible across runs.
func writeConfig(path string, config map[string]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := bufio.NewWriter(f)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, strconv.FormatFloat(config[k], 'f', -1, 64)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadFrame decodes a gob-encoded PriceFrame written by Stage; used by
// the Sandbox Runtime side of the contract.
func ReadFrame(path string) (*models.PriceFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frame models.PriceFrame
	if err := gob.NewDecoder(f).Decode(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
