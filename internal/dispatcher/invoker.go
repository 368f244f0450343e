package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/interfaces"
	"github.com/arcline-labs/backdrop/internal/models"
)

// execTarget is the subset of interfaces.SandboxPool the invoker
// needs: running the Sandbox Runtime command inside an already-leased
// worker's container.
type execTarget interface {
	Exec(ctx context.Context, workerID string, cmd []string) (exitCode int, output []byte, err error)
}

// ContainerInvoker implements interfaces.SandboxRuntimeInvoker by
// docker-exec'ing /app/execute inside the leased worker's container
// (spec §4.4 step 5) and parsing its stdout as a StrategyResult. Exit
// code 2 (missing/unreadable staged input) and exit code 1 (rejected
// or faulting user code) are distinguished so the executor can decide
// whether stderr should be surfaced without retrying — neither is
// ever retried, per spec's failure semantics.
type ContainerInvoker struct {
	pool execTarget
}

// NewContainerInvoker wraps pool for use as a Dispatcher's
// SandboxRuntimeInvoker.
func NewContainerInvoker(pool interfaces.SandboxPool) *ContainerInvoker {
	return &ContainerInvoker{pool: pool}
}

const sandboxEntrypoint = "/app/execute"

func (i *ContainerInvoker) Run(ctx context.Context, worker *models.SandboxWorker, staged *models.StagedInputs) (*models.StrategyResult, error) {
	exitCode, output, err := i.pool.Exec(ctx, worker.ID, []string{sandboxEntrypoint})
	if err != nil {
		return nil, &SandboxInvokeError{Err: fmt.Errorf("%w: %v", common.ErrSandboxTransient, err)}
	}

	switch exitCode {
	case 0:
		var result models.StrategyResult
		if err := json.Unmarshal(output, &result); err != nil {
			return nil, &SandboxInvokeError{
				Err:    fmt.Errorf("%w: malformed StrategyResult: %v", common.ErrSandboxFatal, err),
				Stderr: string(output),
			}
		}
		return &result, nil
	case 2:
		return nil, &SandboxInvokeError{
			Err:    fmt.Errorf("%w: missing or unreadable staged input", common.ErrSandboxFatal),
			Stderr: string(output),
		}
	case 1:
		return nil, &SandboxInvokeError{
			Err:    fmt.Errorf("%w: %s", common.ErrUserCodeRejected, string(output)),
			Stderr: string(output),
		}
	default:
		return nil, &SandboxInvokeError{
			Err:    fmt.Errorf("%w: exit code %d", common.ErrSandboxFatal, exitCode),
			Stderr: string(output),
		}
	}
}
