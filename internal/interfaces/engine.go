// Package interfaces defines service contracts for Backdrop
package interfaces

import (
	"context"
	"time"

	"github.com/arcline-labs/backdrop/internal/models"
)

// MarketDataCache retrieves and caches price series by symbol.
type MarketDataCache interface {
	// Get returns the full cached (or freshly fetched) PriceFrame for a
	// symbol. Returns ErrDataUnavailable if the origin fetch fails and
	// no cached copy exists.
	Get(ctx context.Context, symbol string) (*models.PriceFrame, error)

	// Filter returns a new PriceFrame containing only rows whose Date
	// falls within [start, end] inclusive on both ends. Never mutates
	// frame.
	Filter(frame *models.PriceFrame, start, end time.Time) *models.PriceFrame
}

// SandboxPool manages a fixed-size set of sandbox containers.
type SandboxPool interface {
	// Acquire blocks until a worker becomes idle or the deadline
	// (governed by the pool's configured Acquire timeout) elapses,
	// returning ErrPoolExhausted on timeout.
	Acquire(ctx context.Context) (*models.Lease, error)

	// Release returns a worker to the idle set after clearing its
	// scratch directory. If cleanup fails the worker is replaced
	// rather than reused.
	Release(ctx context.Context, lease *models.Lease) error

	// Replace condemns and replaces a worker outright, used when the
	// caller observed the worker in a state it cannot trust.
	Replace(ctx context.Context, lease *models.Lease) error

	// Shutdown drains and terminates every managed worker.
	Shutdown(ctx context.Context) error

	// Exec runs cmd inside workerID's already-running container and
	// returns its exit code and combined stdout/stderr.
	Exec(ctx context.Context, workerID string, cmd []string) (exitCode int, output []byte, err error)
}

// ScratchStager writes the three staged input files for one lease.
type ScratchStager interface {
	Stage(ctx context.Context, worker *models.SandboxWorker, code string, frame *models.PriceFrame, config map[string]float64) (*models.StagedInputs, error)
}

// SandboxRuntimeInvoker runs the Sandbox Runtime contract against a
// staged lease and returns its parsed StrategyResult.
type SandboxRuntimeInvoker interface {
	Run(ctx context.Context, worker *models.SandboxWorker, staged *models.StagedInputs) (*models.StrategyResult, error)
}

// ExecutionBackend is the at-least-once job queue a Dispatcher drains.
// Consume delivers jobs with acks_late semantics: each job is handed to
// one consumer and is not retired until Ack is called for it.
type ExecutionBackend interface {
	Enqueue(ctx context.Context, job models.Job) error
	Consume(ctx context.Context) (<-chan models.Job, error)
	Ack(ctx context.Context, taskID string) error
	Nack(ctx context.Context, job models.Job) error
}

// ResultStore addresses TaskResult records by TaskId. Writes refuse to
// overwrite an existing completed record.
type ResultStore interface {
	Put(ctx context.Context, result models.TaskResult) error
	Get(ctx context.Context, taskID string) (*models.TaskResult, error)
}

// Dispatcher is the orchestration entry point used by the HTTP surface.
type Dispatcher interface {
	Submit(ctx context.Context, req models.BacktestRequest) (string, error)
	Fetch(ctx context.Context, taskID string) (*models.TaskResult, error)
	HealthCheck(ctx context.Context) error
}
