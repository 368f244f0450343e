// Package dispatcher implements the Dispatcher (DP): the submission-
// to-result orchestrator that pulls data through the Market-Data
// Cache, leases a Sandbox Pool worker, drives the Scratch Stager,
// invokes the Sandbox Runtime, and publishes a TaskResult.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/interfaces"
	"github.com/arcline-labs/backdrop/internal/models"
)

// maxRetries and retryDelay govern the executor's retry policy for
// SandboxTransientError only, per spec §4.4.
const (
	maxRetries = 3
	retryDelay = 5 * time.Second
)

// Dispatcher is the explicitly constructed orchestration service. Per
// §9's redesign away from a hidden process-global singleton, every
// job worker is handed the same *Dispatcher value rather than
// reaching for package-level state.
type Dispatcher struct {
	mdc     interfaces.MarketDataCache
	pool    interfaces.SandboxPool
	stager  interfaces.ScratchStager
	invoker interfaces.SandboxRuntimeInvoker
	backend interfaces.ExecutionBackend
	results interfaces.ResultStore
	logger  *common.Logger
}

// New wires a Dispatcher from its six collaborators and a logger.
func New(
	mdc interfaces.MarketDataCache,
	pool interfaces.SandboxPool,
	stager interfaces.ScratchStager,
	invoker interfaces.SandboxRuntimeInvoker,
	backend interfaces.ExecutionBackend,
	results interfaces.ResultStore,
	logger *common.Logger,
) *Dispatcher {
	return &Dispatcher{mdc: mdc, pool: pool, stager: stager, invoker: invoker, backend: backend, results: results, logger: logger}
}

// pinger is implemented by a result store or execution backend that
// can cheaply report liveness without mutating durable state. Both
// concrete implementations (resultstore.Store, queue.BadgerQueue)
// satisfy it via their underlying BadgerDB handle's read path.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck reports whether the result store and execution backend
// are reachable, per Submit step 1. The sandbox pool's health is not
// checked here — a pool timeout is an execution-time concern
// (PoolExhausted) handled inside the execution job, not a health gate.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	if p, ok := d.results.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: result store: %v", common.ErrServiceUnavailable, err)
		}
	}
	if p, ok := d.backend.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: execution backend: %v", common.ErrServiceUnavailable, err)
		}
	}
	return nil
}

// Submit validates req, health-checks the result store and execution
// backend (failing fast with ErrServiceUnavailable), mints a TaskId,
// writes a pending placeholder, and enqueues the execution job. It
// does not itself touch the Market-Data Cache or the Sandbox Pool —
// those are pulled by the job worker once the job is dequeued.
func (d *Dispatcher) Submit(ctx context.Context, req models.BacktestRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	if err := d.HealthCheck(ctx); err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	now := time.Now()

	if err := d.results.Put(ctx, models.TaskResult{TaskID: taskID, Status: models.TaskPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", fmt.Errorf("%w: writing pending result: %v", common.ErrServiceUnavailable, err)
	}

	job := models.Job{
		TaskID:      taskID,
		Request:     req,
		MaxAttempts: maxRetries,
		EnqueuedAt:  now,
	}
	if err := d.backend.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("%w: enqueueing job: %v", common.ErrServiceUnavailable, err)
	}

	return taskID, nil
}

// Fetch never blocks: it reflects whatever the result store currently
// holds for taskID, returning common.ErrNotFound for an unknown id.
func (d *Dispatcher) Fetch(ctx context.Context, taskID string) (*models.TaskResult, error) {
	return d.results.Get(ctx, taskID)
}

func validate(req models.BacktestRequest) error {
	if req.Code == "" {
		return fmt.Errorf("%w: missing code", common.ErrValidation)
	}
	if req.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", common.ErrValidation)
	}
	if req.Start == "" || req.End == "" {
		return fmt.Errorf("%w: missing date range", common.ErrValidation)
	}
	return nil
}
