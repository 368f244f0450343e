package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// Run drains jobs from the execution backend until ctx is cancelled,
// executing each one end to end per spec §4.4's six-step job and
// acknowledging it exactly once. Callers (cmd/backdrop-worker) launch
// one or more goroutines calling Run concurrently — the Sandbox Pool's
// bounded hand-off queue is what keeps them from over-subscribing the
// sandbox workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobs, err := d.backend.Consume(ctx)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			d.execute(ctx, job)
		}
	}
}

// execute performs the six-step execution job and always acknowledges
// the job afterward, regardless of outcome — per spec, workers never
// crash on user-code faults, and every terminal outcome (success or
// error) is published as exactly one TaskResult.
func (d *Dispatcher) execute(ctx context.Context, job models.Job) {
	result := d.runJob(ctx, job)
	if err := d.results.Put(ctx, result); err != nil {
		d.logger.Error().Str("task_id", job.TaskID).Err(err).Msg("failed to publish task result")
	}
	if err := d.backend.Ack(ctx, job.TaskID); err != nil {
		d.logger.Warn().Str("task_id", job.TaskID).Err(err).Msg("failed to ack job")
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job models.Job) models.TaskResult {
	req := job.Request
	now := time.Now()
	errorResult := func(err error) models.TaskResult {
		return models.TaskResult{TaskID: job.TaskID, Status: models.TaskError, Error: err.Error(), CreatedAt: now, UpdatedAt: time.Now()}
	}

	// Step 1-2: pull data through the cache and filter to the window.
	frame, err := d.mdc.Get(ctx, req.Symbol)
	if err != nil {
		return errorResult(err)
	}
	start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		return errorResult(fmt.Errorf("%w: %v", common.ErrValidation, err))
	}
	frame = d.mdc.Filter(frame, start, end)

	// Step 3: lease a sandbox worker.
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return errorResult(err)
	}
	defer func() {
		if err := d.pool.Release(ctx, lease); err != nil {
			d.logger.Warn().Str("worker", lease.Worker.ID).Err(err).Msg("release failed")
		}
	}()

	// Step 4: stage the three input files.
	params := mergeParams(req)
	staged, err := d.stager.Stage(ctx, lease.Worker, req.Code, frame, params)
	if err != nil {
		return errorResult(err)
	}

	// Step 5: invoke the Sandbox Runtime, retrying transient backend
	// errors up to maxRetries times with retryDelay between attempts.
	// SandboxFatalError, UserCodeRejected and UserCodeRuntimeError are
	// not retried.
	var strategyResult *models.StrategyResult
	var stderr string
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		strategyResult, err = d.invoker.Run(ctx, lease.Worker, staged)
		if err == nil {
			break
		}
		var sandboxErr *SandboxInvokeError
		if errors.As(err, &sandboxErr) {
			stderr = sandboxErr.Stderr
		}
		if !errors.Is(err, common.ErrSandboxTransient) {
			break
		}
		if attempt > maxRetries {
			break
		}
		d.logger.Warn().Str("task_id", job.TaskID).Int("attempt", attempt).Err(err).Msg("sandbox transient error, retrying")
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return errorResult(ctx.Err())
		}
	}
	if err != nil {
		r := errorResult(err)
		r.Stderr = stderr
		return r
	}

	// Step 6: publish the completed result (Release happens in the
	// deferred call above, covering the "finally" of spec step 7).
	return models.TaskResult{TaskID: job.TaskID, Status: models.TaskCompleted, Result: strategyResult, CreatedAt: now, UpdatedAt: time.Now()}
}

// SandboxInvokeError carries captured stderr alongside a wrapped
// sentinel (ErrSandboxTransient, ErrSandboxFatal, ErrUserCodeRejected
// or ErrUserCodeRuntime) so the executor can surface stderr in the
// TaskResult even on a fatal exit.
type SandboxInvokeError struct {
	Err    error
	Stderr string
}

func (e *SandboxInvokeError) Error() string { return e.Err.Error() }
func (e *SandboxInvokeError) Unwrap() error { return e.Err }

func mergeParams(req models.BacktestRequest) map[string]float64 {
	params := make(map[string]float64, len(req.Parameters)+3)
	for k, v := range req.Parameters {
		params[k] = v
	}
	params["initialCapital"] = req.InitialCapital
	params["investmentPerTrade"] = req.InvestmentPerTrade
	params["trading_method"] = float64(req.TradingMethod)
	return params
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return s, e, nil
}
