package sandboxpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// entry pairs a worker's model-level record with its live container
// handle, kept out of models so the models package stays free of a
// testcontainers-go dependency.
type entry struct {
	worker    *models.SandboxWorker
	container testcontainers.Container
}

// Pool is an explicitly constructed, long-lived Sandbox Pool value.
// It is not a hidden singleton: callers obtain one from New and pass
// it wherever it is needed, mirroring the spec's redesign away from a
// process-global double-checked-locking pool.
type Pool struct {
	mu             sync.Mutex
	entries        map[string]*entry
	idle           chan string // worker IDs, buffered to size
	size           int
	shape          containerShape
	baseScratchDir string
	acquireTimeout time.Duration
	logger         *common.Logger
}

// New builds and starts size sandbox containers, returning a ready
// Pool. Callers are responsible for calling Shutdown.
func New(ctx context.Context, size int, image, hostTmpfsBind string, acquireTimeout time.Duration, logger *common.Logger) (*Pool, error) {
	baseScratchDir := defaultBaseScratchDir()
	if err := os.MkdirAll(baseScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating base scratch dir: %w", err)
	}

	p := &Pool{
		entries:        make(map[string]*entry, size),
		idle:           make(chan string, size),
		size:           size,
		shape:          containerShape{image: image, hostTmpfsBind: hostTmpfsBind},
		baseScratchDir: baseScratchDir,
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}

	for i := 0; i < size; i++ {
		worker, container, err := newWorker(ctx, p.shape, p.baseScratchDir)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("initializing pool worker %d/%d: %w", i+1, size, err)
		}
		p.mu.Lock()
		p.entries[worker.ID] = &entry{worker: worker, container: container}
		p.mu.Unlock()
		p.idle <- worker.ID
	}

	return p, nil
}

// Acquire blocks until a worker becomes idle or the pool's configured
// Acquire timeout elapses, in which case it returns
// common.ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*models.Lease, error) {
	timeout := time.NewTimer(p.acquireTimeout)
	defer timeout.Stop()

	select {
	case id := <-p.idle:
		p.mu.Lock()
		e, ok := p.entries[id]
		if !ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: acquired unknown worker %s", common.ErrPoolExhausted, id)
		}
		e.worker.State = models.WorkerLeased
		e.worker.LeasedAt = time.Now()
		p.mu.Unlock()
		return &models.Lease{Worker: e.worker, AcquiredAt: e.worker.LeasedAt}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", common.ErrPoolExhausted, ctx.Err())
	case <-timeout.C:
		return nil, fmt.Errorf("%w: no worker available within %s", common.ErrPoolExhausted, p.acquireTimeout)
	}
}

// Exec runs cmd inside workerID's already-running container via
// docker exec, returning its exit code and combined stdout/stderr.
// The Sandbox Runtime Invoker calls this once per lease to run
// /app/execute against the files a Scratch Stager just wrote, rather
// than relying on container startup — the worker outlives every task
// it runs.
func (p *Pool) Exec(ctx context.Context, workerID string, cmd []string) (int, []byte, error) {
	p.mu.Lock()
	e, ok := p.entries[workerID]
	p.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("exec: unknown worker %s", workerID)
	}

	exitCode, reader, err := e.container.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return 0, nil, fmt.Errorf("exec on worker %s: %w", workerID, err)
	}
	var buf bytes.Buffer
	if reader != nil {
		if _, err := io.Copy(&buf, reader); err != nil {
			return exitCode, buf.Bytes(), fmt.Errorf("reading exec output from worker %s: %w", workerID, err)
		}
	}
	return exitCode, buf.Bytes(), nil
}

// Release clears the leased worker's scratch directory and returns it
// to the idle set. If cleanup fails, the worker is condemned and
// replaced instead of being reused, per the pool's replacement-on-
// failure contract.
func (p *Pool) Release(ctx context.Context, lease *models.Lease) error {
	if err := clearScratchDir(lease.Worker.ScratchDir); err != nil {
		p.logger.Warn().Str("worker", lease.Worker.ID).Err(err).Msg("scratch cleanup failed, replacing worker")
		return p.Replace(ctx, lease)
	}

	p.mu.Lock()
	e, ok := p.entries[lease.Worker.ID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("release: unknown worker %s", lease.Worker.ID)
	}
	e.worker.State = models.WorkerIdle
	p.mu.Unlock()

	p.idle <- lease.Worker.ID
	return nil
}

// Replace condemns the leased worker outright and enqueues a freshly
// started replacement in its place, preserving the pool's configured
// size.
func (p *Pool) Replace(ctx context.Context, lease *models.Lease) error {
	p.mu.Lock()
	old, ok := p.entries[lease.Worker.ID]
	if ok {
		old.worker.State = models.WorkerCondemned
	}
	p.mu.Unlock()

	if ok {
		_ = old.container.Terminate(ctx)
		_ = os.RemoveAll(old.worker.ScratchDir)
		p.mu.Lock()
		delete(p.entries, lease.Worker.ID)
		p.mu.Unlock()
	}

	worker, container, err := newWorker(ctx, p.shape, p.baseScratchDir)
	if err != nil {
		return fmt.Errorf("replacing condemned worker: %w", err)
	}

	p.mu.Lock()
	p.entries[worker.ID] = &entry{worker: worker, container: container}
	p.mu.Unlock()

	p.idle <- worker.ID
	return nil
}

// Shutdown terminates every managed worker and releases its scratch
// directory. Safe to call even if some workers are still leased.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.container.Terminate(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("terminating worker %s: %w", e.worker.ID, err)
		}
		_ = os.RemoveAll(e.worker.ScratchDir)
	}
	return firstErr
}

// Snapshot reports the id->state map for test assertions (pool
// conservation: idle ⊎ leased ⊎ condemned never double-counts a
// worker).
func (p *Pool) Snapshot() map[string]models.WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.WorkerState, len(p.entries))
	for id, e := range p.entries {
		out[id] = e.worker.State
	}
	return out
}

// clearScratchDir removes every child of dir without removing dir
// itself, mirroring the original pool's tmpfs-clearing behaviour
// between leases.
func clearScratchDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scratch dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(dir + string(os.PathSeparator) + entry.Name()); err != nil {
			return fmt.Errorf("clearing scratch entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}
