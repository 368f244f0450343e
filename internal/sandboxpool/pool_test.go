package sandboxpool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// newTestPool builds a Pool with synthetic (container-less) entries so
// tests can exercise the Acquire/Release state machine without Docker.
// Replace/Shutdown, which dereference the container handle, are not
// exercised by these tests.
func newTestPool(t *testing.T, size int, acquireTimeout time.Duration) *Pool {
	t.Helper()
	baseDir := t.TempDir()

	p := &Pool{
		entries:        make(map[string]*entry, size),
		idle:           make(chan string, size),
		size:           size,
		baseScratchDir: baseDir,
		acquireTimeout: acquireTimeout,
		logger:         common.NewSilentLogger(),
	}

	for i := 0; i < size; i++ {
		id := uuid.New().String()
		scratch := filepath.Join(baseDir, id)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			t.Fatalf("creating scratch dir: %v", err)
		}
		worker := &models.SandboxWorker{ID: id, State: models.WorkerIdle, ScratchDir: scratch}
		p.entries[id] = &entry{worker: worker, container: nil}
		p.idle <- id
	}

	return p
}

func TestPool_AcquireRelease_ConservesMembership(t *testing.T) {
	p := newTestPool(t, 2, 2*time.Second)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	snap := p.Snapshot()
	idleCount, leasedCount := 0, 0
	for _, state := range snap {
		switch state {
		case models.WorkerIdle:
			idleCount++
		case models.WorkerLeased:
			leasedCount++
		}
	}
	if idleCount != 1 || leasedCount != 1 {
		t.Fatalf("expected 1 idle + 1 leased, got idle=%d leased=%d", idleCount, leasedCount)
	}

	if err := p.Release(context.Background(), lease); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	snap = p.Snapshot()
	for id, state := range snap {
		if state != models.WorkerIdle {
			t.Fatalf("worker %s expected idle after release, got %s", id, state)
		}
	}
}

func TestPool_Acquire_BackpressureWithThreeConcurrentForTwoWorkers(t *testing.T) {
	p := newTestPool(t, 2, 5*time.Second)

	var wg sync.WaitGroup
	results := make([]error, 3)
	start := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			lease, err := p.Acquire(context.Background())
			if err != nil {
				results[i] = err
				return
			}
			time.Sleep(50 * time.Millisecond)
			results[i] = p.Release(context.Background(), lease)
		}()
	}

	close(start)
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("goroutine %d: expected eventual success via backpressure, got error: %v", i, err)
		}
	}
}

func TestPool_Acquire_TimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 1, 50*time.Millisecond)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire should succeed: %v", err)
	}
	defer p.Release(context.Background(), lease)

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected ErrPoolExhausted when no worker is available before the deadline")
	}
}

func TestPool_Release_ScratchDirIsEmptyBeforeNextAcquireOfSameWorker(t *testing.T) {
	p := newTestPool(t, 1, 2*time.Second)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	leftover := filepath.Join(lease.Worker.ScratchDir, "code.py")
	if err := os.WriteFile(leftover, []byte("x=1"), 0o644); err != nil {
		t.Fatalf("writing leftover scratch file: %v", err)
	}

	if err := p.Release(context.Background(), lease); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	nextLease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire returned error: %v", err)
	}

	entries, err := os.ReadDir(nextLease.Worker.ScratchDir)
	if err != nil {
		t.Fatalf("reading scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scratch dir on re-acquire, found %d entries", len(entries))
	}
}
