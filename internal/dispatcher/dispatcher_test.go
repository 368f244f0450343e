package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// --- fakes -----------------------------------------------------------

type fakeMDC struct {
	frame *models.PriceFrame
	err   error
}

func (f *fakeMDC) Get(ctx context.Context, symbol string) (*models.PriceFrame, error) {
	return f.frame, f.err
}
func (f *fakeMDC) Filter(frame *models.PriceFrame, start, end time.Time) *models.PriceFrame {
	return frame
}

type fakePool struct {
	acquireErr error
	released   int
}

func (p *fakePool) Acquire(ctx context.Context) (*models.Lease, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &models.Lease{Worker: &models.SandboxWorker{ID: "w1"}, AcquiredAt: time.Now()}, nil
}
func (p *fakePool) Release(ctx context.Context, lease *models.Lease) error { p.released++; return nil }
func (p *fakePool) Replace(ctx context.Context, lease *models.Lease) error { return nil }
func (p *fakePool) Shutdown(ctx context.Context) error                    { return nil }
func (p *fakePool) Exec(ctx context.Context, workerID string, cmd []string) (int, []byte, error) {
	return 0, nil, nil
}

type fakeStager struct{ err error }

func (s *fakeStager) Stage(ctx context.Context, worker *models.SandboxWorker, code string, frame *models.PriceFrame, config map[string]float64) (*models.StagedInputs, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.StagedInputs{}, nil
}

type fakeInvoker struct {
	mu       sync.Mutex
	calls    int
	failN    int // fail this many times with a transient error, then succeed
	fatalErr error
	result   *models.StrategyResult
}

func (i *fakeInvoker) Run(ctx context.Context, worker *models.SandboxWorker, staged *models.StagedInputs) (*models.StrategyResult, error) {
	i.mu.Lock()
	i.calls++
	n := i.calls
	i.mu.Unlock()

	if i.fatalErr != nil {
		return nil, i.fatalErr
	}
	if n <= i.failN {
		return nil, common.ErrSandboxTransient
	}
	return i.result, nil
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]models.TaskResult
}

func newFakeResults() *fakeResults { return &fakeResults{results: make(map[string]models.TaskResult)} }

func (r *fakeResults) Put(ctx context.Context, result models.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.results[result.TaskID]; ok && existing.Status != models.TaskPending {
		return nil
	}
	r.results[result.TaskID] = result
	return nil
}
func (r *fakeResults) Get(ctx context.Context, taskID string) (*models.TaskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[taskID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &res, nil
}

type fakeBackend struct {
	jobs chan models.Job
}

func newFakeBackend() *fakeBackend { return &fakeBackend{jobs: make(chan models.Job, 8)} }

func (b *fakeBackend) Enqueue(ctx context.Context, job models.Job) error {
	b.jobs <- job
	return nil
}
func (b *fakeBackend) Consume(ctx context.Context) (<-chan models.Job, error) { return b.jobs, nil }
func (b *fakeBackend) Ack(ctx context.Context, taskID string) error          { return nil }
func (b *fakeBackend) Nack(ctx context.Context, job models.Job) error        { return nil }

func testFrame() *models.PriceFrame {
	return &models.PriceFrame{Symbol: "ACME", Rows: []models.Bar{
		{Date: mustDate("2020-01-02"), Close: 100},
		{Date: mustDate("2020-01-06"), Close: 105},
	}}
}

func mustDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// --- tests -------------------------------------------------------------

func TestDispatcher_Submit_ValidationError(t *testing.T) {
	d := New(&fakeMDC{}, &fakePool{}, &fakeStager{}, &fakeInvoker{}, newFakeBackend(), newFakeResults(), common.NewSilentLogger())

	_, err := d.Submit(context.Background(), models.BacktestRequest{})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
}

func TestDispatcher_Submit_MintsTaskAndEnqueues(t *testing.T) {
	backend := newFakeBackend()
	d := New(&fakeMDC{}, &fakePool{}, &fakeStager{}, &fakeInvoker{}, backend, newFakeResults(), common.NewSilentLogger())

	taskID, err := d.Submit(context.Background(), models.BacktestRequest{Symbol: "ACME", Code: "x=1", Start: "2020-01-01", End: "2020-01-06"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if taskID == "" {
		t.Fatal("Submit() returned empty task id")
	}

	select {
	case job := <-backend.jobs:
		if job.TaskID != taskID {
			t.Errorf("enqueued job TaskID = %q, want %q", job.TaskID, taskID)
		}
	default:
		t.Fatal("expected a job to be enqueued")
	}
}

func TestDispatcher_Fetch_PendingBeforeCompletion(t *testing.T) {
	results := newFakeResults()
	d := New(&fakeMDC{}, &fakePool{}, &fakeStager{}, &fakeInvoker{}, newFakeBackend(), results, common.NewSilentLogger())

	taskID, err := d.Submit(context.Background(), models.BacktestRequest{Symbol: "ACME", Code: "x=1", Start: "2020-01-01", End: "2020-01-06"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	status, err := d.Fetch(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if status.Status != models.TaskPending {
		t.Errorf("Status = %q, want pending", status.Status)
	}
}

func TestDispatcher_RunJob_HappyPath(t *testing.T) {
	want := &models.StrategyResult{FinalCapital: 10027}
	pool := &fakePool{}
	d := New(&fakeMDC{frame: testFrame()}, pool, &fakeStager{}, &fakeInvoker{result: want}, newFakeBackend(), newFakeResults(), common.NewSilentLogger())

	job := models.Job{TaskID: "t1", Request: models.BacktestRequest{Symbol: "ACME", Start: "2020-01-02", End: "2020-01-06"}, MaxAttempts: 3}
	result := d.runJob(context.Background(), job)

	if result.Status != models.TaskCompleted {
		t.Fatalf("Status = %q, want completed (error=%s)", result.Status, result.Error)
	}
	if result.Result.FinalCapital != 10027 {
		t.Errorf("FinalCapital = %v, want 10027", result.Result.FinalCapital)
	}
	if pool.released != 1 {
		t.Errorf("released = %d, want 1 (lease must always be released)", pool.released)
	}
}

func TestDispatcher_RunJob_DataUnavailable(t *testing.T) {
	d := New(&fakeMDC{err: common.ErrDataUnavailable}, &fakePool{}, &fakeStager{}, &fakeInvoker{}, newFakeBackend(), newFakeResults(), common.NewSilentLogger())

	result := d.runJob(context.Background(), models.Job{TaskID: "t1", Request: models.BacktestRequest{Symbol: "ACME", Start: "2020-01-02", End: "2020-01-06"}})
	if result.Status != models.TaskError {
		t.Fatalf("Status = %q, want error", result.Status)
	}
}

func TestDispatcher_RunJob_PoolExhausted_NotRetried(t *testing.T) {
	pool := &fakePool{acquireErr: common.ErrPoolExhausted}
	d := New(&fakeMDC{frame: testFrame()}, pool, &fakeStager{}, &fakeInvoker{}, newFakeBackend(), newFakeResults(), common.NewSilentLogger())

	result := d.runJob(context.Background(), models.Job{TaskID: "t1", Request: models.BacktestRequest{Symbol: "ACME", Start: "2020-01-02", End: "2020-01-06"}})
	if result.Status != models.TaskError {
		t.Fatalf("Status = %q, want error", result.Status)
	}
	if pool.released != 0 {
		t.Errorf("released = %d, want 0 (nothing to release on acquire failure)", pool.released)
	}
}

func TestDispatcher_RunJob_TransientSandboxError_RetriesThenSucceeds(t *testing.T) {
	invoker := &fakeInvoker{failN: 2, result: &models.StrategyResult{FinalCapital: 1}}
	d := New(&fakeMDC{frame: testFrame()}, &fakePool{}, &fakeStager{}, invoker, newFakeBackend(), newFakeResults(), common.NewSilentLogger())
	// Shrink the retry delay for the test by overriding package constant is
	// not possible (it's a const); use a context with no deadline and rely
	// on the small absolute delay since maxRetries=3 and the third attempt
	// succeeds without an extra sleep after it.
	result := d.runJob(context.Background(), models.Job{TaskID: "t1", Request: models.BacktestRequest{Symbol: "ACME", Start: "2020-01-02", End: "2020-01-06"}})
	if result.Status != models.TaskCompleted {
		t.Fatalf("Status = %q, want completed after transient retries succeed", result.Status)
	}
	if invoker.calls != 3 {
		t.Errorf("calls = %d, want 3 (2 failures + 1 success)", invoker.calls)
	}
}

func TestDispatcher_RunJob_FatalSandboxError_NotRetried(t *testing.T) {
	invoker := &fakeInvoker{fatalErr: &SandboxInvokeError{Err: common.ErrSandboxFatal, Stderr: "boom"}}
	d := New(&fakeMDC{frame: testFrame()}, &fakePool{}, &fakeStager{}, invoker, newFakeBackend(), newFakeResults(), common.NewSilentLogger())

	result := d.runJob(context.Background(), models.Job{TaskID: "t1", Request: models.BacktestRequest{Symbol: "ACME", Start: "2020-01-02", End: "2020-01-06"}})
	if result.Status != models.TaskError {
		t.Fatalf("Status = %q, want error", result.Status)
	}
	if result.Stderr != "boom" {
		t.Errorf("Stderr = %q, want boom", result.Stderr)
	}
	if invoker.calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal errors are not retried)", invoker.calls)
	}
}
