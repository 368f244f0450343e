package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/arcline-labs/backdrop/internal/models"
)

// MemQueue is an in-process, buffered-channel execution backend: used
// by tests and by single-process deployments where
// cmd/backdrop-server and the job consumer share a process. It is not
// durable — a process restart loses in-flight and queued jobs — which
// is an explicit, documented deviation from the durable
// BadgerQueue used by cmd/backdrop-worker.
type MemQueue struct {
	jobs chan models.Job

	mu       sync.Mutex
	inFlight map[string]models.Job
}

// NewMemQueue returns a ready MemQueue with the given channel
// capacity.
func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		jobs:     make(chan models.Job, capacity),
		inFlight: make(map[string]models.Job),
	}
}

// Enqueue places job on the channel, blocking if it is full.
func (q *MemQueue) Enqueue(ctx context.Context, job models.Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel of jobs. Each delivered job is recorded as
// in-flight until Ack or Nack is called for its TaskID.
func (q *MemQueue) Consume(ctx context.Context) (<-chan models.Job, error) {
	out := make(chan models.Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				q.mu.Lock()
				q.inFlight[job.TaskID] = job
				q.mu.Unlock()
				select {
				case out <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ack removes taskID from the in-flight set, permanently retiring it.
func (q *MemQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	delete(q.inFlight, taskID)
	q.mu.Unlock()
	return nil
}

// Nack returns job to the queue for redelivery, incrementing its
// attempt counter. If job has already exhausted MaxAttempts, Nack
// drops it silently — the caller is expected to have already
// published a terminal error TaskResult before calling Nack in that
// case.
func (q *MemQueue) Nack(ctx context.Context, job models.Job) error {
	q.mu.Lock()
	delete(q.inFlight, job.TaskID)
	q.mu.Unlock()

	job.Attempts++
	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		return nil
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("requeueing job %s: %w", job.TaskID, ctx.Err())
	}
}
