package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

const (
	pendingPrefix  = "queue_pending_"
	runningPrefix  = "queue_running_"
	pollInterval   = 250 * time.Millisecond
)

// BadgerQueue is the durable execution backend for cmd/backdrop-worker,
// adapted from the teacher's JobQueueStore (internal/services/
// jobmanager/queue.go): pending jobs are rows keyed by TaskID,
// dequeue moves the oldest (by EnqueuedAt) from pending to running, and any job still
// running at startup (left behind by a crash) is reset to pending —
// the orphan-recovery behaviour the teacher calls ResetRunningJobs.
type BadgerQueue struct {
	db     *badger.DB
	logger *common.Logger

	mu     sync.Mutex
	notify chan struct{}
}

// NewBadgerQueue opens a BadgerQueue over an already-open BadgerDB
// handle and resets any orphaned running jobs back to pending.
func NewBadgerQueue(db *badger.DB, logger *common.Logger) (*BadgerQueue, error) {
	q := &BadgerQueue{db: db, logger: logger, notify: make(chan struct{}, 1)}
	n, err := q.resetOrphaned()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		logger.Info().Int("count", n).Msg("reset orphaned running jobs to pending")
	}
	return q, nil
}

func (q *BadgerQueue) resetOrphaned() (int, error) {
	var reset int
	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(runningPrefix)
		var orphans []models.Job
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var job models.Job
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &job) }); err != nil {
				continue
			}
			orphans = append(orphans, job)
		}
		for _, job := range orphans {
			if err := txn.Delete([]byte(runningPrefix + job.TaskID)); err != nil {
				return err
			}
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(pendingPrefix+job.TaskID), data); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	return reset, err
}

// Enqueue durably writes job as pending and wakes any blocked Consume
// poll loop.
func (q *BadgerQueue) Enqueue(ctx context.Context, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(pendingPrefix+job.TaskID), data)
	}); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.TaskID, err)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Consume returns a channel fed by a poll loop over the pending set,
// oldest EnqueuedAt first. Each delivered job is moved to the running
// set durably before being handed to the caller — acks_late: it is
// only removed from running by Ack.
func (q *BadgerQueue) Consume(ctx context.Context) (<-chan models.Job, error) {
	out := make(chan models.Job)
	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-q.notify:
			}
			for {
				job, ok, err := q.dequeueOne()
				if err != nil {
					q.logger.Warn().Err(err).Msg("dequeue error")
					break
				}
				if !ok {
					break
				}
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

func (q *BadgerQueue) dequeueOne() (models.Job, bool, error) {
	var candidate models.Job
	var found bool

	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(pendingPrefix)
		var jobs []models.Job
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var job models.Job
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &job) }); err != nil {
				continue
			}
			jobs = append(jobs, job)
		}
		if len(jobs) == 0 {
			return nil
		}
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt) })
		candidate = jobs[0]
		found = true

		if err := txn.Delete([]byte(pendingPrefix + candidate.TaskID)); err != nil {
			return err
		}
		data, err := json.Marshal(candidate)
		if err != nil {
			return err
		}
		return txn.Set([]byte(runningPrefix+candidate.TaskID), data)
	})
	return candidate, found, err
}

// Ping reports whether the underlying BadgerDB handle is reachable.
func (q *BadgerQueue) Ping(ctx context.Context) error {
	return q.db.View(func(txn *badger.Txn) error { return nil })
}

// Ack durably removes taskID from the running set.
func (q *BadgerQueue) Ack(ctx context.Context, taskID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(runningPrefix + taskID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Nack moves job back to pending (incrementing its attempt counter)
// unless it has exhausted MaxAttempts, in which case it is dropped
// from running without being requeued — the caller is expected to
// have already published a terminal TaskResult.
func (q *BadgerQueue) Nack(ctx context.Context, job models.Job) error {
	job.Attempts++
	err := q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(runningPrefix + job.TaskID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
			return nil
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set([]byte(pendingPrefix+job.TaskID), data)
	})
	if err != nil {
		return err
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}
