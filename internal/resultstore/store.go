// Package resultstore implements the TaskId-addressed result map: the
// durable half of the spec's "execution backend must also serve as
// the result-and-cache key-value store" contract (§6). It shares a
// BadgerDB handle with internal/mdc and internal/queue.
package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

const keyPrefix = "result_"

// defaultTTL matches spec §6: results are retained for at least one
// hour.
const defaultTTL = time.Hour

// Store is a BadgerDB-backed, write-once TaskResult map.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *common.Logger
}

// New builds a Store over an already-open BadgerDB handle.
func New(db *badger.DB, logger *common.Logger) *Store {
	return &Store{db: db, ttl: defaultTTL, logger: logger}
}

// Put writes result under its TaskID. A TaskResult whose Status is
// already "completed" or "error" for that TaskID is never overwritten
// — Put returns nil silently in that case, satisfying Testable
// Property 3 (at-most-one-result). A "pending" placeholder written by
// Submit may be replaced exactly once by the terminal write.
func (s *Store) Put(ctx context.Context, result models.TaskResult) error {
	key := []byte(keyPrefix + result.TaskID)

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var existing models.TaskResult
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); verr == nil && existing.Status != models.TaskPending {
				s.logger.Debug().Str("task_id", result.TaskID).Msg("result already published, refusing overwrite")
				return nil
			}
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("checking existing result: %w", err)
		}

		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling task result: %w", err)
		}
		entry := badger.NewEntry(key, data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// Ping reports whether the underlying BadgerDB handle is reachable,
// used by the Dispatcher's health check (spec §4.4 step 1).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// Get returns the TaskResult for taskID, or common.ErrNotFound if no
// record (or an expired one) exists.
func (s *Store) Get(ctx context.Context, taskID string) (*models.TaskResult, error) {
	var result models.TaskResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + taskID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return common.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
