package resultstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("opening in-memory badger db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_PutThenGet(t *testing.T) {
	store := New(newTestDB(t), common.NewSilentLogger())
	ctx := context.Background()

	want := models.TaskResult{TaskID: "t1", Status: models.TaskCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Errorf("Status = %q, want %q", got.Status, models.TaskCompleted)
	}
}

func TestStore_Get_MissingReturnsNotFound(t *testing.T) {
	store := New(newTestDB(t), common.NewSilentLogger())
	if _, err := store.Get(context.Background(), "missing"); err != common.ErrNotFound {
		t.Errorf("Get() error = %v, want common.ErrNotFound", err)
	}
}

func TestStore_Put_RefusesOverwriteOfCompleted(t *testing.T) {
	store := New(newTestDB(t), common.NewSilentLogger())
	ctx := context.Background()

	first := models.TaskResult{TaskID: "t2", Status: models.TaskCompleted, Error: ""}
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() first error = %v", err)
	}

	second := models.TaskResult{TaskID: "t2", Status: models.TaskError, Error: "should not land"}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("Put() second error = %v", err)
	}

	got, err := store.Get(ctx, "t2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.TaskCompleted || got.Error != "" {
		t.Errorf("second Put overwrote a completed result: got %+v", got)
	}
}

func TestStore_Put_PendingPlaceholderIsReplaceable(t *testing.T) {
	store := New(newTestDB(t), common.NewSilentLogger())
	ctx := context.Background()

	pending := models.TaskResult{TaskID: "t3", Status: models.TaskPending}
	if err := store.Put(ctx, pending); err != nil {
		t.Fatalf("Put() pending error = %v", err)
	}

	completed := models.TaskResult{TaskID: "t3", Status: models.TaskCompleted}
	if err := store.Put(ctx, completed); err != nil {
		t.Fatalf("Put() completed error = %v", err)
	}

	got, err := store.Get(ctx, "t3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Errorf("Status = %q, want %q (pending placeholder should be replaceable)", got.Status, models.TaskCompleted)
	}
}
