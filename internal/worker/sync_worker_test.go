package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"cointraq/internal/amqp"
	"cointraq/internal/core"
	"cointraq/internal/log"
	"cointraq/internal/storage"
)

type fakeExporter struct {
	mu       sync.Mutex
	rows     map[string]core.Transaction
	owners   map[string]string
	removed  []string
	failWith error
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{rows: map[string]core.Transaction{}, owners: map[string]string{}}
}

func (f *fakeExporter) Export(_ context.Context, userID string, tx core.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.rows[tx.ID] = tx
	f.owners[tx.ID] = userID
	return "Transactions!A2:F2", nil
}

func (f *fakeExporter) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.rows, id)
	f.removed = append(f.removed, id)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
}

func setup(t *testing.T) (*storage.SQLiteRepository, core.Principal) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"), storage.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	p, err := repo.Register(context.Background(), "Ada", "ada@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return repo, p
}

func create(t *testing.T, repo *storage.SQLiteRepository, p core.Principal, source string) core.Transaction {
	t.Helper()
	tx, err := repo.Create(context.Background(), p, core.TransactionInput{
		Kind:   core.Expense,
		Source: source,
		Amount: decimal.RequireFromString("12.50"),
		Date:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tx
}

func pendingCount(t *testing.T, repo *storage.SQLiteRepository) int {
	t.Helper()
	pending, err := repo.GetPendingSync(context.Background(), 100)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	return len(pending)
}

func TestHandleMessageExportsAndRemoves(t *testing.T) {
	ctx := context.Background()
	repo, p := setup(t)
	exp := newFakeExporter()
	w := NewSyncWorker(repo, exp, 10, quietLogger())

	tx := create(t, repo, p, "Lunch")
	if err := w.HandleMessage(ctx, amqp.NewTransactionSyncMessage(tx.ID, amqp.ActionUpsert)); err != nil {
		t.Fatalf("handle upsert: %v", err)
	}
	if got := exp.rows[tx.ID]; got.Source != "Lunch" || exp.owners[tx.ID] != p.UserID {
		t.Fatalf("unexpected export %+v owner %q", got, exp.owners[tx.ID])
	}
	if n := pendingCount(t, repo); n != 0 {
		t.Fatalf("expected nothing pending, got %d", n)
	}

	if err := repo.Delete(ctx, p, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// a stale upsert for a deleted row still converges on removal
	if err := w.HandleMessage(ctx, amqp.NewTransactionSyncMessage(tx.ID, amqp.ActionUpsert)); err != nil {
		t.Fatalf("handle after delete: %v", err)
	}
	if _, ok := exp.rows[tx.ID]; ok || len(exp.removed) != 1 {
		t.Fatalf("row should be removed, got %+v removed=%v", exp.rows, exp.removed)
	}
	if _, err := repo.GetForSync(ctx, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected purged row, got %v", err)
	}

	// redelivery after purge is a no-op
	if err := w.HandleMessage(ctx, amqp.NewTransactionSyncMessage(tx.ID, amqp.ActionDelete)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
}

func TestHandleMessageFailureLeavesRowPending(t *testing.T) {
	ctx := context.Background()
	repo, p := setup(t)
	exp := newFakeExporter()
	exp.failWith = errors.New("quota exceeded")
	w := NewSyncWorker(repo, exp, 10, quietLogger())

	tx := create(t, repo, p, "Lunch")
	if err := w.HandleMessage(ctx, amqp.NewTransactionSyncMessage(tx.ID, amqp.ActionUpsert)); err == nil {
		t.Fatalf("expected error so the message is requeued")
	}
	if n := pendingCount(t, repo); n != 1 {
		t.Fatalf("expected the row to stay pending, got %d", n)
	}
}

func TestProcessPendingInParallel(t *testing.T) {
	ctx := context.Background()
	repo, p := setup(t)
	exp := newFakeExporter()
	w := NewSyncWorker(repo, exp, 3, quietLogger())

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		create(t, repo, p, s)
	}

	n, err := w.ProcessPending(ctx)
	if err != nil || n != 3 {
		t.Fatalf("first batch: synced %d, err %v", n, err)
	}
	if left := pendingCount(t, repo); left != 2 {
		t.Fatalf("expected 2 left pending, got %d", left)
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if left := pendingCount(t, repo); left != 0 || len(exp.rows) != 5 {
		t.Fatalf("expected everything exported, pending=%d exported=%d", left, len(exp.rows))
	}
}

func TestPollerLifecycle(t *testing.T) {
	repo, p := setup(t)
	exp := newFakeExporter()
	w := NewSyncWorker(repo, exp, 10, quietLogger())
	poller := NewPoller(w, 10*time.Millisecond)

	if poller.IsRunning() {
		t.Fatal("poller should not be running initially")
	}
	ctx := context.Background()
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := poller.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}

	create(t, repo, p, "polled")
	deadline := time.Now().Add(2 * time.Second)
	for pendingCount(t, repo) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not export the pending row")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if poller.IsRunning() {
		t.Fatal("poller should be stopped")
	}
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

// corruptingStore serves one row with a date the sheet cannot take.
type corruptingStore struct {
	*storage.SQLiteRepository
	badID string
}

func (s *corruptingStore) GetForSync(ctx context.Context, id string) (storage.SyncRecord, error) {
	rec, err := s.SQLiteRepository.GetForSync(ctx, id)
	if err == nil && id == s.badID {
		rec.Transaction.Date = "someday"
	}
	return rec, err
}

func TestProcessPendingDoesNotCountRejectedRows(t *testing.T) {
	ctx := context.Background()
	repo, p := setup(t)
	exp := newFakeExporter()
	create(t, repo, p, "good")
	bad := create(t, repo, p, "bad")
	create(t, repo, p, "also good")

	w := NewSyncWorker(&corruptingStore{SQLiteRepository: repo, badID: bad.ID}, exp, 10, quietLogger())
	n, err := w.ProcessPending(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 exported, got %d (err %v)", n, err)
	}
	if _, ok := exp.rows[bad.ID]; ok {
		t.Fatal("rejected row reached the sheet")
	}
	if left := pendingCount(t, repo); left != 0 {
		t.Fatalf("rejected row should be flagged, not pending; %d pending", left)
	}
}
