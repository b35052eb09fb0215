// Package worker exports stored transactions to the spreadsheet, driven by
// AMQP messages with a polling fallback for anything left pending.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cointraq/internal/amqp"
	"cointraq/internal/core"
	"cointraq/internal/log"
	"cointraq/internal/ports"
	"cointraq/internal/storage"
)

// SyncStore is the part of the sqlite repository the worker needs.
type SyncStore interface {
	GetPendingSync(ctx context.Context, limit int) ([]storage.PendingSync, error)
	GetForSync(ctx context.Context, id string) (storage.SyncRecord, error)
	MarkSynced(ctx context.Context, id string, version int64) error
	MarkSyncError(ctx context.Context, id string) error
	Purge(ctx context.Context, id string, version int64) error
}

// DefaultParallelism bounds concurrent exports in a pending batch.
const DefaultParallelism = 4

// SyncWorker handles synchronization of transactions from SQLite to Google
// Sheets.
type SyncWorker struct {
	store       SyncStore
	exporter    ports.Exporter
	batchSize   int
	parallelism int
	logger      *log.Logger
}

func NewSyncWorker(store SyncStore, exporter ports.Exporter, batchSize int, logger *log.Logger) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		store:       store,
		exporter:    exporter,
		batchSize:   batchSize,
		parallelism: DefaultParallelism,
		logger:      logger.WithComponent(log.ComponentWorker),
	}
}

// HandleMessage processes one sync message. A returned error requeues it.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	w.logger.DebugContext(ctx, "Processing sync message",
		log.FieldTxID, msg.ID,
		"action", msg.Action)
	return w.Sync(ctx, msg.ID)
}

// Sync mirrors the current state of one row. The message action is not
// trusted: the row itself says whether it was deleted, so replayed or
// reordered messages converge on the latest state.
func (w *SyncWorker) Sync(ctx context.Context, id string) error {
	_, err := w.sync(ctx, id)
	return err
}

// syncOutcome tells a batch which rows actually reached the sheet.
type syncOutcome int

const (
	outcomeSkipped syncOutcome = iota
	outcomeExported
	outcomeRejected
)

func (w *SyncWorker) sync(ctx context.Context, id string) (syncOutcome, error) {
	rec, err := w.store.GetForSync(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		// purged by an earlier delivery
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("get transaction from storage: %w", err)
	}

	if rec.Deleted {
		if err := w.exporter.Remove(ctx, id); err != nil {
			return outcomeSkipped, fmt.Errorf("remove from sheets: %w", err)
		}
		if err := w.store.Purge(ctx, id, rec.Version); err != nil {
			return outcomeSkipped, err
		}
		w.logger.InfoContext(ctx, "Removed transaction from sheets", log.FieldTxID, id)
		return outcomeExported, nil
	}

	if err := rec.Transaction.Validate(); err != nil {
		// retrying cannot fix the row; flag it and drop the message
		w.logger.ErrorContext(ctx, "Transaction cannot be exported",
			log.FieldTxID, id,
			log.FieldError, err)
		return outcomeRejected, w.store.MarkSyncError(ctx, id)
	}

	ref, err := w.exporter.Export(ctx, rec.UserID, rec.Transaction)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("export to sheets: %w", err)
	}
	if err := w.store.MarkSynced(ctx, id, rec.Version); err != nil {
		// the row is already in the sheet; the next poll will rewrite it
		w.logger.ErrorContext(ctx, "Failed to mark as synced", log.FieldTxID, id, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Successfully synced transaction",
		log.FieldTxID, id,
		log.FieldSheetsRef, ref,
		log.FieldAmountCents, core.ToCents(rec.Transaction.Amount))
	return outcomeExported, nil
}

// ProcessPending exports one batch of pending rows and returns how many
// reached the sheet. Individual failures are logged and left pending; rows
// that fail validation are flagged and not counted.
func (w *SyncWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

func (w *SyncWorker) processPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.store.GetPendingSync(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending transactions", log.FieldCount, len(pending))

	var synced, rejected atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.parallelism)
	for _, p := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := w.sync(ctx, p.ID)
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to sync transaction", log.FieldTxID, p.ID, log.FieldError, err)
				return nil
			}
			switch outcome {
			case outcomeExported:
				synced.Add(1)
			case outcomeRejected:
				rejected.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if n := rejected.Load(); n > 0 {
		w.logger.WarnContext(ctx, "Flagged transactions that cannot be exported", log.FieldCount, n)
	}
	return int(synced.Load()), err
}

// StartupSyncCheck exports a larger batch at worker startup to recover from
// messages missed while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	n, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed", "synced", n)
	return nil
}
