package services

import (
	"context"
	"fmt"

	"cointraq/internal/core"
	"cointraq/internal/log"
	"cointraq/internal/ports"
)

// Sync actions published after a write.
const (
	SyncUpsert = "upsert"
	SyncDelete = "delete"
)

// Publisher announces a stored change to the export worker.
type Publisher interface {
	PublishTransactionSync(ctx context.Context, id, action string) error
}

// Invalidator drops cached views of a user after a write.
type Invalidator interface {
	Invalidate(userID string)
}

// TransactionService orchestrates transaction writes across the store, the
// dashboard snapshots and the export queue.
type TransactionService struct {
	store       ports.TransactionStore
	publisher   Publisher
	invalidator Invalidator
	logger      *log.Logger
	events      *log.StructuredLogger
}

// NewTransactionService wires a service. publisher and invalidator may be
// nil.
func NewTransactionService(store ports.TransactionStore, publisher Publisher, invalidator Invalidator, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentTransaction)
	return &TransactionService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
	}
}

func (s *TransactionService) Get(ctx context.Context, p core.Principal, id string) (core.Transaction, error) {
	if p.Anonymous() {
		return core.Transaction{}, core.ErrUnauthorized
	}
	return s.store.Get(ctx, p, id)
}

// Create validates and stores a new transaction.
func (s *TransactionService) Create(ctx context.Context, p core.Principal, in core.TransactionInput) (core.Transaction, error) {
	if p.Anonymous() {
		return core.Transaction{}, core.ErrUnauthorized
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	tx, err := s.store.Create(ctx, p, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	s.afterWrite(ctx, p, tx.ID, SyncUpsert)
	s.events.LogTransactionChanged(ctx, log.OpCreate, p.UserID, tx.ID, string(tx.Kind), core.ToCents(tx.Amount), tx.Date)
	return tx, nil
}

// Update replaces source, amount and date. The kind of a stored transaction
// never changes.
func (s *TransactionService) Update(ctx context.Context, p core.Principal, id string, in core.TransactionInput) (core.Transaction, error) {
	if p.Anonymous() {
		return core.Transaction{}, core.ErrUnauthorized
	}
	if id == "" {
		return core.Transaction{}, core.InvalidInput("empty id")
	}
	if !in.Kind.Valid() {
		// edit forms do not resend the kind
		cur, err := s.store.Get(ctx, p, id)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
		}
		in.Kind = cur.Kind
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	tx, err := s.store.Update(ctx, p, id, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
	}

	s.afterWrite(ctx, p, tx.ID, SyncUpsert)
	s.events.LogTransactionChanged(ctx, log.OpUpdate, p.UserID, tx.ID, string(tx.Kind), core.ToCents(tx.Amount), tx.Date)
	return tx, nil
}

// Delete removes a transaction.
func (s *TransactionService) Delete(ctx context.Context, p core.Principal, id string) error {
	if p.Anonymous() {
		return core.ErrUnauthorized
	}
	if id == "" {
		return core.InvalidInput("empty id")
	}
	if err := s.store.Delete(ctx, p, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}

	s.afterWrite(ctx, p, id, SyncDelete)
	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldUserID, p.UserID,
		log.FieldTxID, id)
	return nil
}

// afterWrite never fails the request: the write is already durable.
func (s *TransactionService) afterWrite(ctx context.Context, p core.Principal, id, action string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(p.UserID)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionSync(ctx, id, action); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish sync message",
			log.FieldTxID, id,
			"action", action,
			log.FieldError, err)
	}
}
