package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cointraq/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
	cost    int
}

type Option func(*SQLiteRepository)

// WithClock overrides the clock used for timestamps and range filters.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) { r.now = now }
}

// WithBcryptCost lowers the hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(r *SQLiteRepository) { r.cost = cost }
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
		cost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(repo)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// Register implements ports.Authenticator
func (r *SQLiteRepository) Register(ctx context.Context, name, email, password string) (core.Principal, error) {
	email = core.NormalizeEmail(email)
	if err := core.ValidateCredentials(email, password); err != nil {
		return core.Principal{}, err
	}
	if _, err := r.queries.GetUserByEmail(ctx, email); err == nil {
		return core.Principal{}, fmt.Errorf("%w: email already registered", core.ErrConflict)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return core.Principal{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return core.Principal{}, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	err = r.queries.CreateUser(ctx, CreateUserParams{
		ID:           id,
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    r.timestamp(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.Principal{}, fmt.Errorf("%w: email already registered", core.ErrConflict)
		}
		return core.Principal{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "User registered", "user_id", id)
	return core.Principal{UserID: id, Email: email}, nil
}

// Login implements ports.Authenticator
func (r *SQLiteRepository) Login(ctx context.Context, email, password string) (core.Principal, error) {
	u, err := r.queries.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Principal{}, core.ErrUnauthorized
	}
	if err != nil {
		return core.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return core.Principal{}, core.ErrUnauthorized
	}
	return core.Principal{UserID: u.ID, Email: u.Email}, nil
}

// Status implements ports.Authenticator
func (r *SQLiteRepository) Status(ctx context.Context, p core.Principal) (core.User, error) {
	u, err := r.queries.GetUser(ctx, p.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUnauthorized
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	created, _ := time.Parse(time.RFC3339Nano, u.CreatedAt)
	return core.User{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    created,
	}, nil
}

// Logout implements ports.Authenticator. Sessions live in the client cookie.
func (r *SQLiteRepository) Logout(context.Context, core.Principal) error {
	return nil
}

// List implements ports.TransactionReader
func (r *SQLiteRepository) List(ctx context.Context, p core.Principal, f core.RangeFilter) ([]core.Transaction, error) {
	if p.Anonymous() {
		return nil, core.ErrUnauthorized
	}
	from, to := f.Bounds(core.TruncateDay(r.now()))
	rows, err := r.queries.ListTransactions(ctx, ListTransactionsParams{
		UserID: p.UserID,
		From:   formatBound(from),
		To:     formatBound(to),
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = row.toCore()
	}
	return out, nil
}

// Get implements ports.TransactionReader
func (r *SQLiteRepository) Get(ctx context.Context, p core.Principal, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, GetTransactionParams{ID: id, UserID: p.UserID})
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return row.toCore(), nil
}

// Create implements ports.TransactionWriter
func (r *SQLiteRepository) Create(ctx context.Context, p core.Principal, in core.TransactionInput) (core.Transaction, error) {
	if p.Anonymous() {
		return core.Transaction{}, core.ErrUnauthorized
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx := in.Transaction(uuid.NewString())
	row, err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		ID:          tx.ID,
		UserID:      p.UserID,
		Kind:        string(tx.Kind),
		Source:      tx.Source,
		AmountCents: core.ToCents(tx.Amount),
		Date:        tx.Date,
		CreatedAt:   r.timestamp(),
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", row.ID,
		"type", row.Kind,
		"amount_cents", row.AmountCents,
		"date", row.Date)

	return row.toCore(), nil
}

// Update implements ports.TransactionWriter. The kind is immutable.
func (r *SQLiteRepository) Update(ctx context.Context, p core.Principal, id string, in core.TransactionInput) (core.Transaction, error) {
	current, err := r.Get(ctx, p, id)
	if err != nil {
		return core.Transaction{}, err
	}
	in.Kind = current.Kind
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx := in.Transaction(id)
	row, err := r.queries.UpdateTransaction(ctx, UpdateTransactionParams{
		Source:      tx.Source,
		AmountCents: core.ToCents(tx.Amount),
		Date:        tx.Date,
		UpdatedAt:   r.timestamp(),
		ID:          id,
		UserID:      p.UserID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return row.toCore(), nil
}

// Delete implements ports.TransactionWriter. The row is kept, marked deleted,
// until the export worker has removed it from the spreadsheet.
func (r *SQLiteRepository) Delete(ctx context.Context, p core.Principal, id string) error {
	n, err := r.queries.SoftDeleteTransaction(ctx, SoftDeleteTransactionParams{
		DeletedAt: r.timestamp(),
		ID:        id,
		UserID:    p.UserID,
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// PendingSync is the minimal data the export worker needs to pick up a row.
type PendingSync struct {
	ID        string
	Version   int64
	CreatedAt time.Time
}

// SyncRecord is a row as seen by the export worker, deleted rows included.
type SyncRecord struct {
	UserID      string
	Transaction core.Transaction
	Version     int64
	Deleted     bool
}

// GetPendingSync returns rows that still have to be exported, oldest first.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingSync, error) {
	rows, err := r.queries.GetPendingSyncTransactions(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	out := make([]PendingSync, len(rows))
	for i, row := range rows {
		created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
		out[i] = PendingSync{ID: row.ID, Version: row.Version, CreatedAt: created}
	}
	return out, nil
}

// GetForSync loads a row regardless of its deletion state.
func (r *SQLiteRepository) GetForSync(ctx context.Context, id string) (SyncRecord, error) {
	row, err := r.queries.GetTransactionForSync(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncRecord{}, core.ErrNotFound
	}
	if err != nil {
		return SyncRecord{}, fmt.Errorf("get transaction for sync: %w", err)
	}
	return SyncRecord{
		UserID:      row.UserID,
		Transaction: row.toCore(),
		Version:     row.Version,
		Deleted:     row.DeletedAt.Valid,
	}, nil
}

// MarkSynced marks a row as exported. A row edited after the export was read
// has a newer version and stays pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, version int64) error {
	n, err := r.queries.MarkTransactionSynced(ctx, MarkTransactionSyncedParams{
		SyncedAt: r.timestamp(),
		ID:       id,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	if n == 0 {
		slog.InfoContext(ctx, "Transaction changed during sync, left pending", "id", id, "version", version)
		return nil
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id, "version", version)
	return nil
}

// MarkSyncError flags a row whose export failed permanently.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	if err := r.queries.MarkTransactionSyncError(ctx, id); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

// Purge removes a soft-deleted row once its removal has been exported.
func (r *SQLiteRepository) Purge(ctx context.Context, id string, version int64) error {
	if _, err := r.queries.PurgeTransaction(ctx, PurgeTransactionParams{ID: id, Version: version}); err != nil {
		return fmt.Errorf("purge transaction: %w", err)
	}
	return nil
}

func (t Transaction) toCore() core.Transaction {
	return core.Transaction{
		ID:     t.ID,
		Kind:   core.Kind(t.Kind),
		Source: t.Source,
		Amount: core.FromCents(t.AmountCents),
		Date:   t.Date,
	}
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}
