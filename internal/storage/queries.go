package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	CreatedAt    string
}

type Transaction struct {
	ID          string
	UserID      string
	Kind        string
	Source      string
	AmountCents int64
	Date        string
	CreatedAt   string
	UpdatedAt   string
	Version     int64
	SyncStatus  string
	SyncedAt    sql.NullString
	DeletedAt   sql.NullString
}

type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, user_id, kind, source, amount_cents, date, created_at, updated_at, version, sync_status, synced_at, deleted_at`

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Kind,
		&t.Source,
		&t.AmountCents,
		&t.Date,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
		&t.SyncStatus,
		&t.SyncedAt,
		&t.DeletedAt,
	)
	return t, err
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (id, name, email, password_hash, created_at)
VALUES (?, ?, ?, ?, ?)
`

type CreateUserParams struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	CreatedAt    string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID,
		arg.Name,
		arg.Email,
		arg.PasswordHash,
		arg.CreatedAt,
	)
	return err
}

const getUser = `-- name: GetUser :one
SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?
`

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, id)
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

const createTransaction = `-- name: CreateTransaction :one
INSERT INTO transactions (id, user_id, kind, source, amount_cents, date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	ID          string
	UserID      string
	Kind        string
	Source      string
	AmountCents int64
	Date        string
	CreatedAt   string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.ID,
		arg.UserID,
		arg.Kind,
		arg.Source,
		arg.AmountCents,
		arg.Date,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return scanTransaction(row)
}

const listTransactions = `-- name: ListTransactions :many
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = ?1
  AND deleted_at IS NULL
  AND (?2 = '' OR date >= ?2)
  AND (?3 = '' OR date <= ?3)
ORDER BY date DESC, rowid DESC
`

// ListTransactionsParams bounds are inclusive YYYY-MM-DD days; empty is open.
type ListTransactionsParams struct {
	UserID string
	From   string
	To     string
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, arg.UserID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ? AND user_id = ? AND deleted_at IS NULL
`

type GetTransactionParams struct {
	ID     string
	UserID string
}

func (q *Queries) GetTransaction(ctx context.Context, arg GetTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getTransaction, arg.ID, arg.UserID)
	return scanTransaction(row)
}

const getTransactionForSync = `-- name: GetTransactionForSync :one
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ?
`

func (q *Queries) GetTransactionForSync(ctx context.Context, id string) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getTransactionForSync, id)
	return scanTransaction(row)
}

const updateTransaction = `-- name: UpdateTransaction :one
UPDATE transactions
SET source = ?, amount_cents = ?, date = ?, updated_at = ?,
    version = version + 1, sync_status = 'pending'
WHERE id = ? AND user_id = ? AND deleted_at IS NULL
RETURNING ` + transactionColumns

type UpdateTransactionParams struct {
	Source      string
	AmountCents int64
	Date        string
	UpdatedAt   string
	ID          string
	UserID      string
}

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, updateTransaction,
		arg.Source,
		arg.AmountCents,
		arg.Date,
		arg.UpdatedAt,
		arg.ID,
		arg.UserID,
	)
	return scanTransaction(row)
}

const softDeleteTransaction = `-- name: SoftDeleteTransaction :execrows
UPDATE transactions
SET deleted_at = ?, updated_at = ?, version = version + 1, sync_status = 'pending'
WHERE id = ? AND user_id = ? AND deleted_at IS NULL
`

type SoftDeleteTransactionParams struct {
	DeletedAt string
	ID        string
	UserID    string
}

func (q *Queries) SoftDeleteTransaction(ctx context.Context, arg SoftDeleteTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, softDeleteTransaction, arg.DeletedAt, arg.DeletedAt, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getPendingSyncTransactions = `-- name: GetPendingSyncTransactions :many
SELECT id, version, created_at
FROM transactions
WHERE sync_status = 'pending'
ORDER BY created_at ASC
LIMIT ?
`

type GetPendingSyncTransactionsRow struct {
	ID        string
	Version   int64
	CreatedAt string
}

func (q *Queries) GetPendingSyncTransactions(ctx context.Context, limit int64) ([]GetPendingSyncTransactionsRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingSyncTransactions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetPendingSyncTransactionsRow
	for rows.Next() {
		var i GetPendingSyncTransactionsRow
		if err := rows.Scan(&i.ID, &i.Version, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markTransactionSynced = `-- name: MarkTransactionSynced :execrows
UPDATE transactions
SET sync_status = 'synced', synced_at = ?
WHERE id = ? AND version = ?
`

type MarkTransactionSyncedParams struct {
	SyncedAt string
	ID       string
	Version  int64
}

func (q *Queries) MarkTransactionSynced(ctx context.Context, arg MarkTransactionSyncedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markTransactionSynced, arg.SyncedAt, arg.ID, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markTransactionSyncError = `-- name: MarkTransactionSyncError :exec
UPDATE transactions SET sync_status = 'error' WHERE id = ?
`

func (q *Queries) MarkTransactionSyncError(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, markTransactionSyncError, id)
	return err
}

const purgeTransaction = `-- name: PurgeTransaction :execrows
DELETE FROM transactions
WHERE id = ? AND version = ? AND deleted_at IS NOT NULL
`

type PurgeTransactionParams struct {
	ID      string
	Version int64
}

func (q *Queries) PurgeTransaction(ctx context.Context, arg PurgeTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, purgeTransaction, arg.ID, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
