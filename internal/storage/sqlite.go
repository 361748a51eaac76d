package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteJournal stores the operation journal in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// Ensure interface conformance
var _ Journal = (*SQLiteJournal)(nil)

// NewSQLiteJournal opens the journal database, creating the file and
// running migrations if needed.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// The journal is a single-writer store, concurrent writers would
	// only contend on SQLite's file lock.
	db.SetMaxOpenConns(1)

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *SQLiteJournal) Append(ctx context.Context, op Operation) error {
	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO operations (seq, account, kind, amount, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.Sequence, op.Account, op.Kind, op.Amount, op.BalanceAfter, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("append operation %d: %w", op.Sequence, err)
	}
	return nil
}

func (j *SQLiteJournal) Get(ctx context.Context, seq uint64) (Operation, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT seq, account, kind, amount, balance_after, created_at, synced, sync_attempts, sync_error
		 FROM operations WHERE seq = ?`, seq)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, ErrNotFound
	}
	if err != nil {
		return Operation{}, fmt.Errorf("get operation %d: %w", seq, err)
	}
	return op, nil
}

func (j *SQLiteJournal) ListByAccount(ctx context.Context, account string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, account, kind, amount, balance_after, created_at, synced, sync_attempts, sync_error
		 FROM operations WHERE account = ? ORDER BY seq LIMIT ?`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations for %s: %w", account, err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

func (j *SQLiteJournal) ReplayAll(ctx context.Context) ([]Operation, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, account, kind, amount, balance_after, created_at, synced, sync_attempts, sync_error
		 FROM operations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("replay operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

func (j *SQLiteJournal) PendingExport(ctx context.Context, limit, maxAttempts int) ([]Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, account, kind, amount, balance_after, created_at, synced, sync_attempts, sync_error
		 FROM operations
		 WHERE synced = 0 AND sync_attempts < ?
		 ORDER BY seq LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

func (j *SQLiteJournal) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operations WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending exports: %w", err)
	}
	return count, nil
}

func (j *SQLiteJournal) MarkExported(ctx context.Context, seq uint64) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE operations SET synced = 1, sync_error = '' WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("mark operation %d exported: %w", seq, err)
	}
	return requireRow(res, seq)
}

func (j *SQLiteJournal) MarkExportError(ctx context.Context, seq uint64, cause string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE operations SET sync_attempts = sync_attempts + 1, sync_error = ? WHERE seq = ?`,
		cause, seq)
	if err != nil {
		return fmt.Errorf("mark operation %d export error: %w", seq, err)
	}
	return requireRow(res, seq)
}

func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func requireRow(res sql.Result, seq uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("operation %d: %w", seq, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (Operation, error) {
	var (
		op       Operation
		created  time.Time
		syncedV  int
		syncErr  string
		attempts int
	)
	if err := row.Scan(&op.Sequence, &op.Account, &op.Kind, &op.Amount, &op.BalanceAfter,
		&created, &syncedV, &attempts, &syncErr); err != nil {
		return Operation{}, err
	}
	op.CreatedAt = created
	op.Synced = syncedV != 0
	op.SyncAttempts = attempts
	op.SyncError = syncErr
	return op, nil
}

func collectOperations(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}
