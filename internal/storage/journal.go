// Package storage persists the operation journal. Every admitted ledger
// operation is appended here; on startup the journal is replayed to
// rebuild the in-memory state, and the export worker drains rows that
// have not been mirrored to the external sheet yet.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a journal row does not exist.
var ErrNotFound = errors.New("operation not found")

// Operation is one journal row. Sequence comes from the ledger and is
// the primary key, so double appends fail loudly.
type Operation struct {
	Sequence     uint64
	Account      string
	Kind         string
	Amount       int64
	BalanceAfter int64
	CreatedAt    time.Time
	Synced       bool
	SyncAttempts int
	SyncError    string
}

// Journal is the persistence port for admitted operations.
type Journal interface {
	// Append stores one operation. Appending an existing sequence fails.
	Append(ctx context.Context, op Operation) error

	// Get returns the operation with the given sequence, or ErrNotFound.
	Get(ctx context.Context, seq uint64) (Operation, error)

	// ListByAccount returns the operations of one account in sequence
	// order. A non-positive limit returns all of them.
	ListByAccount(ctx context.Context, account string, limit int) ([]Operation, error)

	// ReplayAll returns every operation in sequence order.
	ReplayAll(ctx context.Context) ([]Operation, error)

	// PendingExport returns unexported operations in sequence order,
	// skipping rows that already burned maxAttempts tries.
	PendingExport(ctx context.Context, limit, maxAttempts int) ([]Operation, error)

	// PendingCount returns how many operations are not exported yet.
	PendingCount(ctx context.Context) (int, error)

	// MarkExported flags one operation as mirrored to the export target.
	MarkExported(ctx context.Context, seq uint64) error

	// MarkExportError records a failed export attempt for one operation.
	MarkExportError(ctx context.Context, seq uint64, cause string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
