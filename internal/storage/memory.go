package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryJournal keeps the journal in process memory. State is lost on
// restart, so it is only suitable for development and tests.
type MemoryJournal struct {
	mu    sync.RWMutex
	ops   []Operation
	bySeq map[uint64]int
}

// Ensure interface conformance
var _ Journal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{bySeq: make(map[uint64]int)}
}

func (j *MemoryJournal) Append(ctx context.Context, op Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.bySeq[op.Sequence]; exists {
		return fmt.Errorf("append operation %d: sequence already journaled", op.Sequence)
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	j.bySeq[op.Sequence] = len(j.ops)
	j.ops = append(j.ops, op)
	return nil
}

func (j *MemoryJournal) Get(ctx context.Context, seq uint64) (Operation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	idx, ok := j.bySeq[seq]
	if !ok {
		return Operation{}, ErrNotFound
	}
	return j.ops[idx], nil
}

func (j *MemoryJournal) ListByAccount(ctx context.Context, account string, limit int) ([]Operation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var ops []Operation
	for _, op := range j.ops {
		if op.Account != account {
			continue
		}
		ops = append(ops, op)
		if limit > 0 && len(ops) == limit {
			break
		}
	}
	return ops, nil
}

func (j *MemoryJournal) ReplayAll(ctx context.Context) ([]Operation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ops := make([]Operation, len(j.ops))
	copy(ops, j.ops)
	return ops, nil
}

func (j *MemoryJournal) PendingExport(ctx context.Context, limit, maxAttempts int) ([]Operation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var ops []Operation
	for _, op := range j.ops {
		if op.Synced || op.SyncAttempts >= maxAttempts {
			continue
		}
		ops = append(ops, op)
		if limit > 0 && len(ops) == limit {
			break
		}
	}
	return ops, nil
}

func (j *MemoryJournal) PendingCount(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := 0
	for _, op := range j.ops {
		if !op.Synced {
			count++
		}
	}
	return count, nil
}

func (j *MemoryJournal) MarkExported(ctx context.Context, seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx, ok := j.bySeq[seq]
	if !ok {
		return fmt.Errorf("operation %d: %w", seq, ErrNotFound)
	}
	j.ops[idx].Synced = true
	j.ops[idx].SyncError = ""
	return nil
}

func (j *MemoryJournal) MarkExportError(ctx context.Context, seq uint64, cause string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx, ok := j.bySeq[seq]
	if !ok {
		return fmt.Errorf("operation %d: %w", seq, ErrNotFound)
	}
	j.ops[idx].SyncAttempts++
	j.ops[idx].SyncError = cause
	return nil
}

func (j *MemoryJournal) Ping(ctx context.Context) error { return nil }

func (j *MemoryJournal) Close() error { return nil }
