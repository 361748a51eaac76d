package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"coffer/internal/amqp"
	"coffer/internal/storage"
)

type fakeExporter struct {
	mu       sync.Mutex
	appended []storage.Operation
	err      error
}

func (f *fakeExporter) Append(_ context.Context, op storage.Operation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.appended = append(f.appended, op)
	return fmt.Sprintf("fake:%d", len(f.appended)), nil
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func seedJournal(t *testing.T, journal storage.Journal, n int) {
	t.Helper()
	ctx := context.Background()
	balance := int64(0)
	for i := 1; i <= n; i++ {
		balance += 10
		op := storage.Operation{
			Sequence:     uint64(i),
			Account:      "alice",
			Kind:         "deposit",
			Amount:       10,
			BalanceAfter: balance,
		}
		if err := journal.Append(ctx, op); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.BatchSize != 50 {
		t.Errorf("expected BatchSize 50, got %d", config.BatchSize)
	}
	if config.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts 5, got %d", config.MaxAttempts)
	}
}

func TestHandleOperationMessageExportsRow(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 1)
	exporter := &fakeExporter{}
	w := NewExportWorker(journal, exporter, DefaultConfig())
	ctx := context.Background()

	msg := amqp.NewOperationMessage(1, "alice", "deposit", 10, 10)
	if err := w.HandleOperationMessage(ctx, msg); err != nil {
		t.Fatalf("HandleOperationMessage() error = %v", err)
	}

	if exporter.count() != 1 {
		t.Fatalf("exported %d rows, want 1", exporter.count())
	}
	op, err := journal.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if !op.Synced {
		t.Error("row should be marked exported")
	}
}

func TestHandleOperationMessageSkipsExportedRow(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 1)
	ctx := context.Background()
	if err := journal.MarkExported(ctx, 1); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}

	exporter := &fakeExporter{}
	w := NewExportWorker(journal, exporter, DefaultConfig())

	if err := w.HandleOperationMessage(ctx, amqp.NewOperationMessage(1, "alice", "deposit", 10, 10)); err != nil {
		t.Fatalf("HandleOperationMessage() error = %v", err)
	}
	if exporter.count() != 0 {
		t.Errorf("exported %d rows, want 0", exporter.count())
	}
}

func TestHandleOperationMessageDropsUnknownSequence(t *testing.T) {
	journal := storage.NewMemoryJournal()
	exporter := &fakeExporter{}
	w := NewExportWorker(journal, exporter, DefaultConfig())

	// A nil return acknowledges the message, otherwise it would be
	// redelivered forever.
	err := w.HandleOperationMessage(context.Background(), amqp.NewOperationMessage(99, "alice", "deposit", 10, 10))
	if err != nil {
		t.Fatalf("HandleOperationMessage() error = %v, want nil", err)
	}
	if exporter.count() != 0 {
		t.Errorf("exported %d rows, want 0", exporter.count())
	}
}

func TestHandleOperationMessageCountsFailedAttempt(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 1)
	exporter := &fakeExporter{err: errors.New("sheet unavailable")}
	w := NewExportWorker(journal, exporter, DefaultConfig())
	ctx := context.Background()

	err := w.HandleOperationMessage(ctx, amqp.NewOperationMessage(1, "alice", "deposit", 10, 10))
	if err == nil {
		t.Fatal("HandleOperationMessage() should fail when the exporter fails")
	}

	op, getErr := journal.Get(ctx, 1)
	if getErr != nil {
		t.Fatalf("Get(1): %v", getErr)
	}
	if op.Synced {
		t.Error("row must not be marked exported after a failure")
	}
	if op.SyncAttempts != 1 {
		t.Errorf("SyncAttempts = %d, want 1", op.SyncAttempts)
	}
	if !strings.Contains(op.SyncError, "sheet unavailable") {
		t.Errorf("SyncError = %q, want the failure cause", op.SyncError)
	}
}

func TestHandleOperationMessageDropsPoisonRow(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := journal.MarkExportError(ctx, 1, "sheet unavailable"); err != nil {
			t.Fatalf("MarkExportError: %v", err)
		}
	}

	config := DefaultConfig()
	config.MaxAttempts = 2
	exporter := &fakeExporter{}
	w := NewExportWorker(journal, exporter, config)

	if err := w.HandleOperationMessage(ctx, amqp.NewOperationMessage(1, "alice", "deposit", 10, 10)); err != nil {
		t.Fatalf("HandleOperationMessage() error = %v, want nil for a parked row", err)
	}
	if exporter.count() != 0 {
		t.Errorf("exported %d rows, want 0", exporter.count())
	}
}

func TestProcessPendingHonorsBatchSize(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 3)
	exporter := &fakeExporter{}
	config := DefaultConfig()
	config.BatchSize = 2
	w := NewExportWorker(journal, exporter, config)
	ctx := context.Background()

	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if exporter.count() != 2 {
		t.Fatalf("exported %d rows, want 2", exporter.count())
	}
	if n, _ := journal.PendingCount(ctx); n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}

	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("second ProcessPending() error = %v", err)
	}
	if n, _ := journal.PendingCount(ctx); n != 0 {
		t.Errorf("PendingCount = %d, want 0 after second sweep", n)
	}
}

func TestStartupCheckUsesLargerBatch(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 4)
	exporter := &fakeExporter{}
	config := DefaultConfig()
	config.BatchSize = 1
	w := NewExportWorker(journal, exporter, config)
	ctx := context.Background()

	if err := w.StartupCheck(ctx); err != nil {
		t.Fatalf("StartupCheck() error = %v", err)
	}
	if exporter.count() != 4 {
		t.Errorf("exported %d rows, want all 4", exporter.count())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	journal := storage.NewMemoryJournal()
	seedJournal(t, journal, 1)
	exporter := &fakeExporter{}
	config := DefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	w := NewExportWorker(journal, exporter, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if w.IsRunning() {
		t.Error("worker should not be running initially")
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("worker should be running after Start")
	}
	if err := w.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(time.Second)
	for {
		op, err := journal.Get(context.Background(), 1)
		if err == nil && op.Synced {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweep loop never exported the pending row")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after Stop")
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}
