// Package worker mirrors journaled operations to the export backend. It
// consumes operation events from AMQP and periodically sweeps the
// journal for rows the event stream missed, so a lost message delays an
// export instead of losing it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coffer/internal/amqp"
	"coffer/internal/export"
	"coffer/internal/metrics"
	"coffer/internal/storage"
)

// Config holds configuration for the export worker.
type Config struct {
	// PollInterval is how often to sweep the journal for pending rows (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of rows to export per sweep (default: 50)
	BatchSize int

	// MaxAttempts is the number of export attempts before a row is parked (default: 5)
	MaxAttempts int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BatchSize:    50,
		MaxAttempts:  5,
	}
}

// ExportWorker drives the exporter from the journal.
type ExportWorker struct {
	journal  storage.Journal
	exporter export.Exporter
	config   Config

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportWorker(journal storage.Journal, exporter export.Exporter, config Config) *ExportWorker {
	return &ExportWorker{
		journal:  journal,
		exporter: exporter,
		config:   config,
	}
}

// HandleOperationMessage exports the journal row named by one AMQP message.
// Returning nil acknowledges the message. Rows already exported or past the
// attempt cap are acknowledged without work, so a poison row cannot keep a
// redelivery loop alive.
func (w *ExportWorker) HandleOperationMessage(ctx context.Context, msg *amqp.OperationMessage) error {
	slog.InfoContext(ctx, "Processing operation message",
		"sequence", msg.Sequence,
		"kind", msg.Kind)

	op, err := w.journal.Get(ctx, msg.Sequence)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The server missed the journal append for this operation.
			slog.WarnContext(ctx, "Operation not in journal, dropping message",
				"sequence", msg.Sequence)
			return nil
		}
		return fmt.Errorf("get operation from journal: %w", err)
	}

	if op.Synced {
		return nil
	}
	if op.SyncAttempts >= w.config.MaxAttempts {
		slog.WarnContext(ctx, "Operation exceeded export attempts, dropping message",
			"sequence", op.Sequence,
			"attempts", op.SyncAttempts)
		return nil
	}

	if err := w.exportOperation(ctx, op); err != nil {
		return fmt.Errorf("export operation: %w", err)
	}
	return nil
}

// ProcessPending exports journal rows the event stream missed.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.journal.PendingExport(ctx, w.config.BatchSize, w.config.MaxAttempts)
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending operations", "count", len(pending))

	for _, op := range pending {
		if err := w.exportOperation(ctx, op); err != nil {
			slog.ErrorContext(ctx, "Failed to export operation",
				"sequence", op.Sequence, "error", err)
			continue
		}
	}

	return nil
}

// StartupCheck drains rows left pending across a restart, with a larger
// batch than the periodic sweep.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.journal.PendingExport(ctx, w.config.BatchSize*5, w.config.MaxAttempts)
	if err != nil {
		return fmt.Errorf("list pending operations for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending operations found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending operations on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, op := range pending {
		if err := w.exportOperation(ctx, op); err != nil {
			slog.ErrorContext(ctx, "Failed to export operation during startup",
				"sequence", op.Sequence, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup check completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)

	return nil
}

// Start begins the periodic sweep loop. Returns an error if already running.
func (w *ExportWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("export worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Export worker started",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize)

	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (w *ExportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Export worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// IsRunning returns whether the sweep loop is currently active.
func (w *ExportWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// runLoop is the main sweep loop
func (w *ExportWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Sweep immediately on startup
	w.sweep(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExportWorker) sweep(ctx context.Context) {
	if err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to process pending operations", "error", err)
	}
	w.publishBacklog(ctx)
}

func (w *ExportWorker) publishBacklog(ctx context.Context) {
	n, err := w.journal.PendingCount(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to count pending operations", "error", err)
		return
	}
	metrics.SetExportBacklog(n)
}

// exportOperation appends one row to the exporter and flips its sync
// state, counting the attempt on failure.
func (w *ExportWorker) exportOperation(ctx context.Context, op storage.Operation) error {
	start := time.Now()
	ref, err := w.exporter.Append(ctx, op)
	metrics.RecordExportAttempt(time.Since(start), err)
	if err != nil {
		if markErr := w.journal.MarkExportError(ctx, op.Sequence, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"sequence", op.Sequence, "error", markErr)
		}
		return fmt.Errorf("append to exporter: %w", err)
	}

	if err := w.journal.MarkExported(ctx, op.Sequence); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as exported",
			"sequence", op.Sequence, "error", err)
		// Don't return the error here - the export actually worked
	}

	slog.InfoContext(ctx, "Exported operation",
		"sequence", op.Sequence,
		"row_ref", ref)

	return nil
}
