package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"coffer/internal/amqp"
	"coffer/internal/core"
	nethttp "coffer/internal/http"
	"coffer/internal/metrics"
	"coffer/internal/storage"
)

// ErrJournalDegraded reports that at least one applied operation could
// not be journaled. The journal has a hole from that point on, so
// readiness stays down until the process restarts.
var ErrJournalDegraded = errors.New("journal degraded: missed at least one append")

// OperationPublisher is the slice of the AMQP client the service needs.
type OperationPublisher interface {
	PublishOperation(ctx context.Context, msg *amqp.OperationMessage) error
}

// LedgerService orchestrates ledger operations across the in-memory
// ledger, the journal and AMQP. Operations are serialized end to end so
// concurrent requests queue instead of bouncing off the executor's
// re-entrancy guard.
type LedgerService struct {
	executor *core.Executor
	journal  storage.Journal
	events   OperationPublisher

	opMu     sync.Mutex
	degraded atomic.Bool
}

// Ensure interface conformance
var _ nethttp.Service = (*LedgerService)(nil)

// NewLedgerService wires the executor to its journal and event queue.
// A nil events publisher skips event publishing.
func NewLedgerService(executor *core.Executor, journal storage.Journal, events OperationPublisher) *LedgerService {
	return &LedgerService{
		executor: executor,
		journal:  journal,
		events:   events,
	}
}

// Deposit admits value into custody for p.
func (s *LedgerService) Deposit(ctx context.Context, p core.Principal, amount int64) (core.Receipt, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rcpt, err := s.executor.Deposit(ctx, p, amount)
	if err != nil {
		return core.Receipt{}, err
	}
	s.record(ctx, rcpt)
	return rcpt, nil
}

// Receive credits unsolicited inbound value for p.
func (s *LedgerService) Receive(ctx context.Context, p core.Principal, amount int64) (core.Receipt, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rcpt, err := s.executor.Receive(ctx, p, amount)
	if err != nil {
		return core.Receipt{}, err
	}
	s.record(ctx, rcpt)
	return rcpt, nil
}

// Withdraw debits p and settles the amount outward. A failed settlement
// reverses the debit inside the executor, so nothing is journaled.
func (s *LedgerService) Withdraw(ctx context.Context, p core.Principal, amount int64) (core.Receipt, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rcpt, err := s.executor.Withdraw(ctx, p, amount)
	if err != nil {
		return core.Receipt{}, err
	}
	s.record(ctx, rcpt)
	return rcpt, nil
}

// record journals the applied operation and publishes its event. The
// ledger state is already committed at this point: a missed append
// degrades readiness instead of failing the request, a missed publish
// is only logged because the worker backfills from the journal.
func (s *LedgerService) record(ctx context.Context, rcpt core.Receipt) {
	op := storage.Operation{
		Sequence:     rcpt.Sequence,
		Account:      string(rcpt.Account),
		Kind:         string(rcpt.Kind),
		Amount:       rcpt.Amount,
		BalanceAfter: rcpt.Balance,
	}
	if err := s.journal.Append(ctx, op); err != nil {
		s.degraded.Store(true)
		slog.ErrorContext(ctx, "Failed to journal operation",
			"sequence", rcpt.Sequence, "error", err)
		return
	}

	if err := s.publishOperation(ctx, rcpt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish operation message",
			"sequence", rcpt.Sequence, "error", err)
	}
}

func (s *LedgerService) publishOperation(ctx context.Context, rcpt core.Receipt) error {
	if s.events == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping operation message")
		return nil
	}

	msg := amqp.NewOperationMessage(rcpt.Sequence, string(rcpt.Account), string(rcpt.Kind), rcpt.Amount, rcpt.Balance)
	err := s.events.PublishOperation(ctx, msg)
	metrics.RecordEventPublish(err)
	return err
}

// BalanceOf returns the balance held for p.
func (s *LedgerService) BalanceOf(p core.Principal) int64 { return s.executor.BalanceOf(p) }

// RemainingCapacity returns how much more value the ledger can accept.
func (s *LedgerService) RemainingCapacity() int64 { return s.executor.RemainingCapacity() }

// CapacityLimit returns the configured bound on total held value.
func (s *LedgerService) CapacityLimit() int64 { return s.executor.CapacityLimit() }

// WithdrawLimit returns the configured bound on a single withdrawal.
func (s *LedgerService) WithdrawLimit() int64 { return s.executor.WithdrawLimit() }

// Stats returns the aggregate counters.
func (s *LedgerService) Stats() core.Stats { return s.executor.Stats() }

// HistoryOf returns acc's operation history, subject to the owner-or-self
// read rule.
func (s *LedgerService) HistoryOf(caller, acc core.Principal) (core.History, error) {
	return s.executor.HistoryOf(caller, acc)
}

// Ready reports whether the journal is reachable and intact.
func (s *LedgerService) Ready(ctx context.Context) error {
	if s.degraded.Load() {
		return ErrJournalDegraded
	}
	return s.journal.Ping(ctx)
}

// RestoreLedger replays the journal into a fresh ledger and returns the
// number of operations applied.
func RestoreLedger(ctx context.Context, ledger *core.Ledger, journal storage.Journal) (int, error) {
	ops, err := journal.ReplayAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("replay journal: %w", err)
	}

	entries := make([]core.JournalEntry, len(ops))
	for i, op := range ops {
		entries[i] = core.JournalEntry{
			Sequence: op.Sequence,
			Account:  core.Principal(op.Account),
			Kind:     core.OperationKind(op.Kind),
			Amount:   op.Amount,
			Balance:  op.BalanceAfter,
		}
	}
	if err := ledger.Restore(entries); err != nil {
		return 0, fmt.Errorf("restore ledger: %w", err)
	}
	return len(entries), nil
}
