package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coffer/internal/amqp"
	"coffer/internal/core"
	"coffer/internal/storage"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*amqp.OperationMessage
	err       error
}

func (f *fakePublisher) PublishOperation(_ context.Context, msg *amqp.OperationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type failingJournal struct {
	storage.Journal
	appendErr error
}

func (j *failingJournal) Append(ctx context.Context, op storage.Operation) error {
	if j.appendErr != nil {
		return j.appendErr
	}
	return j.Journal.Append(ctx, op)
}

func newTestService(t *testing.T, transfer core.TransferFunc) (*LedgerService, *storage.MemoryJournal, *fakePublisher) {
	t.Helper()
	ledger, err := core.NewLedger(1000, 100, core.WithOwner("owner"))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	var transferer core.Transferer
	if transfer != nil {
		transferer = transfer
	}
	journal := storage.NewMemoryJournal()
	events := &fakePublisher{}
	svc := NewLedgerService(core.NewExecutor(ledger, transferer, nil), journal, events)
	return svc, journal, events
}

func TestDepositJournalsAndPublishes(t *testing.T) {
	svc, journal, events := newTestService(t, nil)
	ctx := context.Background()

	rcpt, err := svc.Deposit(ctx, "alice", 600)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if rcpt.Sequence != 1 || rcpt.Balance != 600 {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}

	op, err := journal.Get(ctx, 1)
	if err != nil {
		t.Fatalf("journal.Get(1) error = %v", err)
	}
	if op.Account != "alice" || op.Kind != "deposit" || op.Amount != 600 || op.BalanceAfter != 600 {
		t.Errorf("unexpected journal row: %+v", op)
	}

	if events.count() != 1 {
		t.Fatalf("published %d messages, want 1", events.count())
	}
	msg := events.published[0]
	if msg.Sequence != 1 || msg.Account != "alice" || msg.Kind != "deposit" || msg.Amount != 600 || msg.Balance != 600 {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWithdrawSettlesAndJournals(t *testing.T) {
	var gotTo core.Principal
	var gotAmount int64
	transfer := func(_ context.Context, to core.Principal, amount int64) error {
		gotTo, gotAmount = to, amount
		return nil
	}
	svc, journal, _ := newTestService(t, transfer)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 600); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	rcpt, err := svc.Withdraw(ctx, "alice", 100)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if rcpt.Balance != 500 {
		t.Errorf("Balance = %d, want 500", rcpt.Balance)
	}
	if gotTo != "alice" || gotAmount != 100 {
		t.Errorf("settlement saw to=%q amount=%d", gotTo, gotAmount)
	}

	ops, err := journal.ReplayAll(ctx)
	if err != nil {
		t.Fatalf("ReplayAll() error = %v", err)
	}
	if len(ops) != 2 || ops[1].Kind != "withdraw" || ops[1].BalanceAfter != 500 {
		t.Errorf("unexpected journal: %+v", ops)
	}
}

func TestFailedSettlementNotJournaled(t *testing.T) {
	transfer := func(_ context.Context, _ core.Principal, _ int64) error {
		return errors.New("bridge down")
	}
	svc, journal, events := newTestService(t, transfer)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 600); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	_, err := svc.Withdraw(ctx, "alice", 100)
	var transferErr *core.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("Withdraw() error = %v, want TransferError", err)
	}

	if got := svc.BalanceOf("alice"); got != 600 {
		t.Errorf("BalanceOf(alice) = %d, want 600 after reversal", got)
	}
	ops, _ := journal.ReplayAll(ctx)
	if len(ops) != 1 {
		t.Errorf("journal has %d rows, want 1 (failed withdraw must not be recorded)", len(ops))
	}
	if events.count() != 1 {
		t.Errorf("published %d messages, want 1", events.count())
	}
}

func TestJournalFailureDegradesReadiness(t *testing.T) {
	ledger, err := core.NewLedger(1000, 100)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	journal := &failingJournal{Journal: storage.NewMemoryJournal(), appendErr: errors.New("disk full")}
	svc := NewLedgerService(core.NewExecutor(ledger, nil, nil), journal, nil)
	ctx := context.Background()

	if err := svc.Ready(ctx); err != nil {
		t.Fatalf("Ready() error = %v, want nil before any miss", err)
	}

	rcpt, err := svc.Deposit(ctx, "alice", 5)
	if err != nil {
		t.Fatalf("Deposit() error = %v, want nil (ledger state is committed)", err)
	}
	if rcpt.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", rcpt.Sequence)
	}

	if err := svc.Ready(ctx); !errors.Is(err, ErrJournalDegraded) {
		t.Errorf("Ready() error = %v, want ErrJournalDegraded", err)
	}
}

func TestPublishFailureDoesNotFailDeposit(t *testing.T) {
	svc, journal, events := newTestService(t, nil)
	events.err = errors.New("broker down")
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 600); err != nil {
		t.Fatalf("Deposit() error = %v, want nil", err)
	}
	if _, err := journal.Get(ctx, 1); err != nil {
		t.Errorf("operation should still be journaled: %v", err)
	}
	if err := svc.Ready(ctx); err != nil {
		t.Errorf("Ready() error = %v, publish misses must not degrade readiness", err)
	}
}

func TestRestoreLedger(t *testing.T) {
	journal := storage.NewMemoryJournal()
	ctx := context.Background()
	seed := []storage.Operation{
		{Sequence: 1, Account: "alice", Kind: "deposit", Amount: 600, BalanceAfter: 600},
		{Sequence: 2, Account: "alice", Kind: "withdraw", Amount: 100, BalanceAfter: 500},
		{Sequence: 3, Account: "bob", Kind: "deposit", Amount: 400, BalanceAfter: 400},
	}
	for _, op := range seed {
		if err := journal.Append(ctx, op); err != nil {
			t.Fatalf("Append(%d): %v", op.Sequence, err)
		}
	}

	ledger, err := core.NewLedger(1000, 100)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	n, err := RestoreLedger(ctx, ledger, journal)
	if err != nil {
		t.Fatalf("RestoreLedger() error = %v", err)
	}
	if n != 3 {
		t.Errorf("RestoreLedger() applied %d, want 3", n)
	}
	if got := ledger.BalanceOf("alice"); got != 500 {
		t.Errorf("BalanceOf(alice) = %d, want 500", got)
	}
	if got := ledger.BalanceOf("bob"); got != 400 {
		t.Errorf("BalanceOf(bob) = %d, want 400", got)
	}
	if stats := ledger.Stats(); stats.Sequence != 3 || stats.HeldBalance != 900 {
		t.Errorf("unexpected stats after restore: %+v", stats)
	}
}

func TestRestoreLedgerRejectsSequenceGap(t *testing.T) {
	journal := storage.NewMemoryJournal()
	ctx := context.Background()
	if err := journal.Append(ctx, storage.Operation{Sequence: 2, Account: "alice", Kind: "deposit", Amount: 5, BalanceAfter: 5}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ledger, err := core.NewLedger(1000, 100)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if _, err := RestoreLedger(ctx, ledger, journal); err == nil {
		t.Fatal("RestoreLedger() should reject a journal starting at sequence 2")
	}
}

func TestConcurrentDepositsQueue(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deposit(ctx, "alice", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Deposit() error = %v, operations must queue", err)
		}
	}
	stats := svc.Stats()
	if stats.DepositOperations != n || stats.HeldBalance != n {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
