package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

type (
	// Transferer moves value out of custody during a withdrawal. A nil
	// return means the value is on its way; any error means it is not, and
	// the executor reverses the debit.
	Transferer interface {
		Transfer(ctx context.Context, to Principal, amount int64) error
	}

	// TransferFunc adapts a function to the Transferer interface.
	TransferFunc func(ctx context.Context, to Principal, amount int64) error

	// Notifier receives exactly one event per successfully completed
	// operation, after all state changes and external effects are done.
	Notifier interface {
		OperationCompleted(ctx context.Context, ev Event)
	}

	// NotifierFunc adapts a function to the Notifier interface.
	NotifierFunc func(ctx context.Context, ev Event)

	// Event describes a completed operation.
	Event struct {
		Sequence   uint64
		Account    Principal
		Kind       OperationKind
		Amount     int64
		Balance    int64
		OccurredAt time.Time
	}
)

func (f TransferFunc) Transfer(ctx context.Context, to Principal, amount int64) error {
	return f(ctx, to, amount)
}

func (f NotifierFunc) OperationCompleted(ctx context.Context, ev Event) { f(ctx, ev) }

// Executor wraps a Ledger with the operation discipline: admit one
// operation at a time, validate before mutating, run the outbound transfer
// only after the debit is committed, reverse the debit if the transfer
// fails, and notify only after full success.
//
// Admission uses an atomic in-progress flag. While an operation is in
// flight any second entry is rejected with ErrReentrancy, including a
// re-entrant call made from inside a transfer callback. Read-only queries
// are not guarded and observe the debited balance during a transfer.
// Callers that want independent operations queued rather than rejected
// serialize above the executor; the service layer does exactly that.
type Executor struct {
	ledger     *Ledger
	transferer Transferer
	notifier   Notifier
	inFlight   atomic.Bool
}

// NewExecutor wraps ledger. A nil transferer rejects every withdrawal with
// a TransferError around ErrNoTransferer; a nil notifier drops events.
func NewExecutor(ledger *Ledger, transferer Transferer, notifier Notifier) *Executor {
	return &Executor{ledger: ledger, transferer: transferer, notifier: notifier}
}

// Deposit admits value into custody for p.
func (x *Executor) Deposit(ctx context.Context, p Principal, amount int64) (Receipt, error) {
	if !x.inFlight.CompareAndSwap(false, true) {
		return Receipt{}, ErrReentrancy
	}
	defer x.inFlight.Store(false)

	rcpt, err := x.ledger.Deposit(p, amount)
	if err != nil {
		return Receipt{}, err
	}
	x.notify(ctx, rcpt)
	return rcpt, nil
}

// Receive handles unsolicited inbound value. It is the same admission path
// as Deposit under a name matching intent at the call site.
func (x *Executor) Receive(ctx context.Context, p Principal, amount int64) (Receipt, error) {
	return x.Deposit(ctx, p, amount)
}

// Withdraw debits p and hands the amount to the transferer. The debit is
// committed before the transfer runs, so queries during the transfer see
// the reduced balance; a failed transfer reverses the debit and reports a
// TransferError.
func (x *Executor) Withdraw(ctx context.Context, p Principal, amount int64) (Receipt, error) {
	if !x.inFlight.CompareAndSwap(false, true) {
		return Receipt{}, ErrReentrancy
	}
	defer x.inFlight.Store(false)

	rcpt, err := x.ledger.Withdraw(p, amount)
	if err != nil {
		return Receipt{}, err
	}
	if err := x.transfer(ctx, p, amount); err != nil {
		x.ledger.ReverseWithdraw(p, amount)
		return Receipt{}, &TransferError{To: p, Amount: amount, Err: err}
	}
	x.notify(ctx, rcpt)
	return rcpt, nil
}

// transfer runs the outbound transfer with a panic barrier: a panicking
// transferer must not leave the guard set or the debit unreversed.
func (x *Executor) transfer(ctx context.Context, to Principal, amount int64) (err error) {
	if x.transferer == nil {
		return ErrNoTransferer
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transferer panic: %v", r)
		}
	}()
	return x.transferer.Transfer(ctx, to, amount)
}

func (x *Executor) notify(ctx context.Context, rcpt Receipt) {
	if x.notifier == nil {
		return
	}
	x.notifier.OperationCompleted(ctx, Event{
		Sequence:   rcpt.Sequence,
		Account:    rcpt.Account,
		Kind:       rcpt.Kind,
		Amount:     rcpt.Amount,
		Balance:    rcpt.Balance,
		OccurredAt: time.Now().UTC(),
	})
}

// BalanceOf returns the balance held for p.
func (x *Executor) BalanceOf(p Principal) int64 { return x.ledger.BalanceOf(p) }

// RemainingCapacity returns how much more value the ledger can accept.
func (x *Executor) RemainingCapacity() int64 { return x.ledger.RemainingCapacity() }

// Stats returns the aggregate counters.
func (x *Executor) Stats() Stats { return x.ledger.Stats() }

// HistoryOf returns acc's operation history, subject to the ledger's
// owner-or-self read rule.
func (x *Executor) HistoryOf(caller, acc Principal) (History, error) {
	return x.ledger.HistoryOf(caller, acc)
}

// Snapshot returns a value copy of the ledger state.
func (x *Executor) Snapshot() Snapshot { return x.ledger.Snapshot() }

// CapacityLimit returns the configured bound on total held value.
func (x *Executor) CapacityLimit() int64 { return x.ledger.CapacityLimit() }

// WithdrawLimit returns the configured bound on a single withdrawal.
func (x *Executor) WithdrawLimit() int64 { return x.ledger.WithdrawLimit() }
