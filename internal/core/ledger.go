package core

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

const (
	KindDeposit  OperationKind = "deposit"
	KindWithdraw OperationKind = "withdraw"
)

type (
	// Principal identifies an account holder. The ledger never interprets
	// the value beyond requiring it to be non-empty.
	Principal string

	OperationKind string

	account struct {
		balance       int64
		depositCount  int64
		withdrawCount int64
		deposits      []int64
		withdrawals   []int64
	}

	// Receipt describes a successfully applied operation.
	Receipt struct {
		Sequence uint64
		Account  Principal
		Kind     OperationKind
		Amount   int64
		Balance  int64
	}

	// Stats is a value copy of the aggregate counters.
	Stats struct {
		TotalDeposited     int64
		TotalWithdrawn     int64
		DepositOperations  int64
		WithdrawOperations int64
		HeldBalance        int64
		RemainingCapacity  int64
		Sequence           uint64
		Accounts           int
	}

	// History holds the per-account operation amounts in the order they
	// were applied. Slices are copies owned by the caller.
	History struct {
		Account     Principal
		Deposits    []int64
		Withdrawals []int64
	}

	// AccountSnapshot is a value copy of one account's state.
	AccountSnapshot struct {
		Balance       int64
		DepositCount  int64
		WithdrawCount int64
	}

	// Snapshot is a value copy of the whole ledger state.
	Snapshot struct {
		Accounts map[Principal]AccountSnapshot
		Stats    Stats
	}

	// JournalEntry is one replayable operation record.
	JournalEntry struct {
		Sequence uint64
		Account  Principal
		Kind     OperationKind
		Amount   int64
		Balance  int64
	}
)

// Ledger holds custodial balances bounded by a capacity limit on the total
// value held and a per-operation withdrawal limit. Both bounds are fixed at
// construction. All amounts are int64 in the smallest indivisible unit and
// arithmetic fails closed: an operation that would overflow or break a bound
// is rejected and changes nothing.
//
// Ledger methods are safe for concurrent use. Callers that need operations
// serialized end to end (including external effects between validate and
// commit) wrap the ledger in an Executor.
type Ledger struct {
	mu sync.RWMutex

	capacityLimit int64
	withdrawLimit int64
	owner         Principal

	accounts       map[Principal]*account
	totalDeposited int64
	totalWithdrawn int64
	depositOps     int64
	withdrawOps    int64
	seq            uint64
}

// NewLedger builds an empty ledger. Both limits must be positive and the
// per-operation withdrawal limit must be strictly below the capacity limit.
func NewLedger(capacityLimit, withdrawLimit int64, opts ...LedgerOption) (*Ledger, error) {
	if capacityLimit <= 0 {
		return nil, fmt.Errorf("capacity limit must be positive, got %d", capacityLimit)
	}
	if withdrawLimit <= 0 {
		return nil, fmt.Errorf("withdraw limit must be positive, got %d", withdrawLimit)
	}
	if withdrawLimit >= capacityLimit {
		return nil, fmt.Errorf("withdraw limit %d must be below capacity limit %d", withdrawLimit, capacityLimit)
	}
	l := &Ledger{
		capacityLimit: capacityLimit,
		withdrawLimit: withdrawLimit,
		accounts:      make(map[Principal]*account),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LedgerOption configures optional ledger behavior at construction.
type LedgerOption func(*Ledger)

// WithOwner grants one principal read access to every account's history.
func WithOwner(owner Principal) LedgerOption {
	return func(l *Ledger) { l.owner = owner }
}

func validPrincipal(p Principal) error {
	if strings.TrimSpace(string(p)) == "" {
		return ErrEmptyPrincipal
	}
	return nil
}

// CapacityLimit returns the configured bound on total held value.
func (l *Ledger) CapacityLimit() int64 { return l.capacityLimit }

// WithdrawLimit returns the configured bound on a single withdrawal.
func (l *Ledger) WithdrawLimit() int64 { return l.withdrawLimit }

// held is the total value currently in custody. Callers hold l.mu.
func (l *Ledger) held() int64 {
	return l.totalDeposited - l.totalWithdrawn
}

// ValidateDeposit reports whether a deposit of amount would be admitted
// right now. It never mutates state.
func (l *Ledger) ValidateDeposit(amount int64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateDeposit(amount)
}

func (l *Ledger) validateDeposit(amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if amount > math.MaxInt64-l.totalDeposited {
		return ErrAmountOverflow
	}
	if remaining := l.capacityLimit - l.held(); amount > remaining {
		return &CapacityError{Attempted: amount, Remaining: remaining}
	}
	return nil
}

// ValidateWithdraw reports whether principal could withdraw amount right
// now. Checks run in a fixed order: amount, per-operation limit, balance.
func (l *Ledger) ValidateWithdraw(p Principal, amount int64) error {
	if err := validPrincipal(p); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateWithdraw(p, amount)
}

func (l *Ledger) validateWithdraw(p Principal, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if amount > l.withdrawLimit {
		return &WithdrawLimitError{Requested: amount, Limit: l.withdrawLimit}
	}
	available := l.balanceOf(p)
	if amount > available {
		return &InsufficientBalanceError{Principal: p, Available: available, Requested: amount}
	}
	return nil
}

// Deposit validates and applies a deposit in one critical section. On
// success the new balance and the assigned sequence number are returned; on
// rejection the ledger is unchanged.
func (l *Ledger) Deposit(p Principal, amount int64) (Receipt, error) {
	if err := validPrincipal(p); err != nil {
		return Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.validateDeposit(amount); err != nil {
		return Receipt{}, err
	}
	acct := l.account(p)
	acct.balance += amount
	acct.depositCount++
	acct.deposits = append(acct.deposits, amount)
	l.totalDeposited += amount
	l.depositOps++
	l.seq++
	return Receipt{
		Sequence: l.seq,
		Account:  p,
		Kind:     KindDeposit,
		Amount:   amount,
		Balance:  acct.balance,
	}, nil
}

// Withdraw validates and debits a withdrawal in one critical section. The
// debit and the totalWithdrawn counter move together, so conservation holds
// at every observable point. On rejection the ledger is unchanged.
func (l *Ledger) Withdraw(p Principal, amount int64) (Receipt, error) {
	if err := validPrincipal(p); err != nil {
		return Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.validateWithdraw(p, amount); err != nil {
		return Receipt{}, err
	}
	acct := l.account(p)
	acct.balance -= amount
	acct.withdrawCount++
	acct.withdrawals = append(acct.withdrawals, amount)
	l.totalWithdrawn += amount
	l.withdrawOps++
	l.seq++
	return Receipt{
		Sequence: l.seq,
		Account:  p,
		Kind:     KindWithdraw,
		Amount:   amount,
		Balance:  acct.balance,
	}, nil
}

// ReverseWithdraw rewinds the most recent withdrawal of amount for p after
// its outbound transfer failed. Balance, totals, counters and the sequence
// number all return to their pre-operation values, so a failed operation is
// never half-applied. Only the Executor calls this, under its guard.
func (l *Ledger) ReverseWithdraw(p Principal, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[p]
	if !ok {
		return
	}
	acct.balance += amount
	acct.withdrawCount--
	if n := len(acct.withdrawals); n > 0 {
		acct.withdrawals = acct.withdrawals[:n-1]
	}
	l.totalWithdrawn -= amount
	l.withdrawOps--
	l.seq--
}

// account returns the record for p, creating it on first use. Callers hold
// l.mu for writing.
func (l *Ledger) account(p Principal) *account {
	acct, ok := l.accounts[p]
	if !ok {
		acct = &account{}
		l.accounts[p] = acct
	}
	return acct
}

// BalanceOf returns the balance held for p. Unknown principals hold zero.
func (l *Ledger) BalanceOf(p Principal) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceOf(p)
}

func (l *Ledger) balanceOf(p Principal) int64 {
	if acct, ok := l.accounts[p]; ok {
		return acct.balance
	}
	return 0
}

// RemainingCapacity returns how much additional value the ledger can accept
// before hitting the capacity limit. Withdrawals free capacity.
func (l *Ledger) RemainingCapacity() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capacityLimit - l.held()
}

// Stats returns a value copy of the aggregate counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		TotalDeposited:     l.totalDeposited,
		TotalWithdrawn:     l.totalWithdrawn,
		DepositOperations:  l.depositOps,
		WithdrawOperations: l.withdrawOps,
		HeldBalance:        l.held(),
		RemainingCapacity:  l.capacityLimit - l.held(),
		Sequence:           l.seq,
		Accounts:           len(l.accounts),
	}
}

// HistoryOf returns the ordered operation amounts for account. Callers may
// read their own history; the configured owner may read any account's.
func (l *Ledger) HistoryOf(caller, acc Principal) (History, error) {
	if err := validPrincipal(caller); err != nil {
		return History{}, err
	}
	if err := validPrincipal(acc); err != nil {
		return History{}, err
	}
	if caller != acc && (l.owner == "" || caller != l.owner) {
		return History{}, ErrNotAuthorized
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := History{Account: acc}
	if acct, ok := l.accounts[acc]; ok {
		h.Deposits = append([]int64(nil), acct.deposits...)
		h.Withdrawals = append([]int64(nil), acct.withdrawals...)
	}
	return h, nil
}

// Snapshot returns a value copy of all ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{Accounts: make(map[Principal]AccountSnapshot, len(l.accounts))}
	for p, acct := range l.accounts {
		snap.Accounts[p] = AccountSnapshot{
			Balance:       acct.balance,
			DepositCount:  acct.depositCount,
			WithdrawCount: acct.withdrawCount,
		}
	}
	snap.Stats = Stats{
		TotalDeposited:     l.totalDeposited,
		TotalWithdrawn:     l.totalWithdrawn,
		DepositOperations:  l.depositOps,
		WithdrawOperations: l.withdrawOps,
		HeldBalance:        l.held(),
		RemainingCapacity:  l.capacityLimit - l.held(),
		Sequence:           l.seq,
		Accounts:           len(l.accounts),
	}
	return snap
}

// Restore rebuilds ledger state from journal entries in sequence order. The
// entries were admitted when first applied, so admission checks are not
// rerun; structural corruption (bad kind, non-positive amount, debit below
// zero, sequence gap, balance mismatch) aborts the restore. The restored
// held value must still fit the configured capacity limit, otherwise the
// restore fails and the ledger must not be used.
func (l *Ledger) Restore(entries []JournalEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq != 0 || len(l.accounts) != 0 {
		return fmt.Errorf("restore requires a fresh ledger")
	}
	for _, e := range entries {
		if err := validPrincipal(e.Account); err != nil {
			return fmt.Errorf("journal entry %d: %w", e.Sequence, err)
		}
		if e.Amount <= 0 {
			return fmt.Errorf("journal entry %d: non-positive amount %d", e.Sequence, e.Amount)
		}
		if e.Sequence != l.seq+1 {
			return fmt.Errorf("journal entry %d: expected sequence %d", e.Sequence, l.seq+1)
		}
		acct := l.account(e.Account)
		switch e.Kind {
		case KindDeposit:
			if e.Amount > math.MaxInt64-l.totalDeposited {
				return fmt.Errorf("journal entry %d: deposit total overflow", e.Sequence)
			}
			acct.balance += e.Amount
			acct.depositCount++
			acct.deposits = append(acct.deposits, e.Amount)
			l.totalDeposited += e.Amount
			l.depositOps++
		case KindWithdraw:
			if acct.balance < e.Amount {
				return fmt.Errorf("journal entry %d: withdrawal of %d below zero balance for %s", e.Sequence, e.Amount, e.Account)
			}
			acct.balance -= e.Amount
			acct.withdrawCount++
			acct.withdrawals = append(acct.withdrawals, e.Amount)
			l.totalWithdrawn += e.Amount
			l.withdrawOps++
		default:
			return fmt.Errorf("journal entry %d: unknown kind %q", e.Sequence, e.Kind)
		}
		if acct.balance != e.Balance {
			return fmt.Errorf("journal entry %d: recorded balance %d, replayed %d", e.Sequence, e.Balance, acct.balance)
		}
		l.seq = e.Sequence
	}
	if l.held() > l.capacityLimit {
		return fmt.Errorf("restored held value %d exceeds capacity limit %d", l.held(), l.capacityLimit)
	}
	return nil
}
