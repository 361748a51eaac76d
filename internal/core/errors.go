package core

import (
	"errors"
	"fmt"
)

var (
	ErrZeroAmount      = errors.New("amount must be greater than zero")
	ErrEmptyPrincipal  = errors.New("principal must not be empty")
	ErrAmountOverflow  = errors.New("amount overflows ledger totals")
	ErrMalformedAmount = errors.New("malformed amount")
	ErrReentrancy      = errors.New("operation already in progress")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNoTransferer    = errors.New("no transferer configured")
)

// CapacityError rejects a deposit that would push the held value past the
// capacity limit.
type CapacityError struct {
	Attempted int64
	Remaining int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: deposit of %d with %d remaining", e.Attempted, e.Remaining)
}

// InsufficientBalanceError rejects a withdrawal above the account balance.
type InsufficientBalanceError struct {
	Principal Principal
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s holds %d, requested %d", e.Principal, e.Available, e.Requested)
}

// WithdrawLimitError rejects a withdrawal above the per-operation limit.
type WithdrawLimitError struct {
	Requested int64
	Limit     int64
}

func (e *WithdrawLimitError) Error() string {
	return fmt.Sprintf("withdraw limit exceeded: requested %d, limit %d", e.Requested, e.Limit)
}

// TransferError reports a failed outbound transfer. The debit it follows
// has already been reversed by the time callers see it.
type TransferError struct {
	To     Principal
	Amount int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %d to %s failed: %v", e.Amount, e.To, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
