package http

import (
	"context"

	"coffer/internal/core"
)

// Service is the ledger surface the HTTP layer exposes. The concrete
// implementation lives in internal/services.
type Service interface {
	Deposit(ctx context.Context, account core.Principal, amount int64) (core.Receipt, error)
	Withdraw(ctx context.Context, account core.Principal, amount int64) (core.Receipt, error)
	Receive(ctx context.Context, sender core.Principal, amount int64) (core.Receipt, error)

	BalanceOf(account core.Principal) int64
	RemainingCapacity() int64
	CapacityLimit() int64
	WithdrawLimit() int64
	Stats() core.Stats
	HistoryOf(caller, account core.Principal) (core.History, error)

	Ready(ctx context.Context) error
}
