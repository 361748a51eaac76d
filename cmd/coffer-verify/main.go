// Command coffer-verify replays the journal into a fresh ledger and
// reports whether the recorded history is internally consistent.
package main

import (
	"context"
	"os"
	"time"

	"coffer/internal/backend"
	"coffer/internal/cli"
	"coffer/internal/core"
	"coffer/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap("coffer-verify")

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if err := backendCfg.Validate(); err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger.Logger)
	journal, err := factory.CreateJournal(backendCfg)
	if err != nil {
		logger.Error("Failed to open journal", "error", err, "backend", cfg.JournalBackend)
		os.Exit(1)
	}
	defer func() {
		if journal.Cleanup != nil {
			if err := journal.Cleanup(); err != nil {
				logger.Error("Journal cleanup failed", "error", err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ledger, err := core.NewLedger(cfg.CapacityLimit, cfg.WithdrawLimit)
	if err != nil {
		logger.Error("Invalid ledger limits", "error", err)
		os.Exit(1)
	}

	replayed, err := services.RestoreLedger(ctx, ledger, journal.Journal)
	if err != nil {
		logger.Error("Journal verification failed", "error", err)
		os.Exit(1)
	}

	// Cross-check conservation: held value must equal the sum of the
	// individual account balances.
	snap := ledger.Snapshot()
	var sum int64
	for _, account := range snap.Accounts {
		sum += account.Balance
	}
	if sum != snap.Stats.HeldBalance {
		logger.Error("Conservation check failed",
			"sum_of_balances", sum,
			"held_balance", snap.Stats.HeldBalance,
		)
		os.Exit(1)
	}

	pending, err := journal.Journal.PendingCount(ctx)
	if err != nil {
		logger.Warn("Failed to count pending exports", "error", err)
	}

	logger.Info("Journal verified",
		"operations", replayed,
		"accounts", snap.Stats.Accounts,
		"held_balance", snap.Stats.HeldBalance,
		"total_deposited", snap.Stats.TotalDeposited,
		"total_withdrawn", snap.Stats.TotalWithdrawn,
		"remaining_capacity", snap.Stats.RemainingCapacity,
		"sequence", snap.Stats.Sequence,
		"pending_export", pending,
	)
}
