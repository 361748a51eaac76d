package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coffer/internal/amqp"
	"coffer/internal/backend"
	"coffer/internal/cli"
	"coffer/internal/core"
	cofferhttp "coffer/internal/http"
	"coffer/internal/services"
	"coffer/internal/settlement"
)

func main() {
	cfg, logger := cli.Bootstrap("cofferd")

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
		logger.Error("Failed to initialize journal", "error", err, "backend", cfg.JournalBackend)
		os.Exit(1)
	}
	defer func() {
		if journal.Cleanup != nil {
			if err := journal.Cleanup(); err != nil {
				logger.Error("Journal cleanup failed", "error", err)
			}
		}
	}()

	// Rebuild the in-memory ledger from the journal before serving.
	var opts []core.LedgerOption
	if cfg.Owner != "" {
		opts = append(opts, core.WithOwner(core.Principal(cfg.Owner)))
	}
	ledger, err := core.NewLedger(cfg.CapacityLimit, cfg.WithdrawLimit, opts...)
	if err != nil {
		logger.Error("Invalid ledger limits", "error", err)
		os.Exit(1)
	}

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), time.Minute)
	restored, err := services.RestoreLedger(restoreCtx, ledger, journal.Journal)
	restoreCancel()
	if err != nil {
		logger.Error("Failed to restore ledger from journal", "error", err)
		os.Exit(1)
	}
	logger.Info("Ledger restored from journal",
		"operations", restored,
		"held_balance", ledger.Stats().HeldBalance,
	)

	// Operation events go out over AMQP when a broker is configured. The
	// service degrades to journal-only operation without one.
	var eventsClient *amqp.Client
	if cfg.AMQPURL != "" {
		eventsClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, operation events disabled", "error", err)
			eventsClient = nil
		} else {
			defer eventsClient.Close()
			logger.Info("AMQP events client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	// Settlement transport for outbound withdrawals. Unlike operation
	// events this is load-bearing, so a broken payout path is fatal.
	var transferer core.Transferer
	switch cfg.SettlementMode {
	case "amqp":
		payoutClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPPayoutQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP payout client", "error", err)
			os.Exit(1)
		}
		defer payoutClient.Close()
		transferer = settlement.NewAMQPTransferer(payoutClient, logger)
		logger.Info("AMQP settlement initialized", "queue", cfg.AMQPPayoutQueue)
	default:
		transferer = settlement.NewLogTransferer(logger)
	}

	executor := core.NewExecutor(ledger, transferer, nil)

	var events services.OperationPublisher
	if eventsClient != nil {
		events = eventsClient
	}
	svc := services.NewLedgerService(executor, journal.Journal, events)

	srv, err := cofferhttp.NewServer(cfg, svc, logger)
	if err != nil {
		logger.Error("Failed to configure HTTP server", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting coffer server",
		"port", cfg.Port,
		"capacity_limit", cfg.CapacityLimit,
		"withdraw_limit", cfg.WithdrawLimit,
		"journal", cfg.JournalBackend,
		"settlement", cfg.SettlementMode,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
