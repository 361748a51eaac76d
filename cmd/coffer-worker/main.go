package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coffer/internal/amqp"
	"coffer/internal/backend"
	"coffer/internal/cli"
	"coffer/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap("coffer-worker")

	logger.Info("Starting coffer-worker")

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

	exporter, err := factory.CreateExporter(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", "error", err, "backend", cfg.ExportBackend)
		os.Exit(1)
	}
	defer func() {
		if exporter.Cleanup != nil {
			if err := exporter.Cleanup(); err != nil {
				logger.Error("Exporter cleanup failed", "error", err)
			}
		}
	}()

	exportWorker := worker.NewExportWorker(journal.Journal, exporter.Exporter, worker.Config{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
		MaxAttempts:  cfg.SyncMaxAttempts,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// On startup, drain rows a previous run may have left pending.
	if err := exportWorker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup check", "error", err)
		// Don't exit - continue with normal operation
	}

	if err := exportWorker.Start(ctx); err != nil {
		logger.Error("Failed to start export worker", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		g.Go(func() error {
			return amqpClient.ConsumeOperationsWithRetry(gctx, exportWorker.HandleOperationMessage)
		})
		logger.Info("AMQP consumption started", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - relying on periodic journal sweeps only")
	}

	// Block until a shutdown signal or a consumer failure.
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	logger.Info("Shutting down worker...")
	if err := exportWorker.Stop(stopCtx); err != nil {
		logger.Error("Export worker stop failed", "error", err)
	}

	logger.Info("Worker shutdown complete")
}
