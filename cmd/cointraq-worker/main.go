package main

import (
	"context"
	"errors"
	"os"
	"time"

	"cointraq/internal/amqp"
	"cointraq/internal/cli"
	"cointraq/internal/config"
	"cointraq/internal/log"
	gsheet "cointraq/internal/sheets/google"
	"cointraq/internal/storage"
	"cointraq/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting cointraq-worker")

	if cfg.DataBackend != config.BackendSQLite {
		logger.Error("The worker exports the sqlite store; set DATA_BACKEND=sqlite", log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	if !cfg.SheetsEnabled() {
		logger.Error("GOOGLE_SPREADSHEET_ID is required to run the worker")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	sheets, err := gsheet.New(startCtx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)

	syncWorker := worker.NewSyncWorker(repo, sheets, cfg.SyncBatchSize, logger)
	poller := worker.NewPoller(syncWorker, cfg.SyncInterval)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// The poller still exports everything; messages only make it faster.
			logger.Warn("AMQP unavailable, relying on polling", log.FieldError, err)
			amqpClient = nil
		}
	} else {
		logger.Info("AMQP disabled, relying on polling", "interval", cfg.SyncInterval)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := poller.Stop(ctx); err != nil {
			logger.Warn("Poller stop", log.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close", log.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Warn("SQLite close", log.FieldError, err)
		}
	})

	// Rows left pending by a previous run or by lost messages.
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", log.FieldError, err)
	}

	if err := poller.Start(ctx); err != nil {
		logger.Error("Failed to start poller", log.FieldError, err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeTransactionSync(ctx, syncWorker.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption stopped", log.FieldError, err)
			}
		}()
	}

	<-ctx.Done()
	<-done
	logger.Info("Worker stopped")
}
