package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"kassa/internal/amqp"
	"kassa/internal/config"
	"kassa/internal/sheets"
	gsheet "kassa/internal/sheets/google"
	sheetsmem "kassa/internal/sheets/memory"
	"kassa/internal/storage"
	"kassa/internal/telegram"
	"kassa/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting kassa-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// The worker shares state with the server through SQLite; the memory
	// backend has nothing for it to consume.
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.Defaults())
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var writer sheets.EntryWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = sheetsmem.New()
		logger.Info("Google Sheets disabled - exporting to memory writer")
	}

	var notifier *telegram.Notifier
	if cfg.BotToken != "" {
		tg := telegram.NewClient(cfg.BotToken, cfg.TelegramAPI)
		notifier = telegram.NewNotifier(tg, repo, cfg.BalanceThreadID)
	} else {
		logger.Warn("BOT_TOKEN not set, balance delivery disabled")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.NotifyQueue, cfg.ExportQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewOutboundWorker(repo, notifier, repo, writer, cfg.ExportBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover entries that were left pending while the worker was down.
	if err := w.StartupExportCheck(ctx); err != nil {
		logger.Error("Failed startup export check", "error", err)
		// Don't exit - continue with normal operation
	}

	g, ctx := errgroup.WithContext(ctx)

	if notifier != nil {
		g.Go(func() error {
			return amqpClient.ConsumeNotify(ctx, func(msg *amqp.NotifyMessage) error {
				return w.HandleNotify(ctx, msg)
			})
		})
	} else {
		logger.Info("Skipping notify consumption - no Telegram client available")
	}

	g.Go(func() error {
		return amqpClient.ConsumeEntrySync(ctx, func(msg *amqp.EntrySyncMessage) error {
			return w.HandleEntrySync(ctx, msg)
		})
	})

	// Periodic sweep for exports missed by AMQP.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.StartupExportCheck(ctx); err != nil {
					logger.Error("Periodic export sweep failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
