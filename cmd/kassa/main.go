package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"kassa/internal/amqp"
	"kassa/internal/config"
	"kassa/internal/core"
	apphttp "kassa/internal/http"
	"kassa/internal/services"
	"kassa/internal/storage"
	"kassa/internal/store"
	"kassa/internal/store/memory"
	"kassa/internal/telegram"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var st store.Repository
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.Defaults())
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		st = repo
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	default:
		st = memory.New(cfg.Defaults())
		logger.Info("Initialized memory backend")
	}

	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.NotifyQueue, cfg.ExportQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	var notifier *telegram.Notifier
	if cfg.BotToken != "" {
		tg := telegram.NewClient(cfg.BotToken, cfg.TelegramAPI)
		notifier = telegram.NewNotifier(tg, st, cfg.BalanceThreadID)
	} else {
		logger.Warn("BOT_TOKEN not set, command replies disabled")
	}

	engine := core.NewEngine(core.NewRuleTable(cfg.FoodSpendOnPositive))
	svc := services.NewLedgerService(engine, cfg.Bindings(), st, publisher)

	srv := apphttp.NewServer(":"+cfg.Port, svc, notifier, cfg.WebhookSecret, cfg.BalanceThreadID)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting kassa server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
