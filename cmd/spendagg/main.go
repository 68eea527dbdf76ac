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
	"spendagg/internal/aggregate"
	"spendagg/internal/amqp"
	"spendagg/internal/config"
	apphttp "spendagg/internal/http"
	"spendagg/internal/services"
	"spendagg/internal/storage"
	"spendagg/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository (runs migrations)
	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize AMQP client for publishing ledger changes (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - ledger changes will not be published")
	}

	aggregator := aggregate.New(repo, aggregate.Config{
		ExcludeTransfers: cfg.ExcludeTransfers,
	})

	// The serving aggregate resyncs on its own: a post-write hook marks it
	// dirty after every ledger write through this process, and the periodic
	// ticker covers writes that arrive any other way.
	refreshWorker := worker.NewRefreshWorker(aggregator, nil, worker.Config{
		Interval: cfg.RefreshInterval,
		Debounce: cfg.RefreshDebounce,
	}, nil)

	txService := services.NewTransactionService(repo, amqpClient, refreshWorker.MarkDirty)

	srv := apphttp.NewServer(":"+cfg.Port, txService, aggregator, repo)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

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

	// The worker rebuilds once at startup so /spend answers immediately,
	// then keeps the snapshot in sync with dirty marks and the ticker.
	go func() {
		if err := refreshWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Refresh worker stopped", "error", err)
		}
	}()

	logger.Info("Starting spendagg server", "port", cfg.Port, "db_path", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
