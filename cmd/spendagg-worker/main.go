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
	"spendagg/internal/aggregate"
	"spendagg/internal/amqp"
	"spendagg/internal/config"
	"spendagg/internal/core"
	"spendagg/internal/export"
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

	logger.Info("Starting spendagg-worker")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository to scan the ledger
	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	aggregator := aggregate.New(repo, aggregate.Config{
		ExcludeTransfers: cfg.ExcludeTransfers,
	})

	// Initialize Google Sheets exporter (optional)
	var exporter worker.SnapshotExporter
	if cfg.ExportSpreadsheetID != "" {
		sheets, err := export.NewSheetsExporter(context.Background(), cfg.ExportSpreadsheetID, cfg.ExportSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = sheets
		logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.ExportSpreadsheetID)
	} else {
		logger.Info("Snapshot export disabled - no EXPORT_SPREADSHEET_ID provided")
	}

	refreshWorker := worker.NewRefreshWorker(aggregator, exporter, worker.Config{
		Interval: cfg.RefreshInterval,
		Debounce: cfg.RefreshDebounce,
	}, nil)

	alerts := services.NewAlertService(aggregator, repo, cfg.MaxStaleness)

	// Initialize AMQP client for consuming ledger changes (optional; the
	// periodic ticker still rebuilds without it)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	} else {
		logger.Info("AMQP disabled - rebuilding on the periodic ticker only")
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return refreshWorker.Run(gctx)
	})

	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ConsumeLedgerChanges(gctx, refreshWorker.HandleLedgerChange)
		})
	}

	g.Go(func() error {
		return runAlertSweep(gctx, alerts, repo, cfg.RefreshInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

// runAlertSweep periodically evaluates the current month's budgets for
// every user that has any. Evaluation errors are logged and retried on the
// next tick rather than bringing the worker down.
func runAlertSweep(ctx context.Context, alerts *services.AlertService, repo *storage.Repository, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			month := core.MonthOf(core.NewDate(time.Now().UTC().Date()))
			userIDs, err := repo.ListBudgetUsers(ctx)
			if err != nil {
				slog.Error("Failed to list budget users", "error", err)
				continue
			}
			for _, userID := range userIDs {
				fired, err := alerts.EvaluateMonth(ctx, userID, month)
				if err != nil {
					slog.Error("Budget evaluation failed", "error", err, "user_id", userID)
					continue
				}
				if len(fired) > 0 {
					slog.Info("Budget alerts recorded", "user_id", userID, "month", month.String(), "count", len(fired))
				}
			}
		}
	}
}
