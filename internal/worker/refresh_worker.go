// Package worker drives aggregate rebuilds. The aggregator itself has no
// scheduler; this worker is the external trigger: ledger change messages,
// a periodic ticker, and a rebuild at startup.
package worker

import (
	"context"
	"time"

	"spendagg/internal/aggregate"
	"spendagg/internal/amqp"
	"spendagg/internal/log"
)

// Refresher is the aggregator surface the worker drives.
type Refresher interface {
	Refresh(ctx context.Context) (time.Time, error)
	Current() *aggregate.Snapshot
}

// SnapshotExporter pushes a published snapshot to an external reporting
// destination. Optional.
type SnapshotExporter interface {
	Export(ctx context.Context, snap *aggregate.Snapshot) error
}

type Config struct {
	// Interval is the periodic rebuild backstop for lost change messages.
	Interval time.Duration
	// Debounce delays a change-triggered rebuild so a burst of ledger
	// writes collapses into one rebuild.
	Debounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Debounce: 2 * time.Second,
	}
}

type RefreshWorker struct {
	agg      Refresher
	exporter SnapshotExporter
	cfg      Config
	logger   *log.Logger

	// dirty carries at most one pending trigger; further marks while a
	// rebuild is pending are coalesced into it.
	dirty chan struct{}
}

func NewRefreshWorker(agg Refresher, exporter SnapshotExporter, cfg Config, logger *log.Logger) *RefreshWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentWorker)
	}
	return &RefreshWorker{
		agg:      agg,
		exporter: exporter,
		cfg:      cfg,
		logger:   logger,
		dirty:    make(chan struct{}, 1),
	}
}

// HandleLedgerChange is the AMQP consume handler. It only marks the
// aggregate dirty; the rebuild happens on the worker loop.
func (w *RefreshWorker) HandleLedgerChange(msg *amqp.LedgerChangeMessage) error {
	w.logger.Debug("Ledger change received",
		"transaction_id", msg.TransactionID, "op", msg.Op)
	w.MarkDirty()
	return nil
}

// MarkDirty requests a rebuild. Safe to call from any goroutine; calls
// while a rebuild is already pending are no-ops.
func (w *RefreshWorker) MarkDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Run rebuilds once at startup so queries are servable immediately, then
// loops until ctx is done, rebuilding on dirty marks (debounced) and on
// the periodic ticker.
func (w *RefreshWorker) Run(ctx context.Context) error {
	w.logger.Info("Refresh worker starting",
		"interval", w.cfg.Interval.String(),
		"debounce", w.cfg.Debounce.String())

	w.refreshAndExport(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Refresh worker stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-w.dirty:
			if w.cfg.Debounce > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.cfg.Debounce):
				}
				// Drain marks that arrived during the debounce window.
				select {
				case <-w.dirty:
				default:
				}
			}
			w.refreshAndExport(ctx)
		case <-ticker.C:
			w.refreshAndExport(ctx)
		}
	}
}

func (w *RefreshWorker) refreshAndExport(ctx context.Context) {
	at, err := w.agg.Refresh(ctx)
	if err != nil {
		// The previous snapshot stays authoritative; the next trigger retries.
		w.logger.Error("Aggregate refresh failed", log.FieldError, err)
		return
	}
	w.logger.Info("Aggregate refreshed", log.FieldRefreshedAt, at.Format(time.RFC3339))

	if w.exporter == nil {
		return
	}
	snap := w.agg.Current()
	if snap == nil {
		return
	}
	if err := w.exporter.Export(ctx, snap); err != nil {
		w.logger.Error("Snapshot export failed",
			log.FieldVersion, snap.Version(), log.FieldError, err)
		return
	}
	w.logger.Info("Snapshot exported",
		log.FieldVersion, snap.Version(), log.FieldBuckets, snap.BucketCount())
}
