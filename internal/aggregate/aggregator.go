// Package aggregate maintains the monthly spend read model: per
// (user, month, category, currency) totals of outflow amounts, derived
// from the transaction ledger.
//
// The aggregate has no write path of its own. It is rebuilt wholesale from
// the ledger, built into a fresh snapshot and swapped in atomically, so
// queries never observe a partially-written generation and ledger writers
// are never blocked by a rebuild.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"spendagg/internal/core"
)

// LedgerScanner is the aggregator's only view of the ledger: a full scan.
// The callback is invoked once per transaction; returning an error aborts
// the scan.
type LedgerScanner interface {
	ForEachTransaction(ctx context.Context, fn func(core.Transaction) error) error
}

// ErrNotRefreshed is returned by Query before the first successful refresh.
// Callers must be able to tell "no data yet" apart from "zero spend".
var ErrNotRefreshed = errors.New("aggregate not yet refreshed")

// Config holds aggregation policy knobs.
type Config struct {
	// ExcludeTransfers drops is_transfer rows from spend totals. The
	// inherited behavior counts them, so this defaults to off and changing
	// it is an explicit operator decision.
	ExcludeTransfers bool
}

// Aggregator owns the published snapshot and the rebuild discipline.
type Aggregator struct {
	ledger  LedgerScanner
	cfg     Config
	now     func() time.Time
	group   singleflight.Group
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func New(ledger LedgerScanner, cfg Config) *Aggregator {
	return &Aggregator{
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Refresh recomputes the aggregate from the current ledger and atomically
// publishes the result. On failure the previously published snapshot stays
// authoritative and the error is returned for the caller to retry.
//
// Concurrent callers are coalesced: while a rebuild is in flight, further
// Refresh calls wait for it and share its outcome instead of starting a
// second rebuild. A call arriving after publish starts a fresh one.
func (a *Aggregator) Refresh(ctx context.Context) (time.Time, error) {
	v, err, shared := a.group.Do("refresh", func() (any, error) {
		return a.rebuild(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	at := v.(time.Time)
	if shared {
		slog.DebugContext(ctx, "Refresh coalesced with in-flight rebuild",
			"refreshed_at", at.Format(time.RFC3339))
	}
	return at, nil
}

func (a *Aggregator) rebuild(ctx context.Context) (time.Time, error) {
	start := a.now()
	b := newBuilder(a.cfg.ExcludeTransfers)

	scanned := 0
	err := a.ledger.ForEachTransaction(ctx, func(tx core.Transaction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.add(tx)
		scanned++
		return nil
	})
	if err != nil {
		// Discard the partial build; the published snapshot is untouched.
		return time.Time{}, fmt.Errorf("scan ledger: %w", err)
	}

	at := a.now()
	snap := b.finish(a.version.Add(1), at)
	a.current.Store(snap)

	slog.InfoContext(ctx, "Aggregate snapshot published",
		"version", snap.Version(),
		"transactions_scanned", scanned,
		"buckets", snap.BucketCount(),
		"build_duration_ms", at.Sub(start).Milliseconds())

	return at, nil
}

// Result is a query answer plus the staleness signal consumers need to
// reason about how current the totals are.
type Result struct {
	Totals      []SpendTotal
	RefreshedAt time.Time
	Version     uint64
}

// Query returns spend totals for one user over an inclusive month range,
// optionally restricted to a category set. Parameters are validated before
// the snapshot is touched. A month with no transactions yields no totals;
// a never-refreshed aggregate yields ErrNotRefreshed.
func (a *Aggregator) Query(userID int64, r core.MonthRange, categoryIDs []int64) (Result, error) {
	if userID <= 0 {
		return Result{}, fmt.Errorf("invalid user id %d", userID)
	}
	if err := r.Validate(); err != nil {
		return Result{}, err
	}

	snap := a.current.Load()
	if snap == nil {
		return Result{}, ErrNotRefreshed
	}

	return Result{
		Totals:      snap.query(userID, r, categoryIDs),
		RefreshedAt: snap.refreshedAt,
		Version:     snap.version,
	}, nil
}

// LastRefreshed reports the published snapshot's completion time and
// version. ok is false before the first successful refresh.
func (a *Aggregator) LastRefreshed() (at time.Time, version uint64, ok bool) {
	snap := a.current.Load()
	if snap == nil {
		return time.Time{}, 0, false
	}
	return snap.refreshedAt, snap.version, true
}

// Current returns the published snapshot, or nil before the first refresh.
// The snapshot is immutable; holders may read it while newer generations
// are published.
func (a *Aggregator) Current() *Snapshot {
	return a.current.Load()
}
