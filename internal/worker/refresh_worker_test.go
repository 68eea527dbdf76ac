package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"spendagg/internal/aggregate"
	"spendagg/internal/amqp"
)

type fakeRefresher struct {
	refreshes atomic.Int64
	err       error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (time.Time, error) {
	f.refreshes.Add(1)
	if f.err != nil {
		return time.Time{}, f.err
	}
	return time.Now(), nil
}

func (f *fakeRefresher) Current() *aggregate.Snapshot { return nil }

type fakeExporter struct {
	exports atomic.Int64
}

func (f *fakeExporter) Export(ctx context.Context, snap *aggregate.Snapshot) error {
	f.exports.Add(1)
	return nil
}

func TestMarkDirtyCoalesces(t *testing.T) {
	w := NewRefreshWorker(&fakeRefresher{}, nil, DefaultConfig(), nil)

	for i := 0; i < 10; i++ {
		w.MarkDirty()
	}

	pending := 0
	for {
		select {
		case <-w.dirty:
			pending++
			continue
		default:
		}
		break
	}
	if pending != 1 {
		t.Errorf("pending marks = %d, want 1", pending)
	}
}

func TestRunRefreshesAtStartup(t *testing.T) {
	ref := &fakeRefresher{}
	w := NewRefreshWorker(ref, nil, Config{Interval: time.Hour, Debounce: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	waitFor(t, func() bool { return ref.refreshes.Load() >= 1 })
	cancel()
	<-done
}

func TestRunRefreshesOnDirtyMark(t *testing.T) {
	ref := &fakeRefresher{}
	w := NewRefreshWorker(ref, nil, Config{Interval: time.Hour, Debounce: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	waitFor(t, func() bool { return ref.refreshes.Load() >= 1 }) // startup rebuild
	if err := w.HandleLedgerChange(amqp.NewLedgerChangeMessage(1, amqp.OpCreated)); err != nil {
		t.Fatalf("HandleLedgerChange: %v", err)
	}
	waitFor(t, func() bool { return ref.refreshes.Load() >= 2 })

	cancel()
	<-done
}

func TestRunRefreshesOnTicker(t *testing.T) {
	ref := &fakeRefresher{}
	w := NewRefreshWorker(ref, nil, Config{Interval: 10 * time.Millisecond, Debounce: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	waitFor(t, func() bool { return ref.refreshes.Load() >= 3 })
	cancel()
	<-done
}

func TestRunSurvivesRefreshFailure(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("ledger unavailable")}
	exp := &fakeExporter{}
	w := NewRefreshWorker(ref, exp, Config{Interval: 5 * time.Millisecond, Debounce: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Failures keep being retried on the ticker, and nothing is exported.
	waitFor(t, func() bool { return ref.refreshes.Load() >= 3 })
	if exp.exports.Load() != 0 {
		t.Errorf("exported after failed refresh: %d", exp.exports.Load())
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}
