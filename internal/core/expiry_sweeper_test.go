package core_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"warehouse-ledger/internal/core"
)

func TestSweeper_ExpiresAcrossPages(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "100")
	for i := 0; i < 5; i++ {
		f.reserve(t, "A", "MAIN", "10", fmt.Sprintf("shipment:%d", i), time.Duration(i+1)*time.Minute)
	}
	live := f.reserve(t, "A", "MAIN", "10", "shipment:live", time.Hour)

	f.clock.Advance(10 * time.Minute)
	logger, _ := test.NewNullLogger()
	sweeper := core.NewExpirySweeper(f.store, f.reservations, f.clock.Now, core.ExpiryOptions{BatchSize: 2, Logger: logger})

	n, err := sweeper.SweepOnce(f.ctx)
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 expired, got %d", n)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("90")) {
		t.Errorf("expected 90 available with one live hold, got %s", a)
	}
	r, _ := f.reservations.GetReservation(f.ctx, live.ID)
	if r.Status != core.ReservationActive {
		t.Errorf("live hold must stay ACTIVE, got %s", r.Status)
	}

	// Idempotent: nothing left to do.
	n, err = sweeper.SweepOnce(f.ctx)
	if err != nil || n != 0 {
		t.Errorf("expected a no-op second sweep, got n=%d err=%v", n, err)
	}
}

func TestSweeper_NeverExpiresConsumedHold(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "10")
	r := f.reserve(t, "A", "MAIN", "4", "shipment:S", time.Minute)
	if _, err := f.reservations.Consume(f.ctx, r.ID, ""); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	sweeper := core.NewExpirySweeper(f.store, f.reservations, f.clock.Now, core.ExpiryOptions{})
	if n, err := sweeper.SweepOnce(f.ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing to expire, got n=%d err=%v", n, err)
	}
	got, _ := f.reservations.GetReservation(f.ctx, r.ID)
	if got.Status != core.ReservationConsumed {
		t.Errorf("expected CONSUMED to stick, got %s", got.Status)
	}
}

type stubLock struct {
	grant    bool
	attempts atomic.Int32
	releases atomic.Int32
}

func (l *stubLock) TryAcquire(context.Context) (func(), bool, error) {
	l.attempts.Add(1)
	if !l.grant {
		return nil, false, nil
	}
	return func() { l.releases.Add(1) }, true, nil
}

func TestSweeper_RunHonoursLockAndStops(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "10")
	r := f.reserve(t, "A", "MAIN", "4", "shipment:S", 0)
	f.clock.Advance(time.Second)

	logger, hook := test.NewNullLogger()
	lock := &stubLock{grant: false}
	sweeper := core.NewExpirySweeper(f.store, f.reservations, f.clock.Now, core.ExpiryOptions{
		Interval: 5 * time.Millisecond, Lock: lock, Logger: logger,
	})

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for lock.attempts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	got, _ := f.reservations.GetReservation(f.ctx, r.ID)
	if got.Status != core.ReservationActive {
		t.Errorf("sweeper without the lock must not expire anything, got %s", got.Status)
	}
	if lock.releases.Load() != 0 {
		t.Errorf("unexpected releases of an ungranted lock")
	}
	if len(hook.Entries) == 0 || hook.LastEntry().Message != "expiry sweeper stopped" {
		t.Errorf("expected a stop log line, got %v", hook.Entries)
	}
}
