package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepLock guards a sweep so only one process runs it at a time.
// TryAcquire reports ok=false without error when another holder has it.
type SweepLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// ExpiryOptions tunes the sweeper. Zero values fall back to one minute and 100 reservations.
type ExpiryOptions struct {
	Interval  time.Duration
	BatchSize int
	Lock      SweepLock
	Logger    logrus.FieldLogger
}

// ExpirySweeper moves lapsed ACTIVE reservations to EXPIRED. It goes through the same
// compare-and-set as Consume and Release, so a sweep never races a consume into a double exit.
type ExpirySweeper struct {
	store        LedgerStore
	reservations ReservationService
	clock        Clock
	opts         ExpiryOptions
}

func NewExpirySweeper(store LedgerStore, reservations ReservationService, clock Clock, opts ExpiryOptions) *ExpirySweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &ExpirySweeper{store: store, reservations: reservations, clock: clock, opts: opts}
}

// SweepOnce expires every reservation that has lapsed at the sweeper's clock. It works in
// pages of BatchSize and checks ctx between pages, so cancellation finishes the page in hand.
// Failures on individual reservations do not stop the sweep; they are returned joined.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.now()
	expired := 0
	var errs []error
	seen := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return expired, errors.Join(append(errs, err)...)
		}
		lapsed, err := s.store.LapsedReservations(ctx, now, s.opts.BatchSize)
		if err != nil {
			return expired, errors.Join(append(errs, err)...)
		}
		progressed := false
		for _, r := range lapsed {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			progressed = true
			_, changed, err := s.reservations.Expire(ctx, r.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if changed {
				expired++
			}
		}
		// A short page means the scan is exhausted; a page with nothing new means the rest failed.
		if len(lapsed) < s.opts.BatchSize || !progressed {
			return expired, errors.Join(errs...)
		}
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	log := s.opts.Logger.WithField("component", "expiry_sweeper")
	log.WithField("interval", s.opts.Interval.String()).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx, log)
		}
	}
}

func (s *ExpirySweeper) tick(ctx context.Context, log logrus.FieldLogger) {
	if s.opts.Lock != nil {
		release, ok, err := s.opts.Lock.TryAcquire(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to acquire sweep lock")
			return
		}
		if !ok {
			log.Debug("sweep lock held elsewhere, skipping")
			return
		}
		defer release()
	}

	start := time.Now()
	n, err := s.SweepOnce(ctx)
	entry := log.WithFields(logrus.Fields{"expired": n, "duration": time.Since(start).String()})
	if err != nil && !errors.Is(err, context.Canceled) {
		entry.WithError(err).Error("expiry sweep finished with errors")
		return
	}
	if n > 0 {
		entry.Info("expired lapsed reservations")
	}
}
