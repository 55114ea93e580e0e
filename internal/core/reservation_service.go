package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationService holds quantity for pending work without changing the balance.
// Every terminal transition is a compare-and-set on the reservation status, so of
// concurrent Consume, Release and Expire calls exactly one moves a reservation out of ACTIVE.
type ReservationService interface {
	// Reserve fails with ErrInsufficientAvailability when quantity exceeds what is free.
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	// Consume turns an ACTIVE hold into a negative movement of its ConsumeKind.
	// A hold that has lapsed is marked EXPIRED and ErrReservationExpired is returned.
	Consume(ctx context.Context, reservationID, actor string) (*Movement, error)
	// Release frees an ACTIVE hold. Releasing a terminal reservation returns it unchanged.
	Release(ctx context.Context, reservationID string) (*Reservation, error)
	// Expire marks a lapsed ACTIVE hold EXPIRED. It reports whether this call made the transition.
	Expire(ctx context.Context, reservationID string) (*Reservation, bool, error)
	// Available is balance minus ACTIVE, non-lapsed reservations.
	Available(ctx context.Context, itemID, locationID string) (decimal.Decimal, error)
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	ListByOwner(ctx context.Context, owner string) ([]Reservation, error)
}

type reservationService struct {
	store  Store
	events Notifier
	clock  Clock
}

func NewReservationService(store Store, events Notifier, clock Clock) ReservationService {
	if events == nil {
		events = NopNotifier{}
	}
	return &reservationService{store: store, events: events, clock: clock}
}

func (s *reservationService) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if !req.Quantity.IsPositive() {
		return nil, invalidArg("reservation quantity must be positive, got %s", req.Quantity)
	}
	if err := checkPlaces("reservation quantity", req.Quantity); err != nil {
		return nil, err
	}
	if req.TTL < 0 {
		return nil, invalidArg("reservation ttl must not be negative")
	}
	if req.Owner == "" {
		return nil, invalidArg("reservation owner is required")
	}
	kind := req.ConsumeKind
	if kind == "" {
		kind = MovementShip
	}
	if !kind.Valid() || kind == MovementReceipt || kind == MovementProductionIn {
		return nil, invalidArg("%s cannot consume a reservation", kind)
	}
	key, err := resolveKey(ctx, s.store, req.ItemID, req.LocationID)
	if err != nil {
		return nil, err
	}

	var created Reservation
	err = s.store.Update(ctx, []Key{key}, func(tx Tx) error {
		now := s.clock.now()
		balance, err := tx.Balance(key)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		reserved, err := tx.Reserved(key, now)
		if err != nil {
			return fmt.Errorf("failed to read reserved quantity: %w", err)
		}
		available := balance.Sub(reserved)
		if req.Quantity.GreaterThan(available) {
			return fmt.Errorf("%w: %s has %s available, requested %s",
				ErrInsufficientAvailability, key, available, req.Quantity)
		}
		created = Reservation{
			ID:          uuid.NewString(),
			Key:         key,
			Quantity:    req.Quantity,
			Owner:       req.Owner,
			ConsumeKind: kind,
			Status:      ReservationActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(req.TTL),
		}
		return tx.InsertReservation(created)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %s on %s: %w", req.Quantity, key, err)
	}
	s.events.Notify(ctx, Event{Type: EventReservationCreated, At: created.CreatedAt, Reservation: &created})
	return &created, nil
}

func (s *reservationService) Consume(ctx context.Context, reservationID, actor string) (*Movement, error) {
	r, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var out outbox
	var consumed Movement
	var expired bool
	err = s.store.Update(ctx, []Key{r.Key}, func(tx Tx) error {
		now := s.clock.now()
		cur, err := tx.Reservation(reservationID)
		if err != nil {
			return err
		}
		if cur.Status == ReservationActive && cur.ExpiredAt(now) {
			// Record the lapse now rather than leave it to the sweeper; the caller still gets an error.
			if _, err := expireTx(tx, cur, now, &out); err != nil {
				return err
			}
			expired = true
			return nil
		}
		consumed, err = consumeTx(tx, cur, now, cur.Owner, actor, &out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume reservation %s: %w", reservationID, err)
	}
	out.flush(ctx, s.events)
	if expired {
		return nil, fmt.Errorf("failed to consume reservation %s: %w", reservationID, ErrReservationExpired)
	}
	return &consumed, nil
}

func (s *reservationService) Release(ctx context.Context, reservationID string) (*Reservation, error) {
	r, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	var out outbox
	var final Reservation
	err = s.store.Update(ctx, []Key{r.Key}, func(tx Tx) error {
		cur, err := tx.Reservation(reservationID)
		if err != nil {
			return err
		}
		final, err = releaseTx(tx, cur, s.clock.now(), &out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release reservation %s: %w", reservationID, err)
	}
	out.flush(ctx, s.events)
	return &final, nil
}

func (s *reservationService) Expire(ctx context.Context, reservationID string) (*Reservation, bool, error) {
	r, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, false, err
	}
	if r.Status.Terminal() {
		return r, false, nil
	}

	var out outbox
	var final Reservation
	var changed bool
	err = s.store.Update(ctx, []Key{r.Key}, func(tx Tx) error {
		now := s.clock.now()
		cur, err := tx.Reservation(reservationID)
		if err != nil {
			return err
		}
		final = *cur
		if cur.Status != ReservationActive || !cur.DueAt(now) {
			return nil
		}
		changed, err = expireTx(tx, cur, now, &out)
		if changed {
			final.Status = ReservationExpired
			final.ClosedAt = &now
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to expire reservation %s: %w", reservationID, err)
	}
	out.flush(ctx, s.events)
	return &final, changed, nil
}

func (s *reservationService) Available(ctx context.Context, itemID, locationID string) (decimal.Decimal, error) {
	key, err := resolveKey(ctx, s.store, itemID, locationID)
	if err != nil {
		return decimal.Zero, err
	}
	lvl, err := s.store.StockLevel(ctx, key, s.clock.now())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read availability for %s: %w", key, err)
	}
	return lvl.Available, nil
}

func (s *reservationService) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	r, err := s.store.Reservation(ctx, reservationID)
	if err != nil {
		return nil, lookupErr("reservation", reservationID, err)
	}
	return r, nil
}

func (s *reservationService) ListByOwner(ctx context.Context, owner string) ([]Reservation, error) {
	rs, err := s.store.ReservationsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for %s: %w", owner, err)
	}
	return rs, nil
}

// ── Terminal transitions (caller holds the reservation's key) ────────────────

// consumeTx moves r to CONSUMED and writes its movement. A lapsed hold aborts with
// ErrReservationExpired so multi-key callers roll back every line.
func consumeTx(tx Tx, r *Reservation, now time.Time, reference, actor string, out *outbox) (Movement, error) {
	switch {
	case r.Status == ReservationExpired:
		return Movement{}, fmt.Errorf("reservation %s: %w", r.ID, ErrReservationExpired)
	case r.Status != ReservationActive:
		return Movement{}, fmt.Errorf("%w: reservation %s is %s", ErrInvalidReservationState, r.ID, r.Status)
	case r.ExpiredAt(now):
		return Movement{}, fmt.Errorf("reservation %s lapsed at %s: %w",
			r.ID, r.ExpiresAt.Format(time.RFC3339), ErrReservationExpired)
	}

	movementID := uuid.NewString()
	ok, err := tx.TransitionReservation(r.ID, ReservationActive, ReservationConsumed, now, movementID)
	if err != nil {
		return Movement{}, fmt.Errorf("failed to transition reservation: %w", err)
	}
	if !ok {
		return Movement{}, fmt.Errorf("%w: reservation %s is no longer active", ErrInvalidReservationState, r.ID)
	}
	m, err := applyTx(tx, Movement{
		ID:        movementID,
		Key:       r.Key,
		Delta:     r.Quantity.Neg(),
		Kind:      r.ConsumeKind,
		Reference: reference,
		Actor:     actor,
	}, now)
	if err != nil {
		return Movement{}, err
	}

	done := *r
	done.Status = ReservationConsumed
	done.ClosedAt = &now
	done.MovementID = m.ID
	out.add(reservationEvent(EventReservationConsumed, done, now))
	out.add(movementEvent(m))
	return m, nil
}

// releaseTx moves an ACTIVE r to RELEASED and returns the resulting record.
// A terminal r is returned unchanged.
func releaseTx(tx Tx, r *Reservation, now time.Time, out *outbox) (Reservation, error) {
	if r.Status.Terminal() {
		return *r, nil
	}
	ok, err := tx.TransitionReservation(r.ID, ReservationActive, ReservationReleased, now, "")
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to transition reservation: %w", err)
	}
	if !ok {
		cur, err := tx.Reservation(r.ID)
		if err != nil {
			return Reservation{}, err
		}
		return *cur, nil
	}
	done := *r
	done.Status = ReservationReleased
	done.ClosedAt = &now
	out.add(reservationEvent(EventReservationReleased, done, now))
	return done, nil
}

func expireTx(tx Tx, r *Reservation, now time.Time, out *outbox) (bool, error) {
	ok, err := tx.TransitionReservation(r.ID, ReservationActive, ReservationExpired, now, "")
	if err != nil {
		return false, fmt.Errorf("failed to transition reservation: %w", err)
	}
	if ok {
		done := *r
		done.Status = ReservationExpired
		done.ClosedAt = &now
		out.add(reservationEvent(EventReservationExpired, done, now))
	}
	return ok, nil
}
