package memstore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
)

// tx stages writes until Update's callback returns. Reads see staged writes first,
// then committed state.
type tx struct {
	s      *Store
	locked map[core.Key]bool

	balances         map[core.Key]decimal.Decimal
	movements        []core.Movement
	reservations     map[string]core.Reservation
	reservationOrder []string
	batches          []stagedBatch
	shipments        []stagedShipment
}

type stagedBatch struct {
	b    core.ProductionBatch
	from core.BatchStatus
}

type stagedShipment struct {
	s    core.Shipment
	from core.ShipmentStatus
}

func (t *tx) guard(key core.Key) error {
	if !t.locked[key] {
		return fmt.Errorf("key %s is not locked by this update", key)
	}
	return nil
}

func (t *tx) Balance(key core.Key) (decimal.Decimal, error) {
	if err := t.guard(key); err != nil {
		return decimal.Zero, err
	}
	if b, ok := t.balances[key]; ok {
		return b, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.balances[key].Quantity, nil
}

func (t *tx) Reserved(key core.Key, now time.Time) (decimal.Decimal, error) {
	if err := t.guard(key); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	t.s.mu.RLock()
	for id := range t.s.active[key] {
		if _, staged := t.reservations[id]; staged {
			continue
		}
		if r := t.s.reservations[id]; r.Holds(now) {
			sum = sum.Add(r.Quantity)
		}
	}
	t.s.mu.RUnlock()
	for _, r := range t.reservations {
		if r.Key == key && r.Holds(now) {
			sum = sum.Add(r.Quantity)
		}
	}
	return sum, nil
}

func (t *tx) Reservation(id string) (*core.Reservation, error) {
	if r, ok := t.reservations[id]; ok {
		return &r, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (t *tx) AppendMovement(m core.Movement) (core.Movement, error) {
	if err := t.guard(m.Key); err != nil {
		return core.Movement{}, err
	}
	balance, err := t.Balance(m.Key)
	if err != nil {
		return core.Movement{}, err
	}
	next := balance.Add(m.Delta)
	if next.IsNegative() {
		return core.Movement{}, fmt.Errorf("%w: %s would drop to %s", core.ErrInsufficientStock, m.Key, next)
	}
	m.Seq = t.s.seq.Add(1)
	t.balances[m.Key] = next
	t.movements = append(t.movements, m)
	return m, nil
}

func (t *tx) InsertReservation(r core.Reservation) error {
	if err := t.guard(r.Key); err != nil {
		return err
	}
	if _, err := t.Reservation(r.ID); err == nil {
		return fmt.Errorf("reservation %s already exists: %w", r.ID, core.ErrConflict)
	}
	t.stageReservation(r)
	return nil
}

func (t *tx) TransitionReservation(id string, from, to core.ReservationStatus, at time.Time, movementID string) (bool, error) {
	r, err := t.Reservation(id)
	if err != nil {
		return false, err
	}
	if err := t.guard(r.Key); err != nil {
		return false, err
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ClosedAt = &at
	if movementID != "" {
		r.MovementID = movementID
	}
	t.stageReservation(*r)
	return true, nil
}

func (t *tx) stageReservation(r core.Reservation) {
	if _, ok := t.reservations[r.ID]; !ok {
		t.reservationOrder = append(t.reservationOrder, r.ID)
	}
	t.reservations[r.ID] = r
}

// PutBatch fails fast on a stale status; commit checks again under the store lock.
func (t *tx) PutBatch(b core.ProductionBatch, from core.BatchStatus) error {
	t.s.mu.RLock()
	err := t.s.checkBatch(b.ID, from)
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	t.batches = append(t.batches, stagedBatch{b: cloneBatch(b), from: from})
	return nil
}

func (t *tx) PutShipment(s core.Shipment, from core.ShipmentStatus) error {
	t.s.mu.RLock()
	err := t.s.checkShipment(s.ID, from)
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	t.shipments = append(t.shipments, stagedShipment{s: cloneShipment(s), from: from})
	return nil
}
