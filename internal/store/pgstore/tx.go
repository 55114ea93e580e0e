package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
)

type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	locked map[core.Key]bool
}

func (t *pgTx) guard(key core.Key) error {
	if !t.locked[key] {
		return fmt.Errorf("key %s is not locked by this update", key)
	}
	return nil
}

func (t *pgTx) Balance(key core.Key) (decimal.Decimal, error) {
	if err := t.guard(key); err != nil {
		return decimal.Zero, err
	}
	var q decimal.Decimal
	err := t.tx.QueryRow(t.ctx, `
		SELECT quantity FROM balances WHERE item_id = $1 AND location_id = $2
	`, key.ItemID, key.LocationID).Scan(&q)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance %s: %w", key, err)
	}
	return q, nil
}

func (t *pgTx) Reserved(key core.Key, now time.Time) (decimal.Decimal, error) {
	if err := t.guard(key); err != nil {
		return decimal.Zero, err
	}
	var sum decimal.Decimal
	err := t.tx.QueryRow(t.ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE item_id = $1 AND location_id = $2 AND status = 'ACTIVE' AND expires_at >= $3
	`, key.ItemID, key.LocationID, now).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum reservations on %s: %w", key, err)
	}
	return sum, nil
}

func (t *pgTx) Reservation(id string) (*core.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(t.ctx, `
		SELECT `+reservationColumns+` FROM reservations WHERE id::text = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) AppendMovement(m core.Movement) (core.Movement, error) {
	if err := t.guard(m.Key); err != nil {
		return core.Movement{}, err
	}
	err := t.tx.QueryRow(t.ctx, `
		INSERT INTO movements (id, item_id, location_id, delta, kind, reference, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`, m.ID, m.Key.ItemID, m.Key.LocationID, m.Delta, string(m.Kind), m.Reference, m.Actor, m.Note, m.CreatedAt).Scan(&m.Seq)
	if err != nil {
		return core.Movement{}, fmt.Errorf("failed to insert movement: %w", err)
	}

	_, err = t.tx.Exec(t.ctx, `
		UPDATE balances SET quantity = quantity + $3, updated_at = $4
		WHERE item_id = $1 AND location_id = $2
	`, m.Key.ItemID, m.Key.LocationID, m.Delta, m.CreatedAt)
	if isPgError(err, pgCheckViolation) {
		return core.Movement{}, fmt.Errorf("%w: %s would go negative", core.ErrInsufficientStock, m.Key)
	}
	if err != nil {
		return core.Movement{}, fmt.Errorf("failed to update balance: %w", err)
	}
	return m, nil
}

func (t *pgTx) InsertReservation(r core.Reservation) error {
	if err := t.guard(r.Key); err != nil {
		return err
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO reservations (id, item_id, location_id, quantity, owner, consume_kind, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.Key.ItemID, r.Key.LocationID, r.Quantity, r.Owner, string(r.ConsumeKind), string(r.Status), r.CreatedAt, r.ExpiresAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("reservation %s already exists: %w", r.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (t *pgTx) TransitionReservation(id string, from, to core.ReservationStatus, at time.Time, movementID string) (bool, error) {
	var itemID, locationID string
	err := t.tx.QueryRow(t.ctx, `SELECT item_id, location_id FROM reservations WHERE id::text = $1`, id).
		Scan(&itemID, &locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch reservation: %w", err)
	}
	if err := t.guard(core.Key{ItemID: itemID, LocationID: locationID}); err != nil {
		return false, err
	}

	tag, err := t.tx.Exec(t.ctx, `
		UPDATE reservations
		SET status = $3, closed_at = $4, movement_id = COALESCE(NULLIF($5, '')::uuid, movement_id)
		WHERE id::text = $1 AND status = $2
	`, id, string(from), string(to), at, movementID)
	if err != nil {
		return false, fmt.Errorf("failed to transition reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) PutBatch(b core.ProductionBatch, from core.BatchStatus) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	if from == "" {
		_, err = t.tx.Exec(t.ctx, `
			INSERT INTO production_batches (id, recipe_id, status, body, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, b.ID, b.RecipeID, string(b.Status), body)
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("batch %s already exists: %w", b.ID, core.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		return nil
	}

	// The row lock taken here is held to commit; a concurrent writer re-reads the
	// status after it and matches no row.
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE production_batches SET status = $3, body = $4, updated_at = NOW()
		WHERE id::text = $1 AND status = $2
	`, b.ID, string(from), string(b.Status), body)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %s is no longer %s", core.ErrInvalidBatchState, b.ID, from)
	}
	return nil
}

func (t *pgTx) PutShipment(s core.Shipment, from core.ShipmentStatus) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode shipment: %w", err)
	}
	if from == "" {
		_, err = t.tx.Exec(t.ctx, `
			INSERT INTO shipments (id, recipient, status, body, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, s.ID, s.Recipient, string(s.Status), body)
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("shipment %s already exists: %w", s.ID, core.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert shipment: %w", err)
		}
		return nil
	}

	tag, err := t.tx.Exec(t.ctx, `
		UPDATE shipments SET status = $3, body = $4, updated_at = NOW()
		WHERE id::text = $1 AND status = $2
	`, s.ID, string(from), string(s.Status), body)
	if err != nil {
		return fmt.Errorf("failed to save shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: shipment %s is no longer %s", core.ErrInvalidShipmentState, s.ID, from)
	}
	return nil
}
