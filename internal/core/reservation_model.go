package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus moves out of ACTIVE exactly once; every other status is terminal.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationConsumed ReservationStatus = "CONSUMED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

// Terminal reports whether s is a final status.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}

// Reservation is a provisional hold on available quantity.
// ConsumeKind is the movement kind written when the hold is consumed.
type Reservation struct {
	ID          string            `json:"id"`
	Key         Key               `json:"key"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Owner       string            `json:"owner"`
	ConsumeKind MovementKind      `json:"consume_kind"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	ClosedAt    *time.Time        `json:"closed_at,omitempty"`
	MovementID  string            `json:"movement_id,omitempty"` // set when CONSUMED
}

// ExpiredAt reports whether now is past the hold's deadline. A hold still counts
// and can still be consumed at the exact instant of its deadline.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// DueAt reports whether the sweeper may expire the hold at now (ExpiresAt <= now).
func (r Reservation) DueAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Holds reports whether r still reduces availability at now.
func (r Reservation) Holds(now time.Time) bool {
	return r.Status == ReservationActive && !r.ExpiredAt(now)
}

// ReserveRequest is the input to ReservationService.Reserve.
// ConsumeKind defaults to SHIP.
type ReserveRequest struct {
	ItemID      string
	LocationID  string
	Quantity    decimal.Decimal
	Owner       string
	TTL         time.Duration
	ConsumeKind MovementKind
}
