package core

import (
	"context"
	"time"
)

// EventType names a change the engine announces after it commits.
type EventType string

const (
	EventMovementAppended     EventType = "movement.appended"
	EventReservationCreated   EventType = "reservation.created"
	EventReservationConsumed  EventType = "reservation.consumed"
	EventReservationReleased  EventType = "reservation.released"
	EventReservationExpired   EventType = "reservation.expired"
	EventBatchTransitioned    EventType = "batch.transitioned"
	EventShipmentTransitioned EventType = "shipment.transitioned"
)

// Event is delivered to the Notifier. Exactly one of the payload pointers is set.
type Event struct {
	Type        EventType        `json:"type"`
	At          time.Time        `json:"at"`
	From        string           `json:"from,omitempty"` // previous status for transitions
	Movement    *Movement        `json:"movement,omitempty"`
	Reservation *Reservation     `json:"reservation,omitempty"`
	Batch       *ProductionBatch `json:"batch,omitempty"`
	Shipment    *Shipment        `json:"shipment,omitempty"`
}

// Notifier receives events after the change they describe is durable.
// Implementations must not block for long; delivery problems are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// outbox collects events inside an Update callback so they are only published after commit.
type outbox struct {
	events []Event
}

func (o *outbox) add(e Event) {
	o.events = append(o.events, e)
}

func (o *outbox) flush(ctx context.Context, n Notifier) {
	if n == nil {
		return
	}
	for _, e := range o.events {
		n.Notify(ctx, e)
	}
	o.events = nil
}

func movementEvent(m Movement) Event {
	return Event{Type: EventMovementAppended, At: m.CreatedAt, Movement: &m}
}

func reservationEvent(t EventType, r Reservation, at time.Time) Event {
	return Event{Type: t, At: at, From: string(ReservationActive), Reservation: &r}
}

func batchEvent(b ProductionBatch, from BatchStatus, at time.Time) Event {
	return Event{Type: EventBatchTransitioned, At: at, From: string(from), Batch: &b}
}

func shipmentEvent(s Shipment, from ShipmentStatus, at time.Time) Event {
	return Event{Type: EventShipmentTransitioned, At: at, From: string(from), Shipment: &s}
}
