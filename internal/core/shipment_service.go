package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warehouse-ledger/internal/locktable"
)

// ShipmentService reserves outbound lines and ships them. Status changes are a
// compare-and-set in the store, so a ship and a cancel racing from different
// processes cannot both succeed.
type ShipmentService interface {
	// CreateShipment reserves every line. If a line cannot be reserved the earlier
	// lines are released, the shipment is cancelled and a *ShipmentLineError is returned.
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*Shipment, error)
	// Ship consumes all line reservations in one step. If any has lapsed nothing ships
	// and ErrReservationExpired is returned.
	Ship(ctx context.Context, shipmentID, actor string) (*Shipment, error)
	CancelShipment(ctx context.Context, shipmentID, actor string) (*Shipment, error)
	GetShipment(ctx context.Context, shipmentID string) (*Shipment, error)
}

type shipmentService struct {
	store        Store
	reservations ReservationService
	events       Notifier
	clock        Clock
	ttl          time.Duration
	shipments    *locktable.Table
}

// NewShipmentService returns a ShipmentService that holds lines for ttl unless a request says otherwise.
func NewShipmentService(store Store, reservations ReservationService, events Notifier, clock Clock, ttl time.Duration) ShipmentService {
	if events == nil {
		events = NopNotifier{}
	}
	return &shipmentService{
		store:        store,
		reservations: reservations,
		events:       events,
		clock:        clock,
		ttl:          ttl,
		shipments:    locktable.New(),
	}
}

func (s *shipmentService) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*Shipment, error) {
	if req.Recipient == "" {
		return nil, invalidArg("shipment recipient is required")
	}
	if len(req.Lines) == 0 {
		return nil, invalidArg("shipment has no lines")
	}
	if req.TTL < 0 {
		return nil, invalidArg("shipment reservation ttl must not be negative")
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.ttl
	}

	now := s.clock.now()
	shp := Shipment{
		ID:        uuid.NewString(),
		Recipient: req.Recipient,
		Status:    ShipmentDraft,
		Actor:     req.Actor,
		CreatedAt: now,
	}
	for i, l := range req.Lines {
		if !l.Quantity.IsPositive() {
			return nil, invalidArg("shipment line %d quantity must be positive", i+1)
		}
		if err := checkPlaces(fmt.Sprintf("shipment line %d quantity", i+1), l.Quantity); err != nil {
			return nil, err
		}
		key, err := resolveKey(ctx, s.store, l.ItemID, l.LocationID)
		if err != nil {
			return nil, fmt.Errorf("shipment line %d: %w", i+1, err)
		}
		shp.Lines = append(shp.Lines, ShipmentLine{
			LineNumber: i + 1,
			ItemID:     key.ItemID,
			LocationID: key.LocationID,
			Quantity:   l.Quantity,
		})
	}

	unlock := s.shipments.Lock(shp.ID)
	defer unlock()

	if err := s.putShipment(ctx, shp, ""); err != nil {
		return nil, err
	}
	s.events.Notify(ctx, shipmentEvent(shp, "", now))

	for i, l := range shp.Lines {
		res, err := s.reservations.Reserve(ctx, ReserveRequest{
			ItemID:      l.ItemID,
			LocationID:  l.LocationID,
			Quantity:    l.Quantity,
			Owner:       shp.Reference(),
			TTL:         ttl,
			ConsumeKind: MovementShip,
		})
		if err != nil {
			lineErr := &ShipmentLineError{
				ShipmentID: shp.ID,
				LineNumber: l.LineNumber,
				ItemID:     l.ItemID,
				LocationID: l.LocationID,
				Err:        err,
			}
			if cerr := s.abandon(ctx, &shp); cerr != nil {
				return nil, errors.Join(lineErr, cerr)
			}
			return nil, lineErr
		}
		shp.Lines[i].ReservationID = res.ID
	}

	shp.Status = ShipmentReserved
	if err := s.putShipment(ctx, shp, ShipmentDraft); err != nil {
		shp.Status = ShipmentDraft
		if cerr := s.abandon(ctx, &shp); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	s.events.Notify(ctx, shipmentEvent(shp, ShipmentDraft, s.clock.now()))
	return &shp, nil
}

// abandon releases the lines CreateShipment already reserved and cancels the shipment.
// A shipment another engine already moved on is left as it is.
func (s *shipmentService) abandon(ctx context.Context, shp *Shipment) error {
	var errs []error
	for _, l := range shp.Lines {
		if l.ReservationID == "" {
			continue
		}
		if _, err := s.reservations.Release(ctx, l.ReservationID); err != nil {
			errs = append(errs, err)
		}
	}
	from := shp.Status
	now := s.clock.now()
	shp.Status = ShipmentCancelled
	shp.CancelledAt = &now
	if err := s.putShipment(ctx, *shp, from); err != nil {
		if !errors.Is(err, ErrInvalidShipmentState) {
			errs = append(errs, err)
		}
	} else {
		s.events.Notify(ctx, shipmentEvent(*shp, from, now))
	}
	return errors.Join(errs...)
}

func (s *shipmentService) Ship(ctx context.Context, shipmentID, actor string) (*Shipment, error) {
	unlock := s.shipments.Lock(shipmentID)
	defer unlock()

	shp, err := s.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if shp.Status != ShipmentReserved {
		return nil, fmt.Errorf("%w: shipment %s is %s, expected %s", ErrInvalidShipmentState, shp.ID, shp.Status, ShipmentReserved)
	}

	var out outbox
	var now time.Time
	next := *shp
	next.Lines = append([]ShipmentLine(nil), shp.Lines...)
	err = s.store.Update(ctx, lineKeys(shp), func(tx Tx) error {
		now = s.clock.now()
		for i, l := range next.Lines {
			r, err := tx.Reservation(l.ReservationID)
			if err != nil {
				return err
			}
			m, err := consumeTx(tx, r, now, shp.Reference(), actor, &out)
			if err != nil {
				return &ShipmentLineError{
					ShipmentID: shp.ID,
					LineNumber: l.LineNumber,
					ItemID:     l.ItemID,
					LocationID: l.LocationID,
					Err:        err,
				}
			}
			next.Lines[i].MovementID = m.ID
		}
		next.Status = ShipmentShipped
		next.ShippedAt = &now
		return tx.PutShipment(next, shp.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ship %s: %w", shp.ID, err)
	}
	out.add(shipmentEvent(next, shp.Status, now))
	out.flush(ctx, s.events)
	return &next, nil
}

func (s *shipmentService) CancelShipment(ctx context.Context, shipmentID, actor string) (*Shipment, error) {
	unlock := s.shipments.Lock(shipmentID)
	defer unlock()

	shp, err := s.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if shp.Status != ShipmentDraft && shp.Status != ShipmentReserved {
		return nil, fmt.Errorf("%w: shipment %s is %s and can no longer be cancelled", ErrInvalidShipmentState, shp.ID, shp.Status)
	}

	var out outbox
	var now time.Time
	next := *shp
	err = s.store.Update(ctx, lineKeys(shp), func(tx Tx) error {
		now = s.clock.now()
		for _, l := range shp.Lines {
			if l.ReservationID == "" {
				continue
			}
			r, err := tx.Reservation(l.ReservationID)
			if err != nil {
				return err
			}
			if _, err := releaseTx(tx, r, now, &out); err != nil {
				return err
			}
		}
		next.Status = ShipmentCancelled
		next.CancelledAt = &now
		if actor != "" {
			next.Actor = actor
		}
		return tx.PutShipment(next, shp.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel shipment %s: %w", shp.ID, err)
	}
	out.add(shipmentEvent(next, shp.Status, now))
	out.flush(ctx, s.events)
	return &next, nil
}

func (s *shipmentService) GetShipment(ctx context.Context, shipmentID string) (*Shipment, error) {
	shp, err := s.store.Shipment(ctx, shipmentID)
	if err != nil {
		return nil, lookupErr("shipment", shipmentID, err)
	}
	return shp, nil
}

func (s *shipmentService) putShipment(ctx context.Context, shp Shipment, from ShipmentStatus) error {
	err := s.store.Update(ctx, nil, func(tx Tx) error {
		return tx.PutShipment(shp, from)
	})
	if err != nil {
		return fmt.Errorf("failed to save shipment %s: %w", shp.ID, err)
	}
	return nil
}

func lineKeys(shp *Shipment) []Key {
	keys := make([]Key, 0, len(shp.Lines))
	for _, l := range shp.Lines {
		keys = append(keys, Key{ItemID: l.ItemID, LocationID: l.LocationID})
	}
	return keys
}
