package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Clock returns the current time. Services take one so tests can control expiry.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// Store is the persistence port for the whole engine.
// Implementations: internal/store/memstore (in-process) and internal/store/pgstore (PostgreSQL).
type Store interface {
	LedgerStore
	CatalogStore
}

// LedgerStore holds balances, the movement log, reservations and workflow records.
type LedgerStore interface {
	// Update runs fn with exclusive access to every key in keys. Keys are locked
	// in canonical order so overlapping callers cannot deadlock. Writes made
	// through tx become visible atomically when fn returns nil and are discarded
	// when it returns an error. An empty key set is allowed for record-only writes.
	Update(ctx context.Context, keys []Key, fn func(tx Tx) error) error

	// Balance reads the committed balance for key without taking the key lock.
	// A key that never had a movement has a zero balance.
	Balance(ctx context.Context, key Key) (Balance, error)
	// StockLevel reads balance and reserved quantity from one consistent snapshot.
	StockLevel(ctx context.Context, key Key, now time.Time) (StockLevel, error)
	// Movements returns movements for q.Key with Seq > q.AfterSeq, oldest first.
	Movements(ctx context.Context, q MovementQuery) ([]Movement, error)

	Reservation(ctx context.Context, id string) (*Reservation, error)
	ReservationsByOwner(ctx context.Context, owner string) ([]Reservation, error)
	// LapsedReservations returns up to limit ACTIVE reservations with ExpiresAt <= now.
	LapsedReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)

	Batch(ctx context.Context, id string) (*ProductionBatch, error)
	Shipment(ctx context.Context, id string) (*Shipment, error)
}

// Tx is the write view handed to Update. Balance and reservation writes are
// only permitted for keys the Update call locked.
type Tx interface {
	Balance(key Key) (decimal.Decimal, error)
	// Reserved sums ACTIVE reservations on key that have not lapsed at now.
	Reserved(key Key, now time.Time) (decimal.Decimal, error)
	Reservation(id string) (*Reservation, error)

	// AppendMovement writes m to the log and adds m.Delta to the key's balance.
	// The returned copy carries the store-assigned Seq.
	AppendMovement(m Movement) (Movement, error)
	InsertReservation(r Reservation) error
	// TransitionReservation moves reservation id from status from to status to.
	// It reports false without writing when the current status is not from.
	TransitionReservation(id string, from, to ReservationStatus, at time.Time, movementID string) (bool, error)

	// PutBatch stores b if the committed batch is still in status from, checked
	// atomically with the commit. An empty from inserts a new batch. A mismatch
	// fails the whole update with ErrInvalidBatchState.
	PutBatch(b ProductionBatch, from BatchStatus) error
	// PutShipment is the shipment counterpart of PutBatch; a mismatch fails
	// with ErrInvalidShipmentState.
	PutShipment(s Shipment, from ShipmentStatus) error
}

// CatalogStore holds items, locations and recipes.
type CatalogStore interface {
	// CreateItem fails with ErrConflict when the ID is taken.
	CreateItem(ctx context.Context, item Item) error
	Item(ctx context.Context, id string) (*Item, error)
	Items(ctx context.Context) ([]Item, error)

	// CreateLocation fails with ErrConflict when the ID is taken or when a
	// default location already exists and loc.IsDefault is set.
	CreateLocation(ctx context.Context, loc Location) error
	Location(ctx context.Context, id string) (*Location, error)
	Locations(ctx context.Context) ([]Location, error)
	DefaultLocation(ctx context.Context) (*Location, error)

	// PutRecipe inserts r. When r.Active, any other active recipe for the same
	// output item is deactivated in the same write.
	PutRecipe(ctx context.Context, r Recipe) error
	DeactivateRecipe(ctx context.Context, id string) error
	Recipe(ctx context.Context, id string) (*Recipe, error)
	ActiveRecipe(ctx context.Context, outputItemID string) (*Recipe, error)
	Recipes(ctx context.Context) ([]Recipe, error)

	// CreatePackingVariant fails with ErrConflict when the ID or the
	// source/target pair is already registered.
	CreatePackingVariant(ctx context.Context, v PackingVariant) error
	PackingVariant(ctx context.Context, id string) (*PackingVariant, error)
	// PackingVariants lists variants packing sourceItemID, or all variants when it is empty.
	PackingVariants(ctx context.Context, sourceItemID string) ([]PackingVariant, error)
}
