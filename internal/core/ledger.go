package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// defaultMovementPage is the page size ListMovements uses when the query sets no Limit.
const defaultMovementPage = 500

// LedgerService owns balances and the append-only movement log.
type LedgerService interface {
	GetBalance(ctx context.Context, itemID, locationID string) (*Balance, error)
	// StockLevel returns on-hand, reserved and available quantity for one key.
	StockLevel(ctx context.Context, itemID, locationID string) (*StockLevel, error)
	// ApplyMovement appends one movement and updates the balance in a single atomic step.
	// Negative deltas fail with ErrInsufficientStock when the balance would go below zero
	// and with ErrInsufficientAvailability when they would eat into active reservations.
	ApplyMovement(ctx context.Context, req MovementRequest) (*Movement, error)
	// Receive records an arrival of stock as a RECEIPT movement.
	Receive(ctx context.Context, itemID, locationID string, qty decimal.Decimal, reference, actor string) (*Movement, error)
	// Adjust records a signed stock correction as an ADJUSTMENT movement.
	Adjust(ctx context.Context, itemID, locationID string, delta decimal.Decimal, reason, actor string) (*Movement, error)
	// Pack moves Units × QuantityPerUnit of a variant's source item into Units of its
	// target item. Only whole units are packed.
	Pack(ctx context.Context, req PackRequest) (*PackResult, error)
	// MaxPackUnits reports how many whole units of a variant the source's available
	// quantity at locationID allows, and what would be left over.
	MaxPackUnits(ctx context.Context, variantID, locationID string) (*PackPlan, error)
	// ListMovements streams movements for q.Key oldest first. The sequence pages
	// through the store lazily and can be ranged over more than once.
	ListMovements(ctx context.Context, q MovementQuery) iter.Seq2[Movement, error]
}

type Ledger struct {
	store  Store
	events Notifier
	clock  Clock
}

func NewLedger(store Store, events Notifier, clock Clock) *Ledger {
	if events == nil {
		events = NopNotifier{}
	}
	return &Ledger{store: store, events: events, clock: clock}
}

func (l *Ledger) GetBalance(ctx context.Context, itemID, locationID string) (*Balance, error) {
	key, err := resolveKey(ctx, l.store, itemID, locationID)
	if err != nil {
		return nil, err
	}
	b, err := l.store.Balance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance for %s: %w", key, err)
	}
	return &b, nil
}

func (l *Ledger) StockLevel(ctx context.Context, itemID, locationID string) (*StockLevel, error) {
	key, err := resolveKey(ctx, l.store, itemID, locationID)
	if err != nil {
		return nil, err
	}
	lvl, err := l.store.StockLevel(ctx, key, l.clock.now())
	if err != nil {
		return nil, fmt.Errorf("failed to read stock level for %s: %w", key, err)
	}
	return &lvl, nil
}

func (l *Ledger) ApplyMovement(ctx context.Context, req MovementRequest) (*Movement, error) {
	if !req.Kind.Valid() {
		return nil, invalidArg("unknown movement kind %q", req.Kind)
	}
	if req.Delta.IsZero() && req.Kind != MovementWaste {
		return nil, invalidArg("movement delta must be non-zero")
	}
	key, err := resolveKey(ctx, l.store, req.ItemID, req.LocationID)
	if err != nil {
		return nil, err
	}

	var out outbox
	var applied Movement
	err = l.store.Update(ctx, []Key{key}, func(tx Tx) error {
		m, err := applyTx(tx, Movement{
			Key:       key,
			Delta:     req.Delta,
			Kind:      req.Kind,
			Reference: req.Reference,
			Actor:     req.Actor,
			Note:      req.Note,
		}, l.clock.now())
		if err != nil {
			return err
		}
		applied = m
		out.add(movementEvent(m))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s movement on %s: %w", req.Kind, key, err)
	}
	out.flush(ctx, l.events)
	return &applied, nil
}

func (l *Ledger) Receive(ctx context.Context, itemID, locationID string, qty decimal.Decimal, reference, actor string) (*Movement, error) {
	if !qty.IsPositive() {
		return nil, invalidArg("received quantity must be positive, got %s", qty)
	}
	return l.ApplyMovement(ctx, MovementRequest{
		ItemID:     itemID,
		LocationID: locationID,
		Delta:      qty,
		Kind:       MovementReceipt,
		Reference:  reference,
		Actor:      actor,
	})
}

func (l *Ledger) Adjust(ctx context.Context, itemID, locationID string, delta decimal.Decimal, reason, actor string) (*Movement, error) {
	if reason == "" {
		return nil, invalidArg("adjustment reason is required")
	}
	return l.ApplyMovement(ctx, MovementRequest{
		ItemID:     itemID,
		LocationID: locationID,
		Delta:      delta,
		Kind:       MovementAdjustment,
		Actor:      actor,
		Note:       reason,
	})
}

func (l *Ledger) Pack(ctx context.Context, req PackRequest) (*PackResult, error) {
	if !req.Units.IsPositive() || !req.Units.IsInteger() {
		return nil, invalidArg("pack units must be a positive whole number, got %s", req.Units)
	}
	v, src, dst, err := l.packingKeys(ctx, req.VariantID, req.LocationID)
	if err != nil {
		return nil, err
	}

	reference := "pack:" + uuid.NewString()
	var out outbox
	res := PackResult{Variant: *v}
	err = l.store.Update(ctx, []Key{src, dst}, func(tx Tx) error {
		now := l.clock.now()
		var err error
		res.SourceMovement, err = applyTx(tx, Movement{
			Key:       src,
			Delta:     req.Units.Mul(v.QuantityPerUnit).Neg(),
			Kind:      MovementPack,
			Reference: reference,
			Actor:     req.Actor,
			Note:      req.Note,
		}, now)
		if err != nil {
			return err
		}
		res.TargetMovement, err = applyTx(tx, Movement{
			Key:       dst,
			Delta:     req.Units,
			Kind:      MovementPack,
			Reference: reference,
			Actor:     req.Actor,
			Note:      req.Note,
		}, now)
		if err != nil {
			return err
		}
		out.add(movementEvent(res.SourceMovement))
		out.add(movementEvent(res.TargetMovement))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s into %s: %w", src, dst.ItemID, err)
	}
	out.flush(ctx, l.events)
	return &res, nil
}

func (l *Ledger) MaxPackUnits(ctx context.Context, variantID, locationID string) (*PackPlan, error) {
	v, src, _, err := l.packingKeys(ctx, variantID, locationID)
	if err != nil {
		return nil, err
	}
	lvl, err := l.store.StockLevel(ctx, src, l.clock.now())
	if err != nil {
		return nil, fmt.Errorf("failed to read stock level for %s: %w", src, err)
	}
	available := decimal.Max(lvl.Available, decimal.Zero)
	units := available.Div(v.QuantityPerUnit).Floor()
	return &PackPlan{
		Variant:   *v,
		Source:    src,
		Available: available,
		MaxUnits:  units,
		Remainder: available.Sub(units.Mul(v.QuantityPerUnit)),
	}, nil
}

// packingKeys resolves a variant and its source and target keys at one location.
func (l *Ledger) packingKeys(ctx context.Context, variantID, locationID string) (*PackingVariant, Key, Key, error) {
	if variantID == "" {
		return nil, Key{}, Key{}, invalidArg("packing variant is required")
	}
	v, err := l.store.PackingVariant(ctx, variantID)
	if err != nil {
		return nil, Key{}, Key{}, lookupErr("packing variant", variantID, err)
	}
	src, err := resolveKey(ctx, l.store, v.SourceItemID, locationID)
	if err != nil {
		return nil, Key{}, Key{}, err
	}
	dst, err := resolveKey(ctx, l.store, v.TargetItemID, src.LocationID)
	if err != nil {
		return nil, Key{}, Key{}, err
	}
	return v, src, dst, nil
}

func (l *Ledger) ListMovements(ctx context.Context, q MovementQuery) iter.Seq2[Movement, error] {
	return func(yield func(Movement, error) bool) {
		key, err := resolveKey(ctx, l.store, q.Key.ItemID, q.Key.LocationID)
		if err != nil {
			yield(Movement{}, err)
			return
		}
		page := q
		page.Key = key
		if page.Limit <= 0 {
			page.Limit = defaultMovementPage
		}
		for {
			batch, err := l.store.Movements(ctx, page)
			if err != nil {
				yield(Movement{}, fmt.Errorf("failed to list movements for %s: %w", key, err))
				return
			}
			for _, m := range batch {
				if !yield(m, nil) {
					return
				}
			}
			if len(batch) < page.Limit {
				return
			}
			page.AfterSeq = batch[len(batch)-1].Seq
		}
	}
}

// ── Shared transactional helpers ──────────────────────────────────────────────

// applyTx is the single write path for movements. Every caller holds the key lock.
// A negative delta may not take the balance below zero, nor below the quantity still
// held by active reservations on the key.
func applyTx(tx Tx, m Movement, now time.Time) (Movement, error) {
	if err := checkPlaces("movement delta", m.Delta); err != nil {
		return Movement{}, err
	}
	if m.Delta.IsNegative() {
		balance, err := tx.Balance(m.Key)
		if err != nil {
			return Movement{}, fmt.Errorf("failed to read balance: %w", err)
		}
		next := balance.Add(m.Delta)
		if next.IsNegative() {
			return Movement{}, fmt.Errorf("%w: %s has %s, movement needs %s",
				ErrInsufficientStock, m.Key, balance, m.Delta.Neg())
		}
		reserved, err := tx.Reserved(m.Key, now)
		if err != nil {
			return Movement{}, fmt.Errorf("failed to read reserved quantity: %w", err)
		}
		if next.LessThan(reserved) {
			return Movement{}, fmt.Errorf("%w: %s has %s available, movement needs %s",
				ErrInsufficientAvailability, m.Key, balance.Sub(reserved), m.Delta.Neg())
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = now
	return tx.AppendMovement(m)
}

// resolveKey validates the item and location, falling back to the default location
// when locationID is empty.
func resolveKey(ctx context.Context, store CatalogStore, itemID, locationID string) (Key, error) {
	if itemID == "" {
		return Key{}, invalidArg("item is required")
	}
	if _, err := store.Item(ctx, itemID); err != nil {
		return Key{}, lookupErr("item", itemID, err)
	}
	if locationID == "" {
		loc, err := store.DefaultLocation(ctx)
		if err != nil {
			return Key{}, lookupErr("default location", "", err)
		}
		return Key{ItemID: itemID, LocationID: loc.ID}, nil
	}
	if _, err := store.Location(ctx, locationID); err != nil {
		return Key{}, lookupErr("location", locationID, err)
	}
	return Key{ItemID: itemID, LocationID: locationID}, nil
}

func lookupErr(what, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		if id == "" {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s %s: %w", what, id, err)
}
