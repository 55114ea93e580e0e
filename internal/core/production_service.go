package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/locktable"
)

// ProductionService drives the batch state machine:
//
//	PENDING → INPUTS_RESERVED → IN_PROGRESS → COMPLETED
//	PENDING | INPUTS_RESERVED → CANCELLED
//
// Inputs are reserved one key at a time with compensation on failure. Every later step
// that touches several keys commits them together in one store update, and each status
// change is a compare-and-set in the store, so engines in different processes sharing
// one database cannot both apply the same transition.
type ProductionService interface {
	StartBatch(ctx context.Context, req StartBatchRequest) (*ProductionBatch, error)
	// CheckInputs measures a prospective batch against what is available now without
	// reserving anything, and reports the largest output the inputs would cover.
	CheckInputs(ctx context.Context, req StartBatchRequest) (*InputCheck, error)
	// AdvanceToInProgress consumes every input reservation, writing PRODUCTION_OUT movements.
	AdvanceToInProgress(ctx context.Context, batchID, actor string) (*ProductionBatch, error)
	// CompleteBatch records the actual output, which may differ from the requested quantity,
	// and one WASTE movement plus WasteRecord per waste entry.
	CompleteBatch(ctx context.Context, batchID string, actual decimal.Decimal, waste []WasteEntry, actor string) (*ProductionBatch, error)
	// CancelBatch releases whatever input reservations are still active.
	CancelBatch(ctx context.Context, batchID, actor string) (*ProductionBatch, error)
	GetBatch(ctx context.Context, batchID string) (*ProductionBatch, error)
}

type productionService struct {
	store        Store
	recipes      RecipeRegistry
	reservations ReservationService
	events       Notifier
	clock        Clock
	ttl          time.Duration
	batches      *locktable.Table
}

// NewProductionService returns a ProductionService whose input reservations live for ttl.
func NewProductionService(store Store, recipes RecipeRegistry, reservations ReservationService,
	events Notifier, clock Clock, ttl time.Duration) ProductionService {
	if events == nil {
		events = NopNotifier{}
	}
	return &productionService{
		store:        store,
		recipes:      recipes,
		reservations: reservations,
		events:       events,
		clock:        clock,
		ttl:          ttl,
		batches:      locktable.New(),
	}
}

// plan loads the active recipe a batch request names and resolves the output key.
func (s *productionService) plan(ctx context.Context, req StartBatchRequest) (*Recipe, Key, error) {
	if !req.OutputQuantity.IsPositive() {
		return nil, Key{}, invalidArg("batch output quantity must be positive, got %s", req.OutputQuantity)
	}
	if err := checkPlaces("batch output quantity", req.OutputQuantity); err != nil {
		return nil, Key{}, err
	}
	recipe, err := s.recipes.GetRecipe(ctx, req.RecipeID)
	if err != nil {
		return nil, Key{}, err
	}
	if !recipe.Active {
		return nil, Key{}, fmt.Errorf("recipe %s: %w", recipe.ID, ErrRecipeInactive)
	}
	outKey, err := resolveKey(ctx, s.store, recipe.OutputItemID, req.LocationID)
	if err != nil {
		return nil, Key{}, err
	}
	return recipe, outKey, nil
}

func (s *productionService) CheckInputs(ctx context.Context, req StartBatchRequest) (*InputCheck, error) {
	recipe, outKey, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	check := &InputCheck{
		RecipeID:          recipe.ID,
		OutputItemID:      recipe.OutputItemID,
		LocationID:        outKey.LocationID,
		RequestedQuantity: req.OutputQuantity,
		Feasible:          true,
	}
	for i, in := range recipe.Inputs {
		available, err := s.reservations.Available(ctx, in.ItemID, outKey.LocationID)
		if err != nil {
			return nil, err
		}
		required := inputRequirement(recipe, in, req.OutputQuantity)
		shortfall := decimal.Max(required.Sub(available), decimal.Zero)
		if shortfall.IsPositive() {
			check.Feasible = false
		}
		check.Inputs = append(check.Inputs, InputAvailability{
			ItemID:    in.ItemID,
			Required:  required,
			Available: available,
			Shortfall: shortfall,
		})
		covered := outputCovered(recipe, in, available)
		if i == 0 || covered.LessThan(check.MaxOutput) {
			check.MaxOutput = covered
		}
	}
	return check, nil
}

func (s *productionService) StartBatch(ctx context.Context, req StartBatchRequest) (*ProductionBatch, error) {
	recipe, outKey, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock.now()
	batch := ProductionBatch{
		ID:                uuid.NewString(),
		RecipeID:          recipe.ID,
		OutputItemID:      recipe.OutputItemID,
		LocationID:        outKey.LocationID,
		RequestedQuantity: req.OutputQuantity,
		Status:            BatchPending,
		Actor:             req.Actor,
		CreatedAt:         now,
	}
	for _, in := range recipe.Inputs {
		batch.Inputs = append(batch.Inputs, BatchInput{
			ItemID:   in.ItemID,
			Required: inputRequirement(recipe, in, req.OutputQuantity),
		})
	}

	unlock := s.batches.Lock(batch.ID)
	defer unlock()

	if err := s.putBatch(ctx, batch, ""); err != nil {
		return nil, err
	}
	s.events.Notify(ctx, batchEvent(batch, "", now))

	for i, in := range batch.Inputs {
		res, err := s.reservations.Reserve(ctx, ReserveRequest{
			ItemID:      in.ItemID,
			LocationID:  batch.LocationID,
			Quantity:    in.Required,
			Owner:       batch.Reference(),
			TTL:         s.ttl,
			ConsumeKind: MovementProductionOut,
		})
		if err != nil {
			cerr := s.abandon(ctx, &batch)
			if errors.Is(err, ErrInsufficientAvailability) || errors.Is(err, ErrInsufficientStock) {
				err = &InsufficientInputsError{BatchID: batch.ID, ItemID: in.ItemID, Required: in.Required, Err: err}
			} else {
				err = fmt.Errorf("failed to reserve input %s for batch %s: %w", in.ItemID, batch.ID, err)
			}
			if cerr != nil {
				return nil, errors.Join(err, cerr)
			}
			return nil, err
		}
		batch.Inputs[i].ReservationID = res.ID
	}

	batch.Status = BatchInputsReserved
	if err := s.putBatch(ctx, batch, BatchPending); err != nil {
		batch.Status = BatchPending
		if cerr := s.abandon(ctx, &batch); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	s.events.Notify(ctx, batchEvent(batch, BatchPending, s.clock.now()))
	return &batch, nil
}

// abandon releases the reservations StartBatch already made and cancels the batch.
// A batch another engine already moved on is left as it is.
func (s *productionService) abandon(ctx context.Context, b *ProductionBatch) error {
	var errs []error
	for _, in := range b.Inputs {
		if in.ReservationID == "" {
			continue
		}
		if _, err := s.reservations.Release(ctx, in.ReservationID); err != nil {
			errs = append(errs, err)
		}
	}
	from := b.Status
	now := s.clock.now()
	b.Status = BatchCancelled
	b.CancelledAt = &now
	if err := s.putBatch(ctx, *b, from); err != nil {
		if !errors.Is(err, ErrInvalidBatchState) {
			errs = append(errs, err)
		}
	} else {
		s.events.Notify(ctx, batchEvent(*b, from, now))
	}
	return errors.Join(errs...)
}

func (s *productionService) AdvanceToInProgress(ctx context.Context, batchID, actor string) (*ProductionBatch, error) {
	unlock := s.batches.Lock(batchID)
	defer unlock()

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchInputsReserved {
		return nil, fmt.Errorf("%w: batch %s is %s, expected %s", ErrInvalidBatchState, b.ID, b.Status, BatchInputsReserved)
	}

	var out outbox
	var now time.Time
	next := *b
	err = s.store.Update(ctx, s.inputKeys(b), func(tx Tx) error {
		now = s.clock.now()
		next.ConsumedMovements = nil
		for _, in := range b.Inputs {
			r, err := tx.Reservation(in.ReservationID)
			if err != nil {
				return err
			}
			m, err := consumeTx(tx, r, now, b.Reference(), actor, &out)
			if err != nil {
				return fmt.Errorf("input %s: %w", in.ItemID, err)
			}
			next.ConsumedMovements = append(next.ConsumedMovements, m.ID)
		}
		next.Status = BatchInProgress
		next.StartedAt = &now
		return tx.PutBatch(next, b.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start batch %s: %w", b.ID, err)
	}
	out.add(batchEvent(next, b.Status, now))
	out.flush(ctx, s.events)
	return &next, nil
}

func (s *productionService) CompleteBatch(ctx context.Context, batchID string, actual decimal.Decimal, waste []WasteEntry, actor string) (*ProductionBatch, error) {
	if !actual.IsPositive() {
		return nil, invalidArg("actual output quantity must be positive, got %s", actual)
	}
	if err := checkPlaces("actual output quantity", actual); err != nil {
		return nil, err
	}

	unlock := s.batches.Lock(batchID)
	defer unlock()

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchInProgress {
		return nil, fmt.Errorf("%w: batch %s is %s, expected %s", ErrInvalidBatchState, b.ID, b.Status, BatchInProgress)
	}

	keys := []Key{{ItemID: b.OutputItemID, LocationID: b.LocationID}}
	for i, w := range waste {
		if !w.Quantity.IsPositive() {
			return nil, invalidArg("waste entry %d quantity must be positive", i+1)
		}
		if err := checkPlaces(fmt.Sprintf("waste entry %d quantity", i+1), w.Quantity); err != nil {
			return nil, err
		}
		if w.Reason == "" {
			return nil, invalidArg("waste entry %d needs a reason", i+1)
		}
		key, err := resolveKey(ctx, s.store, w.ItemID, b.LocationID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	var out outbox
	var now time.Time
	next := *b
	err = s.store.Update(ctx, keys, func(tx Tx) error {
		now = s.clock.now()
		next.Waste = nil
		m, err := applyTx(tx, Movement{
			Key:       keys[0],
			Delta:     actual,
			Kind:      MovementProductionIn,
			Reference: b.Reference(),
			Actor:     actor,
		}, now)
		if err != nil {
			return err
		}
		out.add(movementEvent(m))
		next.OutputMovementID = m.ID

		for i, w := range waste {
			wm, err := applyTx(tx, Movement{
				Key:       keys[i+1],
				Delta:     decimal.Zero,
				Kind:      MovementWaste,
				Reference: b.Reference(),
				Actor:     actor,
				Note:      fmt.Sprintf("%s %s", w.Quantity, w.Reason),
			}, now)
			if err != nil {
				return err
			}
			out.add(movementEvent(wm))
			next.Waste = append(next.Waste, WasteRecord{
				BatchID:    b.ID,
				ItemID:     w.ItemID,
				Quantity:   w.Quantity,
				Reason:     w.Reason,
				MovementID: wm.ID,
				CreatedAt:  now,
			})
		}

		next.ActualQuantity = actual
		next.Status = BatchCompleted
		next.CompletedAt = &now
		return tx.PutBatch(next, b.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete batch %s: %w", b.ID, err)
	}
	out.add(batchEvent(next, b.Status, now))
	out.flush(ctx, s.events)
	return &next, nil
}

func (s *productionService) CancelBatch(ctx context.Context, batchID, actor string) (*ProductionBatch, error) {
	unlock := s.batches.Lock(batchID)
	defer unlock()

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchPending && b.Status != BatchInputsReserved {
		return nil, fmt.Errorf("%w: batch %s is %s and can no longer be cancelled", ErrInvalidBatchState, b.ID, b.Status)
	}

	var out outbox
	var now time.Time
	next := *b
	err = s.store.Update(ctx, s.inputKeys(b), func(tx Tx) error {
		now = s.clock.now()
		for _, in := range b.Inputs {
			if in.ReservationID == "" {
				continue
			}
			r, err := tx.Reservation(in.ReservationID)
			if err != nil {
				return err
			}
			if _, err := releaseTx(tx, r, now, &out); err != nil {
				return err
			}
		}
		next.Status = BatchCancelled
		next.CancelledAt = &now
		if actor != "" {
			next.Actor = actor
		}
		return tx.PutBatch(next, b.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel batch %s: %w", b.ID, err)
	}
	out.add(batchEvent(next, b.Status, now))
	out.flush(ctx, s.events)
	return &next, nil
}

func (s *productionService) GetBatch(ctx context.Context, batchID string) (*ProductionBatch, error) {
	b, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return nil, lookupErr("batch", batchID, err)
	}
	return b, nil
}

func (s *productionService) putBatch(ctx context.Context, b ProductionBatch, from BatchStatus) error {
	err := s.store.Update(ctx, nil, func(tx Tx) error {
		return tx.PutBatch(b, from)
	})
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *productionService) inputKeys(b *ProductionBatch) []Key {
	keys := make([]Key, 0, len(b.Inputs))
	for _, in := range b.Inputs {
		keys = append(keys, Key{ItemID: in.ItemID, LocationID: b.LocationID})
	}
	return keys
}
