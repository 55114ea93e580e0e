package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/store/memstore"
)

var (
	keyA = core.Key{ItemID: "A", LocationID: "MAIN"}
	keyB = core.Key{ItemID: "B", LocationID: "MAIN"}
)

func movement(key core.Key, delta string) core.Movement {
	return core.Movement{
		ID:        "m-" + key.String() + delta,
		Key:       key,
		Delta:     decimal.RequireFromString(delta),
		Kind:      core.MovementAdjustment,
		CreatedAt: time.Now().UTC(),
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	if err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error {
		_, err := tx.AppendMovement(movement(keyA, "10"))
		return err
	}); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, []core.Key{keyA, keyB}, func(tx core.Tx) error {
		if _, err := tx.AppendMovement(movement(keyA, "-4")); err != nil {
			return err
		}
		if _, err := tx.AppendMovement(movement(keyB, "3")); err != nil {
			return err
		}
		if err := tx.InsertReservation(core.Reservation{ID: "r1", Key: keyA, Quantity: decimal.NewFromInt(1), Owner: "o", Status: core.ReservationActive, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	b, _ := s.Balance(ctx, keyA)
	if !b.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("rolled back update changed A to %s", b.Quantity)
	}
	b, _ = s.Balance(ctx, keyB)
	if !b.Quantity.IsZero() {
		t.Errorf("rolled back update changed B to %s", b.Quantity)
	}
	ms, _ := s.Movements(ctx, core.MovementQuery{Key: keyA})
	if len(ms) != 1 {
		t.Errorf("expected only the seed movement, got %d", len(ms))
	}
	if _, err := s.Reservation(ctx, "r1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rolled back reservation is visible: %v", err)
	}
}

func TestTx_GuardsUnlockedKeys(t *testing.T) {
	s := memstore.New()
	err := s.Update(context.Background(), []core.Key{keyA}, func(tx core.Tx) error {
		_, err := tx.AppendMovement(movement(keyB, "1"))
		return err
	})
	if err == nil {
		t.Fatal("expected writing an unlocked key to fail")
	}
}

func TestTx_RefusesNegativeBalance(t *testing.T) {
	s := memstore.New()
	err := s.Update(context.Background(), []core.Key{keyA}, func(tx core.Tx) error {
		_, err := tx.AppendMovement(movement(keyA, "-1"))
		return err
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestTx_TransitionIsCompareAndSet(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	now := time.Now().UTC()
	r := core.Reservation{ID: "r1", Key: keyA, Quantity: decimal.NewFromInt(1), Owner: "o", Status: core.ReservationActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	if err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error { return tx.InsertReservation(r) }); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	var first, second bool
	err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error {
		var err error
		if first, err = tx.TransitionReservation("r1", core.ReservationActive, core.ReservationReleased, now, ""); err != nil {
			return err
		}
		second, err = tx.TransitionReservation("r1", core.ReservationActive, core.ReservationExpired, now, "")
		return err
	})
	if err != nil {
		t.Fatalf("transition update failed: %v", err)
	}
	if !first || second {
		t.Errorf("expected exactly the first transition to apply, got %v/%v", first, second)
	}
	got, _ := s.Reservation(ctx, "r1")
	if got.Status != core.ReservationReleased {
		t.Errorf("expected RELEASED, got %s", got.Status)
	}
	lvl, _ := s.StockLevel(ctx, keyA, now)
	if !lvl.Reserved.IsZero() {
		t.Errorf("released hold still counted: %s", lvl.Reserved)
	}

	if err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error { return tx.InsertReservation(r) }); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate id, got %v", err)
	}
}

func TestLapsedReservations_OrderedAndLimited(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error {
		for i, id := range []string{"c", "a", "b", "live"} {
			exp := now.Add(-time.Duration(3-i) * time.Minute)
			if id == "live" {
				exp = now.Add(time.Hour)
			}
			if err := tx.InsertReservation(core.Reservation{ID: id, Key: keyA, Quantity: decimal.NewFromInt(1), Owner: "o", Status: core.ReservationActive, ExpiresAt: exp}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.LapsedReservations(ctx, now, 2)
	if err != nil {
		t.Fatalf("LapsedReservations failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("expected [c a], got %+v", got)
	}
	all, _ := s.LapsedReservations(ctx, now, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 lapsed, got %d", len(all))
	}
}

func TestCatalog_DefaultLocationAndRecipes(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	if err := s.CreateLocation(ctx, core.Location{ID: "MAIN", IsDefault: true}); err != nil {
		t.Fatalf("CreateLocation failed: %v", err)
	}
	if err := s.CreateLocation(ctx, core.Location{ID: "SIDE", IsDefault: true}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected a second default to conflict, got %v", err)
	}
	def, err := s.DefaultLocation(ctx)
	if err != nil || def.ID != "MAIN" {
		t.Errorf("expected MAIN as default, got %v %v", def, err)
	}

	r1 := core.Recipe{ID: "r1", OutputItemID: "B", Active: true}
	r2 := core.Recipe{ID: "r2", OutputItemID: "B", Active: true}
	if err := s.PutRecipe(ctx, r1); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRecipe(ctx, r2); err != nil {
		t.Fatal(err)
	}
	active, err := s.ActiveRecipe(ctx, "B")
	if err != nil || active.ID != "r2" {
		t.Errorf("expected r2 active, got %v %v", active, err)
	}
	old, _ := s.Recipe(ctx, "r1")
	if old.Active {
		t.Error("expected r1 to be deactivated by r2")
	}
}

func TestTx_PutBatchIsCompareAndSet(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	b := core.ProductionBatch{ID: "b1", RecipeID: "r1", Status: core.BatchPending}

	put := func(b core.ProductionBatch, from core.BatchStatus) error {
		return s.Update(ctx, nil, func(tx core.Tx) error { return tx.PutBatch(b, from) })
	}
	if err := put(b, ""); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := put(b, ""); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict inserting twice, got %v", err)
	}
	b.Status = core.BatchInputsReserved
	if err := put(b, core.BatchInProgress); !errors.Is(err, core.ErrInvalidBatchState) {
		t.Errorf("expected ErrInvalidBatchState from the wrong status, got %v", err)
	}
	if err := put(core.ProductionBatch{ID: "nope", Status: core.BatchCancelled}, core.BatchPending); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown batch, got %v", err)
	}

	// A transition committed after this update staged its write still wins.
	err := s.Update(ctx, []core.Key{keyA}, func(tx core.Tx) error {
		if _, err := tx.AppendMovement(movement(keyA, "5")); err != nil {
			return err
		}
		stale := b
		stale.Status = core.BatchCancelled
		if err := tx.PutBatch(stale, core.BatchPending); err != nil {
			return err
		}
		return put(b, core.BatchPending)
	})
	if !errors.Is(err, core.ErrInvalidBatchState) {
		t.Fatalf("expected the stale write to fail at commit, got %v", err)
	}
	got, _ := s.Batch(ctx, "b1")
	if got.Status != core.BatchInputsReserved {
		t.Errorf("expected INPUTS_RESERVED, got %s", got.Status)
	}
	bal, _ := s.Balance(ctx, keyA)
	if !bal.Quantity.IsZero() {
		t.Errorf("the failed commit applied its movement: %s", bal.Quantity)
	}
}

func TestTx_PutShipmentIsCompareAndSet(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	shp := core.Shipment{ID: "s1", Recipient: "Shop", Status: core.ShipmentReserved}
	put := func(shp core.Shipment, from core.ShipmentStatus) error {
		return s.Update(ctx, nil, func(tx core.Tx) error { return tx.PutShipment(shp, from) })
	}
	if err := put(shp, ""); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	shipped := shp
	shipped.Status = core.ShipmentShipped
	if err := put(shipped, core.ShipmentReserved); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	cancelled := shp
	cancelled.Status = core.ShipmentCancelled
	if err := put(cancelled, core.ShipmentReserved); !errors.Is(err, core.ErrInvalidShipmentState) {
		t.Errorf("expected ErrInvalidShipmentState, got %v", err)
	}
	got, _ := s.Shipment(ctx, "s1")
	if got.Status != core.ShipmentShipped {
		t.Errorf("expected SHIPPED, got %s", got.Status)
	}
}

func TestCatalog_PackingVariants(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	v := core.PackingVariant{ID: "v1", SourceItemID: "JAM", TargetItemID: "JAR", QuantityPerUnit: decimal.RequireFromString("0.5")}

	if err := s.CreatePackingVariant(ctx, v); err != nil {
		t.Fatalf("CreatePackingVariant failed: %v", err)
	}
	dup := v
	dup.ID = "v2"
	if err := s.CreatePackingVariant(ctx, dup); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected the same pair to conflict, got %v", err)
	}
	other := core.PackingVariant{ID: "v0", SourceItemID: "JAM", TargetItemID: "BUCKET", QuantityPerUnit: decimal.NewFromInt(10)}
	if err := s.CreatePackingVariant(ctx, other); err != nil {
		t.Fatalf("CreatePackingVariant failed: %v", err)
	}

	all, _ := s.PackingVariants(ctx, "")
	if len(all) != 2 || all[0].ID != "v0" || all[1].ID != "v1" {
		t.Errorf("expected [v0 v1], got %+v", all)
	}
	none, _ := s.PackingVariants(ctx, "HONEY")
	if len(none) != 0 {
		t.Errorf("expected no variants for HONEY, got %+v", none)
	}
	if _, err := s.PackingVariant(ctx, "v9"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
