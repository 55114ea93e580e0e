package core_test

import (
	"errors"
	"testing"
	"time"

	"warehouse-ledger/internal/core"
)

// registerRecipe registers B made from 2 A (and optionally 1 C) per unit.
func registerRecipe(t *testing.T, f *fixture, withC bool) *core.Recipe {
	t.Helper()
	inputs := []core.RecipeInput{{ItemID: "A", Quantity: dec("2")}}
	if withC {
		inputs = append(inputs, core.RecipeInput{ItemID: "C", Quantity: dec("1")})
	}
	r, err := f.recipes.Register(f.ctx, core.RegisterRecipeRequest{
		Name: "B from A", OutputItemID: "B", OutputQuantity: dec("1"), Inputs: inputs,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func TestProduction_InsufficientInputs(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "25")
	f.reserve(t, "A", "MAIN", "10", "shipment:other", time.Hour)
	rec := registerRecipe(t, f, false)

	_, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10")})
	if !errors.Is(err, core.ErrInsufficientInputs) {
		t.Fatalf("expected ErrInsufficientInputs, got %v", err)
	}
	var inErr *core.InsufficientInputsError
	if !errors.As(err, &inErr) {
		t.Fatalf("expected *InsufficientInputsError, got %T", err)
	}
	if inErr.ItemID != "A" || !inErr.Required.Equal(dec("20")) {
		t.Errorf("expected A needing 20, got %s needing %s", inErr.ItemID, inErr.Required)
	}
	if !errors.Is(err, core.ErrInsufficientAvailability) {
		t.Errorf("expected the cause to be ErrInsufficientAvailability, got %v", err)
	}

	b, err := f.production.GetBatch(f.ctx, inErr.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if b.Status != core.BatchCancelled {
		t.Errorf("expected failed batch to be CANCELLED, got %s", b.Status)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("15")) {
		t.Errorf("expected 15 still available, got %s", a)
	}
}

func TestProduction_CompensatesPartialReservations(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "100")
	f.receive(t, "C", "MAIN", "3")
	rec := registerRecipe(t, f, true)

	_, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("5")})
	var inErr *core.InsufficientInputsError
	if !errors.As(err, &inErr) || inErr.ItemID != "C" {
		t.Fatalf("expected C to be the failing input, got %v", err)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("100")) {
		t.Errorf("A reservation should have been released, available %s", a)
	}
	rs, _ := f.reservations.ListByOwner(f.ctx, "batch:"+inErr.BatchID)
	if len(rs) != 1 || rs[0].Status != core.ReservationReleased {
		t.Errorf("expected the A hold to be RELEASED, got %+v", rs)
	}
}

func TestProduction_FullLifecycleWithShortfallAndWaste(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "30")
	rec := registerRecipe(t, f, false)

	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10"), Actor: "operator"})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if b.Status != core.BatchInputsReserved || len(b.Inputs) != 1 || b.Inputs[0].ReservationID == "" {
		t.Fatalf("unexpected batch after start: %+v", b)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("10")) {
		t.Errorf("expected 10 A available after reserving 20, got %s", a)
	}

	if _, err := f.production.CompleteBatch(f.ctx, b.ID, dec("9"), nil, ""); !errors.Is(err, core.ErrInvalidBatchState) {
		t.Errorf("expected ErrInvalidBatchState completing a reserved batch, got %v", err)
	}

	b, err = f.production.AdvanceToInProgress(f.ctx, b.ID, "operator")
	if err != nil {
		t.Fatalf("AdvanceToInProgress failed: %v", err)
	}
	if b.Status != core.BatchInProgress || len(b.ConsumedMovements) != 1 || b.StartedAt == nil {
		t.Fatalf("unexpected batch after advance: %+v", b)
	}
	if bal := f.balance(t, "A", "MAIN"); !bal.Equal(dec("10")) {
		t.Errorf("expected 10 A on hand after consuming 20, got %s", bal)
	}
	if _, err := f.production.CancelBatch(f.ctx, b.ID, ""); !errors.Is(err, core.ErrInvalidBatchState) {
		t.Errorf("expected ErrInvalidBatchState cancelling an in-progress batch, got %v", err)
	}

	b, err = f.production.CompleteBatch(f.ctx, b.ID, dec("9"), []core.WasteEntry{{ItemID: "B", Quantity: dec("1"), Reason: "DEFECT"}}, "operator")
	if err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	if b.Status != core.BatchCompleted || !b.ActualQuantity.Equal(dec("9")) || b.CompletedAt == nil {
		t.Errorf("unexpected completed batch: %+v", b)
	}
	if len(b.Waste) != 1 || b.Waste[0].Reason != "DEFECT" || b.Waste[0].MovementID == "" {
		t.Errorf("unexpected waste records: %+v", b.Waste)
	}
	if bal := f.balance(t, "B", "MAIN"); !bal.Equal(dec("9")) {
		t.Errorf("expected B to rise by exactly 9, got %s", bal)
	}

	// Inputs are written before the output.
	var outSeq, lastInSeq int64
	for m, err := range f.ledger.ListMovements(f.ctx, core.MovementQuery{Key: core.Key{ItemID: "A", LocationID: "MAIN"}}) {
		if err != nil {
			t.Fatal(err)
		}
		if m.Kind == core.MovementProductionOut {
			lastInSeq = m.Seq
			if m.Reference != "batch:"+b.ID {
				t.Errorf("unexpected input reference %q", m.Reference)
			}
		}
	}
	var kinds []core.MovementKind
	for m, err := range f.ledger.ListMovements(f.ctx, core.MovementQuery{Key: core.Key{ItemID: "B", LocationID: "MAIN"}}) {
		if err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, m.Kind)
		if m.Kind == core.MovementProductionIn {
			outSeq = m.Seq
		}
	}
	if lastInSeq == 0 || outSeq <= lastInSeq {
		t.Errorf("output movement %d must follow input movement %d", outSeq, lastInSeq)
	}
	if len(kinds) != 2 || kinds[0] != core.MovementProductionIn || kinds[1] != core.MovementWaste {
		t.Errorf("unexpected B movement kinds %v", kinds)
	}
	f.assertLedgerConsistent(t, "A", "MAIN")
	f.assertLedgerConsistent(t, "B", "MAIN")

	if n := f.events.count(core.EventBatchTransitioned); n != 4 {
		t.Errorf("expected 4 batch transitions (created, reserved, started, completed), got %d", n)
	}
}

func TestProduction_CancelReleasesInputs(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "30")
	f.receive(t, "C", "MAIN", "30")
	rec := registerRecipe(t, f, true)

	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("4")})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	b, err = f.production.CancelBatch(f.ctx, b.ID, "supervisor")
	if err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}
	if b.Status != core.BatchCancelled || b.CancelledAt == nil {
		t.Errorf("unexpected cancelled batch %+v", b)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("30")) {
		t.Errorf("expected A fully available, got %s", a)
	}
	if a := f.available(t, "C", "MAIN"); !a.Equal(dec("30")) {
		t.Errorf("expected C fully available, got %s", a)
	}
	if _, err := f.production.AdvanceToInProgress(f.ctx, b.ID, ""); !errors.Is(err, core.ErrInvalidBatchState) {
		t.Errorf("expected ErrInvalidBatchState advancing a cancelled batch, got %v", err)
	}
}

func TestProduction_AdvanceWithLapsedInputIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "30")
	f.receive(t, "C", "MAIN", "30")
	rec := registerRecipe(t, f, true)

	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("2")})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	f.clock.Advance(25 * time.Hour)

	if _, err := f.production.AdvanceToInProgress(f.ctx, b.ID, ""); !errors.Is(err, core.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	if bal := f.balance(t, "A", "MAIN"); !bal.Equal(dec("30")) {
		t.Errorf("no input may be consumed, A is %s", bal)
	}
	if bal := f.balance(t, "C", "MAIN"); !bal.Equal(dec("30")) {
		t.Errorf("no input may be consumed, C is %s", bal)
	}
	got, _ := f.production.GetBatch(f.ctx, b.ID)
	if got.Status != core.BatchInputsReserved {
		t.Errorf("batch should stay INPUTS_RESERVED, got %s", got.Status)
	}
}

func TestProduction_RecipeRules(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "100")
	old := registerRecipe(t, f, false)
	current := registerRecipe(t, f, true)

	active, err := f.recipes.GetActiveRecipe(f.ctx, "B")
	if err != nil {
		t.Fatalf("GetActiveRecipe failed: %v", err)
	}
	if active.ID != current.ID {
		t.Errorf("expected the newest recipe to be active, got %s", active.ID)
	}

	_, err = f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: old.ID, OutputQuantity: dec("1")})
	if !errors.Is(err, core.ErrRecipeInactive) {
		t.Errorf("expected ErrRecipeInactive for superseded recipe, got %v", err)
	}

	if err := f.recipes.Deactivate(f.ctx, current.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if _, err := f.recipes.GetActiveRecipe(f.ctx, "B"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected no active recipe, got %v", err)
	}
	if _, err := f.recipes.GetRecipe(f.ctx, current.ID); err != nil {
		t.Errorf("inactive recipes stay visible: %v", err)
	}

	invalid := []core.RegisterRecipeRequest{
		{OutputItemID: "B", OutputQuantity: dec("1")},
		{OutputItemID: "B", OutputQuantity: dec("0"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("1")}}},
		{OutputItemID: "B", OutputQuantity: dec("1"), Inputs: []core.RecipeInput{{ItemID: "B", Quantity: dec("1")}}},
		{OutputItemID: "B", OutputQuantity: dec("1"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("1")}, {ItemID: "A", Quantity: dec("2")}}},
		{OutputItemID: "B", OutputQuantity: dec("1"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("-1")}}},
	}
	for i, req := range invalid {
		if _, err := f.recipes.Register(f.ctx, req); !errors.Is(err, core.ErrInvalidArgument) {
			t.Errorf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestProduction_ScalesInputsByRecipeOutput(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "100")
	rec, err := f.recipes.Register(f.ctx, core.RegisterRecipeRequest{
		OutputItemID: "B", OutputQuantity: dec("4"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("3")}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10")})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if !b.Inputs[0].Required.Equal(dec("7.5")) {
		t.Errorf("expected 3 × 10 / 4 = 7.5, got %s", b.Inputs[0].Required)
	}
}

func TestProduction_RequirementRoundsUpToStoredScale(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "100")
	rec, err := f.recipes.Register(f.ctx, core.RegisterRecipeRequest{
		OutputItemID: "B", OutputQuantity: dec("3"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10")})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if !b.Inputs[0].Required.Equal(dec("3.333334")) {
		t.Errorf("expected 10 / 3 rounded up to 3.333334, got %s", b.Inputs[0].Required)
	}
	if a := f.available(t, "A", "MAIN"); !a.Equal(dec("96.666666")) {
		t.Errorf("expected 96.666666 available, got %s", a)
	}

	if _, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("0.0000001")}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected a 7-place output to be rejected, got %v", err)
	}
}

func TestProduction_CheckInputsReservesNothing(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "25")
	f.receive(t, "C", "MAIN", "4")
	rec := registerRecipe(t, f, true)

	check, err := f.production.CheckInputs(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10")})
	if err != nil {
		t.Fatalf("CheckInputs failed: %v", err)
	}
	if check.Feasible || !check.MaxOutput.Equal(dec("4")) || check.LocationID != "MAIN" {
		t.Errorf("unexpected check %+v", check)
	}
	if len(check.Inputs) != 2 {
		t.Fatalf("expected two inputs, got %+v", check.Inputs)
	}
	a, c := check.Inputs[0], check.Inputs[1]
	if !a.Required.Equal(dec("20")) || !a.Shortfall.IsZero() {
		t.Errorf("unexpected A line %+v", a)
	}
	if !c.Required.Equal(dec("10")) || !c.Available.Equal(dec("4")) || !c.Shortfall.Equal(dec("6")) {
		t.Errorf("unexpected C line %+v", c)
	}
	if got := f.available(t, "C", "MAIN"); !got.Equal(dec("4")) {
		t.Errorf("a preview must not reserve, C available %s", got)
	}

	// MaxOutput is a quantity StartBatch accepts.
	if _, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: check.MaxOutput}); err != nil {
		t.Errorf("starting at MaxOutput failed: %v", err)
	}
}

func TestProduction_CheckInputsMaxOutputNeverOverreaches(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "10")
	rec, err := f.recipes.Register(f.ctx, core.RegisterRecipeRequest{
		OutputItemID: "B", OutputQuantity: dec("1"), Inputs: []core.RecipeInput{{ItemID: "A", Quantity: dec("3")}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	check, err := f.production.CheckInputs(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("1")})
	if err != nil {
		t.Fatalf("CheckInputs failed: %v", err)
	}
	if !check.Feasible || !check.MaxOutput.Equal(dec("3.333333")) {
		t.Errorf("unexpected check %+v", check)
	}
	if _, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: check.MaxOutput}); err != nil {
		t.Errorf("starting at MaxOutput failed: %v", err)
	}
}

func TestProduction_CompleteRejectsQuantitiesBeyondStoredScale(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "MAIN", "30")
	rec := registerRecipe(t, f, false)

	b, err := f.production.StartBatch(f.ctx, core.StartBatchRequest{RecipeID: rec.ID, OutputQuantity: dec("10")})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if _, err := f.production.AdvanceToInProgress(f.ctx, b.ID, ""); err != nil {
		t.Fatalf("AdvanceToInProgress failed: %v", err)
	}
	if _, err := f.production.CompleteBatch(f.ctx, b.ID, dec("9.1234567"), nil, ""); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected a 7-place output to be rejected, got %v", err)
	}
	waste := []core.WasteEntry{{ItemID: "B", Quantity: dec("0.0000001"), Reason: "DEFECT"}}
	if _, err := f.production.CompleteBatch(f.ctx, b.ID, dec("9"), waste, ""); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected 7-place waste to be rejected, got %v", err)
	}
	got, _ := f.production.GetBatch(f.ctx, b.ID)
	if got.Status != core.BatchInProgress {
		t.Errorf("rejected completions must leave the batch in progress, got %s", got.Status)
	}
}
