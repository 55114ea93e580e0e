package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/app"
	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/seed"
	"warehouse-ledger/internal/store/memstore"
)

func newService(t *testing.T) app.ApplicationService {
	t.Helper()
	engine := app.New(memstore.New(), nil, app.Options{
		ShipmentReservationTTL: time.Hour,
		BatchReservationTTL:    time.Hour,
	})
	svc := app.NewAppService(engine)
	ctx := context.Background()

	f, err := seed.Parse([]byte(`
locations:
  - id: MAIN
    name: Main warehouse
    default: true
items:
  - {id: FLOUR, name: Flour, unit: kg, kind: RAW}
  - {id: BREAD, name: Bread, unit: pcs, kind: FINISHED}
recipes:
  - id: bread-v1
    name: Bread
    output: BREAD
    output_quantity: "1"
    inputs:
      - {item: FLOUR, quantity: "0.5"}
stock:
  - {item: FLOUR, location: MAIN, quantity: "20"}
`))
	if err != nil {
		t.Fatalf("seed parse failed: %v", err)
	}
	if _, err := svc.ApplySeed(ctx, f); err != nil {
		t.Fatalf("ApplySeed failed: %v", err)
	}
	return svc
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAppService_BatchByOutputItem(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	b, err := svc.StartBatch(ctx, app.StartBatchRequest{OutputItemID: "BREAD", OutputQuantity: d("10"), Actor: "baker"})
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if b.RecipeID != "bread-v1" || b.Status != core.BatchInputsReserved {
		t.Fatalf("unexpected batch %+v", b)
	}
	if _, err := svc.AdvanceBatch(ctx, b.ID, "baker"); err != nil {
		t.Fatalf("AdvanceBatch failed: %v", err)
	}
	if _, err := svc.CompleteBatch(ctx, app.CompleteBatchRequest{BatchID: b.ID, ActualQuantity: d("10")}); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	lvl, err := svc.GetStockLevel(ctx, "FLOUR", "")
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if !lvl.OnHand.Equal(d("15")) {
		t.Errorf("expected 15 flour, got %s", lvl.OnHand)
	}

	if _, err := svc.StartBatch(ctx, app.StartBatchRequest{OutputQuantity: d("1")}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument without recipe or output item, got %v", err)
	}
}

func TestAppService_ListMovementsLimit(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.ReceiveStock(ctx, app.ReceiveStockRequest{ItemID: "FLOUR", Quantity: d("1")}); err != nil {
			t.Fatalf("ReceiveStock failed: %v", err)
		}
	}

	res, err := svc.ListMovements(ctx, app.ListMovementsRequest{ItemID: "FLOUR", Limit: 2})
	if err != nil {
		t.Fatalf("ListMovements failed: %v", err)
	}
	if res.Key.LocationID != "MAIN" || len(res.Movements) != 2 {
		t.Errorf("expected 2 movements at MAIN, got %d at %s", len(res.Movements), res.Key.LocationID)
	}
	all, _ := svc.ListMovements(ctx, app.ListMovementsRequest{ItemID: "FLOUR"})
	if len(all.Movements) != 4 {
		t.Errorf("expected seed receipt plus 3, got %d", len(all.Movements))
	}
}

func TestAppService_ReserveParsesTTL(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, app.ReserveRequest{ItemID: "FLOUR", Quantity: d("1"), Owner: "o", TTL: "soon"}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a bad ttl, got %v", err)
	}
	r, err := svc.Reserve(ctx, app.ReserveRequest{ItemID: "FLOUR", Quantity: d("5"), Owner: "o", TTL: "30m"})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if got := r.ExpiresAt.Sub(r.CreatedAt); got != 30*time.Minute {
		t.Errorf("expected a 30m hold, got %s", got)
	}
	lvl, _ := svc.GetStockLevel(ctx, "FLOUR", "MAIN")
	if !lvl.Available.Equal(d("15")) {
		t.Errorf("expected 15 available, got %s", lvl.Available)
	}
}

func TestAppService_SeedIsIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	f, err := seed.Parse([]byte(`
locations:
  - {id: MAIN, name: Main warehouse, default: true}
stock:
  - {item: FLOUR, location: MAIN, quantity: "20"}
`))
	if err != nil {
		t.Fatalf("seed parse failed: %v", err)
	}
	res, err := svc.ApplySeed(ctx, f)
	if err != nil {
		t.Fatalf("second ApplySeed failed: %v", err)
	}
	if res.Locations != 0 || res.Receipts != 0 {
		t.Errorf("expected nothing new, got %+v", res)
	}
}
