package cli_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"warehouse-ledger/internal/adapters/cli"
	"warehouse-ledger/internal/app"
	"warehouse-ledger/internal/store/memstore"
)

func newService() app.ApplicationService {
	return app.NewAppService(app.New(memstore.New(), nil, app.Options{ShipmentReservationTTL: time.Hour}))
}

func TestRun_SeedThenBalance(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	var out bytes.Buffer

	if err := cli.Run(ctx, svc, []string{"seed", "../../seed/testdata/catalog.yaml"}, &out); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if !strings.Contains(out.String(), "Seeded 2 locations") {
		t.Errorf("unexpected seed output %q", out.String())
	}

	out.Reset()
	if err := cli.Run(ctx, svc, []string{"balance", "FLOUR"}, &out); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !strings.Contains(out.String(), "FLOUR@MAIN") {
		t.Errorf("expected the default location in %q", out.String())
	}

	out.Reset()
	if err := cli.Run(ctx, svc, []string{"movements", "FLOUR", "MAIN", "5"}, &out); err != nil {
		t.Fatalf("movements failed: %v", err)
	}
	if !strings.Contains(out.String(), "RECEIPT") {
		t.Errorf("expected the opening receipt in %q", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	var out bytes.Buffer

	if err := cli.Run(ctx, svc, nil, &out); err == nil {
		t.Error("expected an error without a command")
	}
	if err := cli.Run(ctx, svc, []string{"frobnicate"}, &out); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
	if err := cli.Run(ctx, svc, []string{"movements", "FLOUR", "MAIN", "-3"}, &out); err == nil {
		t.Error("expected a negative limit to be rejected")
	}
	if err := cli.Run(ctx, svc, []string{"sweep"}, &out); err != nil {
		t.Errorf("sweep on an empty store failed: %v", err)
	}
}

func TestRun_PackMaxAndCheck(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	var out bytes.Buffer

	if err := cli.Run(ctx, svc, []string{"seed", "../../seed/testdata/catalog.yaml"}, &out); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out.Reset()
	if err := cli.Run(ctx, svc, []string{"pack-max", "DOUGH-5KG"}, &out); err != nil {
		t.Fatalf("pack-max failed: %v", err)
	}
	if !strings.Contains(out.String(), "DOUGH@MAIN: 0 available, 0 x 5") {
		t.Errorf("unexpected pack-max output %q", out.String())
	}

	out.Reset()
	if err := cli.Run(ctx, svc, []string{"check", "DOUGH", "10"}, &out); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out.String(), "Feasible. At most 166.666666 can be produced now.") {
		t.Errorf("unexpected check output %q", out.String())
	}

	if err := cli.Run(ctx, svc, []string{"check", "DOUGH", "ten"}, &out); err == nil {
		t.Error("expected a non-numeric quantity to be rejected")
	}
}
