package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/store/memstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Notify(_ context.Context, e core.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(t core.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx          context.Context
	store        *memstore.Store
	clock        *testClock
	events       *eventLog
	catalog      core.CatalogService
	ledger       *core.Ledger
	reservations core.ReservationService
	recipes      core.RecipeRegistry
	production   core.ProductionService
	shipments    core.ShipmentService
}

// newFixture builds the engine on an in-memory store with locations MAIN (default) and SIDE,
// raw items A and C, and finished item B.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memstore.New(),
		clock:  newTestClock(),
		events: &eventLog{},
	}
	clock := core.Clock(f.clock.Now)
	f.catalog = core.NewCatalogService(f.store, clock)
	f.ledger = core.NewLedger(f.store, f.events, clock)
	f.reservations = core.NewReservationService(f.store, f.events, clock)
	f.recipes = core.NewRecipeRegistry(f.store, clock)
	f.production = core.NewProductionService(f.store, f.recipes, f.reservations, f.events, clock, 24*time.Hour)
	f.shipments = core.NewShipmentService(f.store, f.reservations, f.events, clock, 7*24*time.Hour)

	mustDo(t, func() error { _, err := f.catalog.CreateLocation(f.ctx, "MAIN", "Main warehouse", true); return err })
	mustDo(t, func() error { _, err := f.catalog.CreateLocation(f.ctx, "SIDE", "Side store", false); return err })
	mustDo(t, func() error { _, err := f.catalog.CreateItem(f.ctx, "A", "Item A", "kg", core.ItemRaw); return err })
	mustDo(t, func() error { _, err := f.catalog.CreateItem(f.ctx, "B", "Item B", "pcs", core.ItemFinished); return err })
	mustDo(t, func() error { _, err := f.catalog.CreateItem(f.ctx, "C", "Item C", "kg", core.ItemRaw); return err })
	return f
}

func mustDo(t *testing.T, fn func() error) {
	t.Helper()
	if err := fn(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f *fixture) receive(t *testing.T, item, loc string, qty string) {
	t.Helper()
	if _, err := f.ledger.Receive(f.ctx, item, loc, dec(qty), "test", "tester"); err != nil {
		t.Fatalf("Receive %s %s@%s failed: %v", qty, item, loc, err)
	}
}

func (f *fixture) reserve(t *testing.T, item, loc, qty, owner string, ttl time.Duration) *core.Reservation {
	t.Helper()
	r, err := f.reservations.Reserve(f.ctx, core.ReserveRequest{
		ItemID: item, LocationID: loc, Quantity: dec(qty), Owner: owner, TTL: ttl,
	})
	if err != nil {
		t.Fatalf("Reserve %s %s@%s failed: %v", qty, item, loc, err)
	}
	return r
}

func (f *fixture) available(t *testing.T, item, loc string) decimal.Decimal {
	t.Helper()
	a, err := f.reservations.Available(f.ctx, item, loc)
	if err != nil {
		t.Fatalf("Available %s@%s failed: %v", item, loc, err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, item, loc string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(f.ctx, item, loc)
	if err != nil {
		t.Fatalf("GetBalance %s@%s failed: %v", item, loc, err)
	}
	return b.Quantity
}

// assertLedgerConsistent checks that the balance equals the sum of the key's movements
// and that neither balance nor availability is negative.
func (f *fixture) assertLedgerConsistent(t *testing.T, item, loc string) {
	t.Helper()
	sum := decimal.Zero
	for m, err := range f.ledger.ListMovements(f.ctx, core.MovementQuery{Key: core.Key{ItemID: item, LocationID: loc}}) {
		if err != nil {
			t.Fatalf("ListMovements failed: %v", err)
		}
		sum = sum.Add(m.Delta)
	}
	bal := f.balance(t, item, loc)
	if !bal.Equal(sum) {
		t.Errorf("%s@%s: balance %s != sum of movements %s", item, loc, bal, sum)
	}
	if bal.IsNegative() {
		t.Errorf("%s@%s: negative balance %s", item, loc, bal)
	}
	if avail := f.available(t, item, loc); avail.IsNegative() {
		t.Errorf("%s@%s: negative availability %s", item, loc, avail)
	}
}
