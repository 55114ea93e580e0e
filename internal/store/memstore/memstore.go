// Package memstore is an in-process core.Store. Each (item, location) key has its own
// mutex from a lock table; a short-lived RWMutex guards the maps while a commit is
// copied in, so updates on unrelated keys run in parallel.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/locktable"
)

type Store struct {
	keys *locktable.Table

	mu           sync.RWMutex
	seq          atomic.Int64
	balances     map[core.Key]core.Balance
	log          map[core.Key][]core.Movement
	reservations map[string]core.Reservation
	active       map[core.Key]map[string]struct{}
	byOwner      map[string][]string
	batches      map[string]core.ProductionBatch
	shipments    map[string]core.Shipment

	items          map[string]core.Item
	locations      map[string]core.Location
	defaultLoc     string
	recipes        map[string]core.Recipe
	recipeOrder    []string
	activeByOutput map[string]string
	variants       map[string]core.PackingVariant
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		keys:           locktable.New(),
		balances:       make(map[core.Key]core.Balance),
		log:            make(map[core.Key][]core.Movement),
		reservations:   make(map[string]core.Reservation),
		active:         make(map[core.Key]map[string]struct{}),
		byOwner:        make(map[string][]string),
		batches:        make(map[string]core.ProductionBatch),
		shipments:      make(map[string]core.Shipment),
		items:          make(map[string]core.Item),
		locations:      make(map[string]core.Location),
		recipes:        make(map[string]core.Recipe),
		activeByOutput: make(map[string]string),
		variants:       make(map[string]core.PackingVariant),
	}
}

// ── Ledger ────────────────────────────────────────────────────────────────────

func (s *Store) Update(ctx context.Context, keys []core.Key, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	names := make([]string, len(keys))
	locked := make(map[core.Key]bool, len(keys))
	for i, k := range keys {
		names[i] = k.String()
		locked[k] = true
	}
	unlock := s.keys.Lock(names...)
	defer unlock()

	tx := &tx{
		s:            s,
		locked:       locked,
		balances:     make(map[core.Key]decimal.Decimal),
		reservations: make(map[string]core.Reservation),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies tx, or nothing when a staged batch or shipment has moved on since it was read.
func (s *Store) commit(tx *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sb := range tx.batches {
		if err := s.checkBatch(sb.b.ID, sb.from); err != nil {
			return err
		}
	}
	for _, ss := range tx.shipments {
		if err := s.checkShipment(ss.s.ID, ss.from); err != nil {
			return err
		}
	}

	for _, m := range tx.movements {
		s.log[m.Key] = append(s.log[m.Key], m)
		b := s.balances[m.Key]
		b.Key = m.Key
		b.Quantity = tx.balances[m.Key]
		b.UpdatedAt = m.CreatedAt
		s.balances[m.Key] = b
	}
	for _, id := range tx.reservationOrder {
		r := tx.reservations[id]
		if _, exists := s.reservations[id]; !exists {
			s.byOwner[r.Owner] = append(s.byOwner[r.Owner], id)
		}
		s.reservations[id] = r
		if r.Status == core.ReservationActive {
			if s.active[r.Key] == nil {
				s.active[r.Key] = make(map[string]struct{})
			}
			s.active[r.Key][id] = struct{}{}
		} else if set := s.active[r.Key]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(s.active, r.Key)
			}
		}
	}
	for _, sb := range tx.batches {
		s.batches[sb.b.ID] = sb.b
	}
	for _, ss := range tx.shipments {
		s.shipments[ss.s.ID] = ss.s
	}
	return nil
}

// checkBatch requires s.mu.
func (s *Store) checkBatch(id string, from core.BatchStatus) error {
	cur, ok := s.batches[id]
	switch {
	case from == "" && ok:
		return fmt.Errorf("batch %s already exists: %w", id, core.ErrConflict)
	case from != "" && !ok:
		return fmt.Errorf("batch %s: %w", id, core.ErrNotFound)
	case from != "" && cur.Status != from:
		return fmt.Errorf("%w: batch %s is %s, expected %s", core.ErrInvalidBatchState, id, cur.Status, from)
	}
	return nil
}

// checkShipment requires s.mu.
func (s *Store) checkShipment(id string, from core.ShipmentStatus) error {
	cur, ok := s.shipments[id]
	switch {
	case from == "" && ok:
		return fmt.Errorf("shipment %s already exists: %w", id, core.ErrConflict)
	case from != "" && !ok:
		return fmt.Errorf("shipment %s: %w", id, core.ErrNotFound)
	case from != "" && cur.Status != from:
		return fmt.Errorf("%w: shipment %s is %s, expected %s", core.ErrInvalidShipmentState, id, cur.Status, from)
	}
	return nil
}

func (s *Store) Balance(_ context.Context, key core.Key) (core.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[key]
	if !ok {
		return core.Balance{Key: key, Quantity: decimal.Zero}, nil
	}
	return b, nil
}

func (s *Store) StockLevel(_ context.Context, key core.Key, now time.Time) (core.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	onHand := s.balances[key].Quantity
	reserved := decimal.Zero
	for id := range s.active[key] {
		if r := s.reservations[id]; r.Holds(now) {
			reserved = reserved.Add(r.Quantity)
		}
	}
	return core.StockLevel{
		Key:       key,
		OnHand:    onHand,
		Reserved:  reserved,
		Available: onHand.Sub(reserved),
	}, nil
}

func (s *Store) Movements(_ context.Context, q core.MovementQuery) ([]core.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.log[q.Key]
	// The per-key log is in Seq order, so the cursor is a binary search.
	start := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > q.AfterSeq })
	var out []core.Movement
	for _, m := range entries[start:] {
		if !q.From.IsZero() && m.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !m.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, m)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Reservation(_ context.Context, id string) (*core.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) ReservationsByOwner(_ context.Context, owner string) ([]core.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[owner]
	out := make([]core.Reservation, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.reservations[id])
	}
	return out, nil
}

func (s *Store) LapsedReservations(_ context.Context, now time.Time, limit int) ([]core.Reservation, error) {
	s.mu.RLock()
	var out []core.Reservation
	for _, set := range s.active {
		for id := range set {
			if r := s.reservations[id]; r.DueAt(now) {
				out = append(out, r)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Batch(_ context.Context, id string) (*core.ProductionBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, core.ErrNotFound)
	}
	b = cloneBatch(b)
	return &b, nil
}

func (s *Store) Shipment(_ context.Context, id string) (*core.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shp, ok := s.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, core.ErrNotFound)
	}
	shp = cloneShipment(shp)
	return &shp, nil
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func (s *Store) CreateItem(_ context.Context, item core.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("item %s already exists: %w", item.ID, core.ErrConflict)
	}
	s.items[item.ID] = item
	return nil
}

func (s *Store) Item(_ context.Context, id string) (*core.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, core.ErrNotFound)
	}
	return &item, nil
}

func (s *Store) Items(_ context.Context) ([]core.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b core.Item) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) CreateLocation(_ context.Context, loc core.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[loc.ID]; ok {
		return fmt.Errorf("location %s already exists: %w", loc.ID, core.ErrConflict)
	}
	if loc.IsDefault && s.defaultLoc != "" {
		return fmt.Errorf("location %s is already the default: %w", s.defaultLoc, core.ErrConflict)
	}
	s.locations[loc.ID] = loc
	if loc.IsDefault {
		s.defaultLoc = loc.ID
	}
	return nil
}

func (s *Store) Location(_ context.Context, id string) (*core.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok {
		return nil, fmt.Errorf("location %s: %w", id, core.ErrNotFound)
	}
	return &loc, nil
}

func (s *Store) Locations(_ context.Context) ([]core.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	slices.SortFunc(out, func(a, b core.Location) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) DefaultLocation(_ context.Context) (*core.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultLoc == "" {
		return nil, fmt.Errorf("no default location: %w", core.ErrNotFound)
	}
	loc := s.locations[s.defaultLoc]
	return &loc, nil
}

func (s *Store) PutRecipe(_ context.Context, r core.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipes[r.ID]; ok {
		return fmt.Errorf("recipe %s already exists: %w", r.ID, core.ErrConflict)
	}
	if r.Active {
		if prev, ok := s.activeByOutput[r.OutputItemID]; ok {
			old := s.recipes[prev]
			old.Active = false
			s.recipes[prev] = old
		}
		s.activeByOutput[r.OutputItemID] = r.ID
	}
	r.Inputs = slices.Clone(r.Inputs)
	s.recipes[r.ID] = r
	s.recipeOrder = append(s.recipeOrder, r.ID)
	return nil
}

func (s *Store) DeactivateRecipe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipes[id]
	if !ok {
		return fmt.Errorf("recipe %s: %w", id, core.ErrNotFound)
	}
	if r.Active {
		r.Active = false
		s.recipes[id] = r
		delete(s.activeByOutput, r.OutputItemID)
	}
	return nil
}

func (s *Store) Recipe(_ context.Context, id string) (*core.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[id]
	if !ok {
		return nil, fmt.Errorf("recipe %s: %w", id, core.ErrNotFound)
	}
	r.Inputs = slices.Clone(r.Inputs)
	return &r, nil
}

func (s *Store) ActiveRecipe(_ context.Context, outputItemID string) (*core.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeByOutput[outputItemID]
	if !ok {
		return nil, fmt.Errorf("active recipe for %s: %w", outputItemID, core.ErrNotFound)
	}
	r := s.recipes[id]
	r.Inputs = slices.Clone(r.Inputs)
	return &r, nil
}

func (s *Store) Recipes(_ context.Context) ([]core.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Recipe, 0, len(s.recipeOrder))
	for _, id := range s.recipeOrder {
		r := s.recipes[id]
		r.Inputs = slices.Clone(r.Inputs)
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CreatePackingVariant(_ context.Context, v core.PackingVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[v.ID]; ok {
		return fmt.Errorf("packing variant %s already exists: %w", v.ID, core.ErrConflict)
	}
	for _, other := range s.variants {
		if other.SourceItemID == v.SourceItemID && other.TargetItemID == v.TargetItemID {
			return fmt.Errorf("%s already packs %s into %s: %w", other.ID, v.SourceItemID, v.TargetItemID, core.ErrConflict)
		}
	}
	s.variants[v.ID] = v
	return nil
}

func (s *Store) PackingVariant(_ context.Context, id string) (*core.PackingVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, fmt.Errorf("packing variant %s: %w", id, core.ErrNotFound)
	}
	return &v, nil
}

func (s *Store) PackingVariants(_ context.Context, sourceItemID string) ([]core.PackingVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PackingVariant, 0, len(s.variants))
	for _, v := range s.variants {
		if sourceItemID == "" || v.SourceItemID == sourceItemID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b core.PackingVariant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func cloneBatch(b core.ProductionBatch) core.ProductionBatch {
	b.Inputs = slices.Clone(b.Inputs)
	b.ConsumedMovements = slices.Clone(b.ConsumedMovements)
	b.Waste = slices.Clone(b.Waste)
	return b
}

func cloneShipment(s core.Shipment) core.Shipment {
	s.Lines = slices.Clone(s.Lines)
	return s
}
