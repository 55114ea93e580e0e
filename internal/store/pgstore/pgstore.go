// Package pgstore is the PostgreSQL core.Store. Balance rows are the per-key locks:
// Update takes them with SELECT ... FOR UPDATE in canonical key order.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/core"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ── Ledger ────────────────────────────────────────────────────────────────────

func (s *Store) Update(ctx context.Context, keys []core.Key, fn func(tx core.Tx) error) error {
	ordered := canonicalKeys(keys)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	locked := make(map[core.Key]bool, len(ordered))
	for _, k := range ordered {
		if _, err := tx.Exec(ctx, `
			INSERT INTO balances (item_id, location_id, quantity, updated_at)
			VALUES ($1, $2, 0, NOW())
			ON CONFLICT (item_id, location_id) DO NOTHING
		`, k.ItemID, k.LocationID); err != nil {
			return fmt.Errorf("failed to open balance %s: %w", k, err)
		}
		var discard decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT quantity FROM balances
			WHERE item_id = $1 AND location_id = $2
			FOR UPDATE
		`, k.ItemID, k.LocationID).Scan(&discard); err != nil {
			return fmt.Errorf("failed to lock balance %s: %w", k, err)
		}
		locked[k] = true
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, locked: locked}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, key core.Key) (core.Balance, error) {
	b := core.Balance{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT quantity, updated_at FROM balances
		WHERE item_id = $1 AND location_id = $2
	`, key.ItemID, key.LocationID).Scan(&b.Quantity, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Balance{Key: key, Quantity: decimal.Zero}, nil
	}
	if err != nil {
		return core.Balance{}, fmt.Errorf("failed to query balance: %w", err)
	}
	return b, nil
}

func (s *Store) StockLevel(ctx context.Context, key core.Key, now time.Time) (core.StockLevel, error) {
	lvl := core.StockLevel{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT quantity FROM balances WHERE item_id = $1 AND location_id = $2), 0),
			COALESCE((SELECT SUM(quantity) FROM reservations
			          WHERE item_id = $1 AND location_id = $2 AND status = 'ACTIVE' AND expires_at >= $3), 0)
	`, key.ItemID, key.LocationID, now).Scan(&lvl.OnHand, &lvl.Reserved)
	if err != nil {
		return core.StockLevel{}, fmt.Errorf("failed to query stock level: %w", err)
	}
	lvl.Available = lvl.OnHand.Sub(lvl.Reserved)
	return lvl, nil
}

func (s *Store) Movements(ctx context.Context, q core.MovementQuery) ([]core.Movement, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM movements
		WHERE item_id = $1 AND location_id = $2 AND seq > $3
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY seq
		LIMIT $6
	`, q.Key.ItemID, q.Key.LocationID, q.AfterSeq, nullTime(q.From), nullTime(q.To), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []core.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Reservation(ctx context.Context, id string) (*core.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ReservationsByOwner(ctx context.Context, owner string) ([]core.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE owner = $1
		ORDER BY created_at, id
	`, owner)
}

func (s *Store) LapsedReservations(ctx context.Context, now time.Time, limit int) ([]core.Reservation, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return s.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, lim)
}

func (s *Store) queryReservations(ctx context.Context, sql string, args ...any) ([]core.Reservation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Batch(ctx context.Context, id string) (*core.ProductionBatch, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM production_batches WHERE id::text = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	var b core.ProductionBatch
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) Shipment(ctx context.Context, id string) (*core.Shipment, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM shipments WHERE id::text = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shipment %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shipment: %w", err)
	}
	var shp core.Shipment
	if err := json.Unmarshal(body, &shp); err != nil {
		return nil, fmt.Errorf("failed to decode shipment %s: %w", id, err)
	}
	return &shp, nil
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func (s *Store) CreateItem(ctx context.Context, item core.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, name, unit, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.Unit, string(item.Kind), item.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("item %s already exists: %w", item.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (s *Store) Item(ctx context.Context, id string) (*core.Item, error) {
	var item core.Item
	var kind string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, unit, kind, created_at FROM items WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Unit, &kind, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item: %w", err)
	}
	item.Kind = core.ItemKind(kind)
	return &item, nil
}

func (s *Store) Items(ctx context.Context) ([]core.Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, unit, kind, created_at FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []core.Item
	for rows.Next() {
		var item core.Item
		var kind string
		if err := rows.Scan(&item.ID, &item.Name, &item.Unit, &kind, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Kind = core.ItemKind(kind)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreateLocation(ctx context.Context, loc core.Location) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO locations (id, name, is_default, created_at)
		VALUES ($1, $2, $3, $4)
	`, loc.ID, loc.Name, loc.IsDefault, loc.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("location %s conflicts with an existing location or default: %w", loc.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (s *Store) Location(ctx context.Context, id string) (*core.Location, error) {
	return s.queryLocation(ctx, `SELECT id, name, is_default, created_at FROM locations WHERE id = $1`, id)
}

func (s *Store) DefaultLocation(ctx context.Context) (*core.Location, error) {
	loc, err := s.queryLocation(ctx, `SELECT id, name, is_default, created_at FROM locations WHERE is_default`)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("no default location: %w", core.ErrNotFound)
	}
	return loc, err
}

func (s *Store) queryLocation(ctx context.Context, sql string, args ...any) (*core.Location, error) {
	var loc core.Location
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&loc.ID, &loc.Name, &loc.IsDefault, &loc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("location %v: %w", args, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch location: %w", err)
	}
	return &loc, nil
}

func (s *Store) Locations(ctx context.Context) ([]core.Location, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, is_default, created_at FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locs []core.Location
	for rows.Next() {
		var loc core.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.IsDefault, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

func (s *Store) PutRecipe(ctx context.Context, r core.Recipe) error {
	inputs, err := json.Marshal(r.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode recipe inputs: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if r.Active {
		if _, err := tx.Exec(ctx, `
			UPDATE recipes SET active = false WHERE output_item_id = $1 AND active
		`, r.OutputItemID); err != nil {
			return fmt.Errorf("failed to retire active recipe: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO recipes (id, name, output_item_id, output_quantity, inputs, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.Name, r.OutputItemID, r.OutputQuantity, inputs, r.Active, r.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("recipe %s already exists: %w", r.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) DeactivateRecipe(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE recipes SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipe %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) Recipe(ctx context.Context, id string) (*core.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recipe %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ActiveRecipe(ctx context.Context, outputItemID string) (*core.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, `
		SELECT `+recipeColumns+` FROM recipes WHERE output_item_id = $1 AND active
	`, outputItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active recipe for %s: %w", outputItemID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Recipes(ctx context.Context) ([]core.Recipe, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	var out []core.Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Row helpers ───────────────────────────────────────────────────────────────

func (s *Store) CreatePackingVariant(ctx context.Context, v core.PackingVariant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packing_variants (id, source_item_id, target_item_id, container, quantity_per_unit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.SourceItemID, v.TargetItemID, v.Container, v.QuantityPerUnit, v.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("packing variant %s conflicts with an existing id or %s->%s pair: %w",
			v.ID, v.SourceItemID, v.TargetItemID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert packing variant: %w", err)
	}
	return nil
}

func (s *Store) PackingVariant(ctx context.Context, id string) (*core.PackingVariant, error) {
	v, err := scanVariant(s.pool.QueryRow(ctx, `SELECT `+variantColumns+` FROM packing_variants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("packing variant %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) PackingVariants(ctx context.Context, sourceItemID string) ([]core.PackingVariant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+variantColumns+` FROM packing_variants
		WHERE $1 = '' OR source_item_id = $1
		ORDER BY id
	`, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query packing variants: %w", err)
	}
	defer rows.Close()

	var out []core.PackingVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const movementColumns = `seq, id::text, item_id, location_id, delta, kind, reference, actor, note, created_at`

const reservationColumns = `id::text, item_id, location_id, quantity, owner, consume_kind, status,
	created_at, expires_at, closed_at, COALESCE(movement_id::text, '')`

const recipeColumns = `id, name, output_item_id, output_quantity, inputs, active, created_at`

const variantColumns = `id, source_item_id, target_item_id, container, quantity_per_unit, created_at`

func scanVariant(row pgx.Row) (core.PackingVariant, error) {
	var v core.PackingVariant
	err := row.Scan(&v.ID, &v.SourceItemID, &v.TargetItemID, &v.Container, &v.QuantityPerUnit, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.PackingVariant{}, err
		}
		return core.PackingVariant{}, fmt.Errorf("failed to scan packing variant: %w", err)
	}
	return v, nil
}

func scanMovement(row pgx.Row) (core.Movement, error) {
	var m core.Movement
	var kind string
	err := row.Scan(&m.Seq, &m.ID, &m.Key.ItemID, &m.Key.LocationID, &m.Delta, &kind,
		&m.Reference, &m.Actor, &m.Note, &m.CreatedAt)
	if err != nil {
		return core.Movement{}, fmt.Errorf("failed to scan movement: %w", err)
	}
	m.Kind = core.MovementKind(kind)
	return m, nil
}

func scanReservation(row pgx.Row) (core.Reservation, error) {
	var r core.Reservation
	var kind, status string
	err := row.Scan(&r.ID, &r.Key.ItemID, &r.Key.LocationID, &r.Quantity, &r.Owner, &kind, &status,
		&r.CreatedAt, &r.ExpiresAt, &r.ClosedAt, &r.MovementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Reservation{}, err
		}
		return core.Reservation{}, fmt.Errorf("failed to scan reservation: %w", err)
	}
	r.ConsumeKind = core.MovementKind(kind)
	r.Status = core.ReservationStatus(status)
	return r, nil
}

func scanRecipe(row pgx.Row) (core.Recipe, error) {
	var r core.Recipe
	var inputs []byte
	err := row.Scan(&r.ID, &r.Name, &r.OutputItemID, &r.OutputQuantity, &inputs, &r.Active, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Recipe{}, err
		}
		return core.Recipe{}, fmt.Errorf("failed to scan recipe: %w", err)
	}
	if err := json.Unmarshal(inputs, &r.Inputs); err != nil {
		return core.Recipe{}, fmt.Errorf("failed to decode recipe inputs: %w", err)
	}
	return r, nil
}

func canonicalKeys(keys []core.Key) []core.Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b core.Key) int { return strings.Compare(a.String(), b.String()) })
	return slices.Compact(out)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
