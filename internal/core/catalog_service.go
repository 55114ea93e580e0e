package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CatalogService manages items and locations. Neither has an update path.
type CatalogService interface {
	CreateItem(ctx context.Context, id, name, unit string, kind ItemKind) (*Item, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)

	// CreateLocation fails with ErrConflict when isDefault is set and a default already exists.
	CreateLocation(ctx context.Context, id, name string, isDefault bool) (*Location, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	DefaultLocation(ctx context.Context) (*Location, error)

	// CreatePackingVariant registers how a SEMI item is packed into FINISHED units.
	CreatePackingVariant(ctx context.Context, req PackingVariantRequest) (*PackingVariant, error)
	GetPackingVariant(ctx context.Context, id string) (*PackingVariant, error)
	ListPackingVariants(ctx context.Context, sourceItemID string) ([]PackingVariant, error)
}

type catalogService struct {
	store CatalogStore
	clock Clock
}

func NewCatalogService(store CatalogStore, clock Clock) CatalogService {
	return &catalogService{store: store, clock: clock}
}

func (s *catalogService) CreateItem(ctx context.Context, id, name, unit string, kind ItemKind) (*Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidArg("item id is required")
	}
	if strings.ContainsAny(id, "@ ") {
		return nil, invalidArg("item id %q must not contain spaces or '@'", id)
	}
	switch kind {
	case ItemRaw, ItemSemi, ItemFinished:
	case "":
		kind = ItemRaw
	default:
		return nil, invalidArg("unknown item kind %q", kind)
	}
	if unit == "" {
		return nil, invalidArg("unit of measure is required for item %s", id)
	}
	if name == "" {
		name = id
	}

	item := Item{ID: id, Name: name, Unit: unit, Kind: kind, CreatedAt: s.clock.now()}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item %s: %w", id, err)
	}
	return &item, nil
}

func (s *catalogService) GetItem(ctx context.Context, id string) (*Item, error) {
	item, err := s.store.Item(ctx, id)
	if err != nil {
		return nil, lookupErr("item", id, err)
	}
	return item, nil
}

func (s *catalogService) ListItems(ctx context.Context) ([]Item, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (s *catalogService) CreateLocation(ctx context.Context, id, name string, isDefault bool) (*Location, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidArg("location id is required")
	}
	if strings.ContainsAny(id, "@ ") {
		return nil, invalidArg("location id %q must not contain spaces or '@'", id)
	}
	if name == "" {
		name = id
	}

	loc := Location{ID: id, Name: name, IsDefault: isDefault, CreatedAt: s.clock.now()}
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("failed to create location %s: %w", id, err)
	}
	return &loc, nil
}

func (s *catalogService) GetLocation(ctx context.Context, id string) (*Location, error) {
	loc, err := s.store.Location(ctx, id)
	if err != nil {
		return nil, lookupErr("location", id, err)
	}
	return loc, nil
}

func (s *catalogService) ListLocations(ctx context.Context) ([]Location, error) {
	locs, err := s.store.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locs, nil
}

func (s *catalogService) DefaultLocation(ctx context.Context) (*Location, error) {
	loc, err := s.store.DefaultLocation(ctx)
	if err != nil {
		return nil, lookupErr("default location", "", err)
	}
	return loc, nil
}

func (s *catalogService) CreatePackingVariant(ctx context.Context, req PackingVariantRequest) (*PackingVariant, error) {
	if req.SourceItemID == "" || req.TargetItemID == "" {
		return nil, invalidArg("packing variant needs a source and a target item")
	}
	if !req.QuantityPerUnit.IsPositive() {
		return nil, invalidArg("packing quantity per unit must be positive, got %s", req.QuantityPerUnit)
	}
	if err := checkPlaces("packing quantity per unit", req.QuantityPerUnit); err != nil {
		return nil, err
	}
	src, err := s.GetItem(ctx, req.SourceItemID)
	if err != nil {
		return nil, err
	}
	if src.Kind != ItemSemi {
		return nil, invalidArg("packing source %s is %s, expected %s", src.ID, src.Kind, ItemSemi)
	}
	dst, err := s.GetItem(ctx, req.TargetItemID)
	if err != nil {
		return nil, err
	}
	if dst.Kind != ItemFinished {
		return nil, invalidArg("packing target %s is %s, expected %s", dst.ID, dst.Kind, ItemFinished)
	}

	v := PackingVariant{
		ID:              strings.TrimSpace(req.ID),
		SourceItemID:    src.ID,
		TargetItemID:    dst.ID,
		Container:       req.Container,
		QuantityPerUnit: req.QuantityPerUnit,
		CreatedAt:       s.clock.now(),
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := s.store.CreatePackingVariant(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create packing variant %s -> %s: %w", v.SourceItemID, v.TargetItemID, err)
	}
	return &v, nil
}

func (s *catalogService) GetPackingVariant(ctx context.Context, id string) (*PackingVariant, error) {
	v, err := s.store.PackingVariant(ctx, id)
	if err != nil {
		return nil, lookupErr("packing variant", id, err)
	}
	return v, nil
}

func (s *catalogService) ListPackingVariants(ctx context.Context, sourceItemID string) ([]PackingVariant, error) {
	vs, err := s.store.PackingVariants(ctx, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list packing variants: %w", err)
	}
	return vs, nil
}
