package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/seed"
)

// Options configures the engine built by New.
type Options struct {
	ShipmentReservationTTL time.Duration
	BatchReservationTTL    time.Duration
	SweepInterval          time.Duration
	SweepBatchSize         int
	SweepLock              core.SweepLock
	Clock                  core.Clock
	Logger                 logrus.FieldLogger
}

// Engine holds the core services built over one store. Adapters reach the engine
// through ApplicationService; cmd/server also runs Sweeper in the background.
type Engine struct {
	Catalog      core.CatalogService
	Ledger       core.LedgerService
	Reservations core.ReservationService
	Recipes      core.RecipeRegistry
	Production   core.ProductionService
	Shipments    core.ShipmentService
	Sweeper      *core.ExpirySweeper
}

// New wires every core service over store. Events from all services go to events.
func New(store core.Store, events core.Notifier, opts Options) *Engine {
	reservations := core.NewReservationService(store, events, opts.Clock)
	recipes := core.NewRecipeRegistry(store, opts.Clock)
	return &Engine{
		Catalog:      core.NewCatalogService(store, opts.Clock),
		Ledger:       core.NewLedger(store, events, opts.Clock),
		Reservations: reservations,
		Recipes:      recipes,
		Production:   core.NewProductionService(store, recipes, reservations, events, opts.Clock, opts.BatchReservationTTL),
		Shipments:    core.NewShipmentService(store, reservations, events, opts.Clock, opts.ShipmentReservationTTL),
		Sweeper: core.NewExpirySweeper(store, reservations, opts.Clock, core.ExpiryOptions{
			Interval:  opts.SweepInterval,
			BatchSize: opts.SweepBatchSize,
			Lock:      opts.SweepLock,
			Logger:    opts.Logger,
		}),
	}
}

type appService struct {
	engine *Engine
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(engine *Engine) ApplicationService {
	return &appService{engine: engine}
}

func (s *appService) CreateItem(ctx context.Context, req CreateItemRequest) (*core.Item, error) {
	return s.engine.Catalog.CreateItem(ctx, req.ID, req.Name, req.Unit, core.ItemKind(req.Kind))
}

func (s *appService) ListItems(ctx context.Context) (*ItemListResult, error) {
	items, err := s.engine.Catalog.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	return &ItemListResult{Items: items}, nil
}

func (s *appService) CreateLocation(ctx context.Context, req CreateLocationRequest) (*core.Location, error) {
	return s.engine.Catalog.CreateLocation(ctx, req.ID, req.Name, req.IsDefault)
}

func (s *appService) ListLocations(ctx context.Context) (*LocationListResult, error) {
	locs, err := s.engine.Catalog.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	return &LocationListResult{Locations: locs}, nil
}

func (s *appService) GetStockLevel(ctx context.Context, itemID, locationID string) (*core.StockLevel, error) {
	return s.engine.Ledger.StockLevel(ctx, itemID, locationID)
}

// ListMovements collects up to req.Limit movements; zero means the whole window.
func (s *appService) ListMovements(ctx context.Context, req ListMovementsRequest) (*MovementListResult, error) {
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", core.ErrInvalidArgument)
	}
	locationID := req.LocationID
	if locationID == "" {
		def, err := s.engine.Catalog.DefaultLocation(ctx)
		if err != nil {
			return nil, err
		}
		locationID = def.ID
	}
	result := &MovementListResult{
		Key:       core.Key{ItemID: req.ItemID, LocationID: locationID},
		Movements: []core.Movement{},
	}
	q := core.MovementQuery{Key: result.Key, From: req.From, To: req.To, Limit: req.Limit}
	for m, err := range s.engine.Ledger.ListMovements(ctx, q) {
		if err != nil {
			return nil, err
		}
		result.Movements = append(result.Movements, m)
		if req.Limit > 0 && len(result.Movements) == req.Limit {
			break
		}
	}
	return result, nil
}

func (s *appService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*core.Movement, error) {
	return s.engine.Ledger.Receive(ctx, req.ItemID, req.LocationID, req.Quantity, req.Reference, req.Actor)
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.Movement, error) {
	return s.engine.Ledger.Adjust(ctx, req.ItemID, req.LocationID, req.Delta, req.Reason, req.Actor)
}

func (s *appService) CreatePackingVariant(ctx context.Context, req CreatePackingVariantRequest) (*core.PackingVariant, error) {
	return s.engine.Catalog.CreatePackingVariant(ctx, core.PackingVariantRequest{
		ID:              req.ID,
		SourceItemID:    req.SourceItemID,
		TargetItemID:    req.TargetItemID,
		Container:       req.Container,
		QuantityPerUnit: req.QuantityPerUnit,
	})
}

func (s *appService) ListPackingVariants(ctx context.Context, sourceItemID string) (*PackingVariantListResult, error) {
	variants, err := s.engine.Catalog.ListPackingVariants(ctx, sourceItemID)
	if err != nil {
		return nil, err
	}
	if variants == nil {
		variants = []core.PackingVariant{}
	}
	return &PackingVariantListResult{Variants: variants}, nil
}

func (s *appService) PackStock(ctx context.Context, req PackStockRequest) (*core.PackResult, error) {
	return s.engine.Ledger.Pack(ctx, core.PackRequest{
		VariantID:  req.VariantID,
		LocationID: req.LocationID,
		Units:      req.Units,
		Actor:      req.Actor,
		Note:       req.Note,
	})
}

func (s *appService) MaxPackUnits(ctx context.Context, variantID, locationID string) (*core.PackPlan, error) {
	return s.engine.Ledger.MaxPackUnits(ctx, variantID, locationID)
}

func (s *appService) Reserve(ctx context.Context, req ReserveRequest) (*core.Reservation, error) {
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		return nil, err
	}
	return s.engine.Reservations.Reserve(ctx, core.ReserveRequest{
		ItemID:      req.ItemID,
		LocationID:  req.LocationID,
		Quantity:    req.Quantity,
		Owner:       req.Owner,
		TTL:         ttl,
		ConsumeKind: core.MovementKind(req.ConsumeKind),
	})
}

func (s *appService) ConsumeReservation(ctx context.Context, reservationID, actor string) (*core.Movement, error) {
	return s.engine.Reservations.Consume(ctx, reservationID, actor)
}

func (s *appService) ReleaseReservation(ctx context.Context, reservationID string) (*core.Reservation, error) {
	return s.engine.Reservations.Release(ctx, reservationID)
}

func (s *appService) GetReservation(ctx context.Context, reservationID string) (*core.Reservation, error) {
	return s.engine.Reservations.GetReservation(ctx, reservationID)
}

func (s *appService) RegisterRecipe(ctx context.Context, req RegisterRecipeRequest) (*core.Recipe, error) {
	inputs := make([]core.RecipeInput, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = core.RecipeInput{ItemID: in.ItemID, Quantity: in.Quantity}
	}
	return s.engine.Recipes.Register(ctx, core.RegisterRecipeRequest{
		ID:             req.ID,
		Name:           req.Name,
		OutputItemID:   req.OutputItemID,
		OutputQuantity: req.OutputQuantity,
		Inputs:         inputs,
		Inactive:       req.Inactive,
	})
}

func (s *appService) DeactivateRecipe(ctx context.Context, recipeID string) error {
	return s.engine.Recipes.Deactivate(ctx, recipeID)
}

func (s *appService) ListRecipes(ctx context.Context) (*RecipeListResult, error) {
	recipes, err := s.engine.Recipes.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}
	return &RecipeListResult{Recipes: recipes}, nil
}

func (s *appService) StartBatch(ctx context.Context, req StartBatchRequest) (*core.ProductionBatch, error) {
	batch, err := s.batchRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.engine.Production.StartBatch(ctx, batch)
}

func (s *appService) CheckBatchInputs(ctx context.Context, req StartBatchRequest) (*core.InputCheck, error) {
	batch, err := s.batchRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.engine.Production.CheckInputs(ctx, batch)
}

// batchRequest resolves the recipe from the output item's active recipe when no ID is given.
func (s *appService) batchRequest(ctx context.Context, req StartBatchRequest) (core.StartBatchRequest, error) {
	recipeID := req.RecipeID
	if recipeID == "" {
		if req.OutputItemID == "" {
			return core.StartBatchRequest{}, fmt.Errorf("%w: recipe_id or output_item_id is required", core.ErrInvalidArgument)
		}
		rec, err := s.engine.Recipes.GetActiveRecipe(ctx, req.OutputItemID)
		if err != nil {
			return core.StartBatchRequest{}, err
		}
		recipeID = rec.ID
	}
	return core.StartBatchRequest{
		RecipeID:       recipeID,
		OutputQuantity: req.OutputQuantity,
		LocationID:     req.LocationID,
		Actor:          req.Actor,
	}, nil
}

func (s *appService) AdvanceBatch(ctx context.Context, batchID, actor string) (*core.ProductionBatch, error) {
	return s.engine.Production.AdvanceToInProgress(ctx, batchID, actor)
}

func (s *appService) CompleteBatch(ctx context.Context, req CompleteBatchRequest) (*core.ProductionBatch, error) {
	waste := make([]core.WasteEntry, len(req.Waste))
	for i, w := range req.Waste {
		waste[i] = core.WasteEntry{ItemID: w.ItemID, Quantity: w.Quantity, Reason: w.Reason}
	}
	return s.engine.Production.CompleteBatch(ctx, req.BatchID, req.ActualQuantity, waste, req.Actor)
}

func (s *appService) CancelBatch(ctx context.Context, batchID, actor string) (*core.ProductionBatch, error) {
	return s.engine.Production.CancelBatch(ctx, batchID, actor)
}

func (s *appService) GetBatch(ctx context.Context, batchID string) (*core.ProductionBatch, error) {
	return s.engine.Production.GetBatch(ctx, batchID)
}

func (s *appService) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*core.Shipment, error) {
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		return nil, err
	}
	lines := make([]core.ShipmentLineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.ShipmentLineInput{ItemID: l.ItemID, LocationID: l.LocationID, Quantity: l.Quantity}
	}
	return s.engine.Shipments.CreateShipment(ctx, core.CreateShipmentRequest{
		Recipient: req.Recipient,
		Lines:     lines,
		TTL:       ttl,
		Actor:     req.Actor,
	})
}

func (s *appService) ShipShipment(ctx context.Context, shipmentID, actor string) (*core.Shipment, error) {
	return s.engine.Shipments.Ship(ctx, shipmentID, actor)
}

func (s *appService) CancelShipment(ctx context.Context, shipmentID, actor string) (*core.Shipment, error) {
	return s.engine.Shipments.CancelShipment(ctx, shipmentID, actor)
}

func (s *appService) GetShipment(ctx context.Context, shipmentID string) (*core.Shipment, error) {
	return s.engine.Shipments.GetShipment(ctx, shipmentID)
}

func (s *appService) SweepExpired(ctx context.Context) (*SweepResult, error) {
	// A partial sweep still reports what it expired.
	n, err := s.engine.Sweeper.SweepOnce(ctx)
	return &SweepResult{Expired: n}, err
}

func (s *appService) ApplySeed(ctx context.Context, f *seed.File) (*SeedResult, error) {
	sum, err := seed.Apply(ctx, f, s.engine.Catalog, s.engine.Recipes, s.engine.Ledger)
	if err != nil {
		return nil, err
	}
	return &SeedResult{Locations: sum.Locations, Items: sum.Items, Recipes: sum.Recipes, Variants: sum.Variants, Receipts: sum.Receipts}, nil
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %q: %v", core.ErrInvalidArgument, s, err)
	}
	return d, nil
}
