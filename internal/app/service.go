package app

import (
	"context"

	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/seed"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the engine. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// CreateItem registers a new stock-keeping unit.
	CreateItem(ctx context.Context, req CreateItemRequest) (*core.Item, error)

	// ListItems returns every item ordered by ID.
	ListItems(ctx context.Context) (*ItemListResult, error)

	// CreateLocation registers a storage point. At most one may be the default.
	CreateLocation(ctx context.Context, req CreateLocationRequest) (*core.Location, error)

	// ListLocations returns every location ordered by ID.
	ListLocations(ctx context.Context) (*LocationListResult, error)

	// GetStockLevel returns on-hand, reserved and available quantity.
	// An empty locationID means the default location.
	GetStockLevel(ctx context.Context, itemID, locationID string) (*core.StockLevel, error)

	// ListMovements returns a window of the movement log for one key, oldest first.
	ListMovements(ctx context.Context, req ListMovementsRequest) (*MovementListResult, error)

	// ReceiveStock records a goods receipt as a RECEIPT movement.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*core.Movement, error)

	// AdjustStock records a signed stock correction.
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.Movement, error)

	// CreatePackingVariant registers how a SEMI item is packed into FINISHED units.
	CreatePackingVariant(ctx context.Context, req CreatePackingVariantRequest) (*core.PackingVariant, error)

	// ListPackingVariants returns variants packing sourceItemID, or all when empty.
	ListPackingVariants(ctx context.Context, sourceItemID string) (*PackingVariantListResult, error)

	// PackStock converts semi-finished quantity into finished units via a packing variant.
	PackStock(ctx context.Context, req PackStockRequest) (*core.PackResult, error)

	// MaxPackUnits reports how many whole units of a variant can be packed right now.
	MaxPackUnits(ctx context.Context, variantID, locationID string) (*core.PackPlan, error)

	// Reserve places a hold on available quantity.
	Reserve(ctx context.Context, req ReserveRequest) (*core.Reservation, error)

	// ConsumeReservation turns a hold into a stock movement.
	ConsumeReservation(ctx context.Context, reservationID, actor string) (*core.Movement, error)

	// ReleaseReservation frees a hold. Releasing a closed reservation is a no-op.
	ReleaseReservation(ctx context.Context, reservationID string) (*core.Reservation, error)

	GetReservation(ctx context.Context, reservationID string) (*core.Reservation, error)

	// RegisterRecipe stores a recipe and, unless inactive, makes it the active one for its output.
	RegisterRecipe(ctx context.Context, req RegisterRecipeRequest) (*core.Recipe, error)

	DeactivateRecipe(ctx context.Context, recipeID string) error

	ListRecipes(ctx context.Context) (*RecipeListResult, error)

	// StartBatch reserves a batch's inputs. It fails with core.ErrInsufficientInputs
	// after releasing whatever it had reserved.
	StartBatch(ctx context.Context, req StartBatchRequest) (*core.ProductionBatch, error)

	// CheckBatchInputs previews a batch against current availability without reserving.
	CheckBatchInputs(ctx context.Context, req StartBatchRequest) (*core.InputCheck, error)

	// AdvanceBatch consumes the batch's input reservations.
	AdvanceBatch(ctx context.Context, batchID, actor string) (*core.ProductionBatch, error)

	// CompleteBatch books the actual output and any waste.
	CompleteBatch(ctx context.Context, req CompleteBatchRequest) (*core.ProductionBatch, error)

	CancelBatch(ctx context.Context, batchID, actor string) (*core.ProductionBatch, error)

	GetBatch(ctx context.Context, batchID string) (*core.ProductionBatch, error)

	// CreateShipment reserves every line or none.
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*core.Shipment, error)

	// ShipShipment consumes every line reservation in one step.
	ShipShipment(ctx context.Context, shipmentID, actor string) (*core.Shipment, error)

	CancelShipment(ctx context.Context, shipmentID, actor string) (*core.Shipment, error)

	GetShipment(ctx context.Context, shipmentID string) (*core.Shipment, error)

	// SweepExpired runs one expiry pass immediately.
	SweepExpired(ctx context.Context) (*SweepResult, error)

	// ApplySeed loads a catalog seed document. Entries that already exist are skipped.
	ApplySeed(ctx context.Context, f *seed.File) (*SeedResult, error)
}
