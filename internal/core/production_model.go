package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecipeInput is one required input of a recipe, per batch unit.
type RecipeInput struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Recipe (technological card) maps inputs to one output item.
// OutputQuantity is the output produced per batch unit; Inputs are ordered.
type Recipe struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	OutputItemID   string          `json:"output_item_id"`
	OutputQuantity decimal.Decimal `json:"output_quantity"`
	Inputs         []RecipeInput   `json:"inputs"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BatchStatus is the production batch state. The machine is:
//
//	PENDING → INPUTS_RESERVED → IN_PROGRESS → COMPLETED
//	PENDING | INPUTS_RESERVED → CANCELLED
type BatchStatus string

const (
	BatchPending        BatchStatus = "PENDING"
	BatchInputsReserved BatchStatus = "INPUTS_RESERVED"
	BatchInProgress     BatchStatus = "IN_PROGRESS"
	BatchCompleted      BatchStatus = "COMPLETED"
	BatchCancelled      BatchStatus = "CANCELLED"
)

// BatchInput records how much of an input the batch needs and the reservation holding it.
type BatchInput struct {
	ItemID        string          `json:"item_id"`
	Required      decimal.Decimal `json:"required"`
	ReservationID string          `json:"reservation_id,omitempty"`
}

// WasteRecord is loss recorded when a batch completes.
type WasteRecord struct {
	BatchID    string          `json:"batch_id"`
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
	MovementID string          `json:"movement_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WasteEntry is the caller's description of one waste line passed to CompleteBatch.
type WasteEntry struct {
	ItemID   string
	Quantity decimal.Decimal
	Reason   string
}

// ProductionBatch is one production run of a recipe at a location.
type ProductionBatch struct {
	ID                string          `json:"id"`
	RecipeID          string          `json:"recipe_id"`
	OutputItemID      string          `json:"output_item_id"`
	LocationID        string          `json:"location_id"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	ActualQuantity    decimal.Decimal `json:"actual_quantity"`
	Status            BatchStatus     `json:"status"`
	Inputs            []BatchInput    `json:"inputs"`
	ConsumedMovements []string        `json:"consumed_movements"`
	OutputMovementID  string          `json:"output_movement_id,omitempty"`
	Waste             []WasteRecord   `json:"waste"`
	Actor             string          `json:"actor,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
}

// Reference is the owner/reference string used on the batch's reservations and movements.
func (b *ProductionBatch) Reference() string {
	return "batch:" + b.ID
}

// StartBatchRequest is the input to ProductionService.StartBatch.
// LocationID defaults to the default location.
type StartBatchRequest struct {
	RecipeID       string
	OutputQuantity decimal.Decimal
	LocationID     string
	Actor          string
}

// InputAvailability is one recipe input measured against current availability.
type InputAvailability struct {
	ItemID    string          `json:"item_id"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// InputCheck previews a batch without reserving anything. MaxOutput is the largest
// output the inputs available right now would cover.
type InputCheck struct {
	RecipeID          string              `json:"recipe_id"`
	OutputItemID      string              `json:"output_item_id"`
	LocationID        string              `json:"location_id"`
	RequestedQuantity decimal.Decimal     `json:"requested_quantity"`
	Inputs            []InputAvailability `json:"inputs"`
	Feasible          bool                `json:"feasible"`
	MaxOutput         decimal.Decimal     `json:"max_output"`
}

// PackingVariant is a registered way to pack a semi-finished item into finished units,
// each unit taking QuantityPerUnit of the source.
type PackingVariant struct {
	ID              string          `json:"id"`
	SourceItemID    string          `json:"source_item_id"`
	TargetItemID    string          `json:"target_item_id"`
	Container       string          `json:"container"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PackingVariantRequest is the input to CatalogService.CreatePackingVariant. ID is generated when empty.
type PackingVariantRequest struct {
	ID              string
	SourceItemID    string
	TargetItemID    string
	Container       string
	QuantityPerUnit decimal.Decimal
}

// PackRequest packs whole Units of a packing variant at a location.
type PackRequest struct {
	VariantID  string
	LocationID string
	Units      decimal.Decimal
	Actor      string
	Note       string
}

// PackResult carries the two PACK movements written by Pack.
type PackResult struct {
	Variant        PackingVariant `json:"variant"`
	SourceMovement Movement       `json:"source_movement"`
	TargetMovement Movement       `json:"target_movement"`
}

// PackPlan is the most whole units of a variant the available source quantity allows.
type PackPlan struct {
	Variant   PackingVariant  `json:"variant"`
	Source    Key             `json:"source"`
	Available decimal.Decimal `json:"available"`
	MaxUnits  decimal.Decimal `json:"max_units"`
	Remainder decimal.Decimal `json:"remainder"`
}
