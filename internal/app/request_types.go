package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request types double as the JSON bodies of the web API and are the source of the
// command schemas served to the front-end. Actor is never read from the body; adapters
// fill it from the authenticated identity.

// CreateItemRequest is the input for registering an item.
type CreateItemRequest struct {
	ID   string `json:"id" jsonschema:"description=SKU code without spaces or @"`
	Name string `json:"name"`
	Unit string `json:"unit" jsonschema:"example=kg,example=pcs"`
	Kind string `json:"kind,omitempty" jsonschema:"enum=RAW,enum=SEMI,enum=FINISHED"`
}

// CreateLocationRequest is the input for registering a location.
type CreateLocationRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// ListMovementsRequest selects a window of one key's movement log.
// From is inclusive and To exclusive; zero values leave that side open.
type ListMovementsRequest struct {
	ItemID     string    `json:"item_id"`
	LocationID string    `json:"location_id,omitempty"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	Limit      int       `json:"limit,omitempty" jsonschema:"minimum=0"`
}

// ReceiveStockRequest is the input for recording a goods receipt.
type ReceiveStockRequest struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reference  string          `json:"reference,omitempty"`
	Actor      string          `json:"-"`
}

// AdjustStockRequest is the input for a signed stock correction.
type AdjustStockRequest struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id,omitempty"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
	Actor      string          `json:"-"`
}

// CreatePackingVariantRequest registers a way to pack a SEMI item into FINISHED units.
type CreatePackingVariantRequest struct {
	ID              string          `json:"id,omitempty"`
	SourceItemID    string          `json:"source_item_id"`
	TargetItemID    string          `json:"target_item_id"`
	Container       string          `json:"container,omitempty" jsonschema:"example=jar 0.5l"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
}

// PackStockRequest packs whole Units of a registered packing variant.
type PackStockRequest struct {
	VariantID  string          `json:"variant_id"`
	LocationID string          `json:"location_id,omitempty"`
	Units      decimal.Decimal `json:"units" jsonschema:"description=whole number of target units"`
	Note       string          `json:"note,omitempty"`
	Actor      string          `json:"-"`
}

// ReserveRequest places a standalone hold. TTL is a Go duration string such as "30m";
// empty means the hold lapses immediately.
type ReserveRequest struct {
	ItemID      string          `json:"item_id"`
	LocationID  string          `json:"location_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Owner       string          `json:"owner"`
	TTL         string          `json:"ttl,omitempty" jsonschema:"example=30m,example=24h"`
	ConsumeKind string          `json:"consume_kind,omitempty" jsonschema:"enum=SHIP,enum=PRODUCTION_OUT,enum=PACK,enum=ADJUSTMENT,enum=WASTE"`
}

// RecipeInputRequest is one input line of a recipe, per OutputQuantity of output.
type RecipeInputRequest struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RegisterRecipeRequest is the input for storing a recipe.
type RegisterRecipeRequest struct {
	ID             string               `json:"id,omitempty"`
	Name           string               `json:"name"`
	OutputItemID   string               `json:"output_item_id"`
	OutputQuantity decimal.Decimal      `json:"output_quantity"`
	Inputs         []RecipeInputRequest `json:"inputs" jsonschema:"minItems=1"`
	Inactive       bool                 `json:"inactive,omitempty"`
}

// StartBatchRequest starts a production batch. RecipeID may be omitted when
// OutputItemID names an item with an active recipe.
type StartBatchRequest struct {
	RecipeID       string          `json:"recipe_id,omitempty"`
	OutputItemID   string          `json:"output_item_id,omitempty"`
	OutputQuantity decimal.Decimal `json:"output_quantity"`
	LocationID     string          `json:"location_id,omitempty"`
	Actor          string          `json:"-"`
}

// WasteRequest is one waste line of a CompleteBatchRequest.
type WasteRequest struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

// CompleteBatchRequest books the actual output of a batch.
type CompleteBatchRequest struct {
	BatchID        string          `json:"-"`
	ActualQuantity decimal.Decimal `json:"actual_quantity"`
	Waste          []WasteRequest  `json:"waste,omitempty"`
	Actor          string          `json:"-"`
}

// ShipmentLineRequest is one outbound line.
type ShipmentLineRequest struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// CreateShipmentRequest is the input for creating a shipment. An empty TTL uses the
// configured shipment reservation TTL.
type CreateShipmentRequest struct {
	Recipient string                `json:"recipient"`
	Lines     []ShipmentLineRequest `json:"lines" jsonschema:"minItems=1"`
	TTL       string                `json:"ttl,omitempty"`
	Actor     string                `json:"-"`
}
