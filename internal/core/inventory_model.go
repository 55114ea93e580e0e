package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind classifies a stock-keeping unit by its role in production.
type ItemKind string

const (
	ItemRaw      ItemKind = "RAW"
	ItemSemi     ItemKind = "SEMI"
	ItemFinished ItemKind = "FINISHED"
)

// Item is a stock-keeping unit. There is no update path; items are immutable once created.
type Item struct {
	ID        string    `json:"id"` // caller-chosen SKU code
	Name      string    `json:"name"`
	Unit      string    `json:"unit"` // kg, l, pcs
	Kind      ItemKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Location represents a warehouse or storage point. At most one location is the default.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// Key identifies a balance: one item at one location. It is the unit of mutual exclusion.
type Key struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

// QuantityPlaces is the number of decimal places every stored quantity keeps.
const QuantityPlaces = 6

// checkPlaces rejects q when it is more precise than the store keeps.
func checkPlaces(what string, q decimal.Decimal) error {
	if !q.Equal(q.Truncate(QuantityPlaces)) {
		return invalidArg("%s %s has more than %d decimal places", what, q, QuantityPlaces)
	}
	return nil
}

// String renders the key in the form used for lock names and log fields.
func (k Key) String() string {
	return k.ItemID + "@" + k.LocationID
}

// Balance is the derived on-hand quantity for a key. It is only ever changed by movements.
type Balance struct {
	Key       Key             `json:"key"`
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MovementKind tags why a movement happened.
type MovementKind string

const (
	MovementReceipt       MovementKind = "RECEIPT"
	MovementProductionIn  MovementKind = "PRODUCTION_IN"
	MovementProductionOut MovementKind = "PRODUCTION_OUT"
	MovementPack          MovementKind = "PACK"
	MovementShip          MovementKind = "SHIP"
	MovementAdjustment    MovementKind = "ADJUSTMENT"
	MovementWaste         MovementKind = "WASTE"
)

// Valid reports whether k is one of the known movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementReceipt, MovementProductionIn, MovementProductionOut, MovementPack,
		MovementShip, MovementAdjustment, MovementWaste:
		return true
	}
	return false
}

// Movement is one immutable, signed change to a balance.
// Seq is assigned by the store and orders movements globally.
type Movement struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Key       Key             `json:"key"`
	Delta     decimal.Decimal `json:"delta"`
	Kind      MovementKind    `json:"kind"`
	Reference string          `json:"reference,omitempty"` // "batch:<id>", "shipment:<id>", free text for receipts
	Actor     string          `json:"actor,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MovementQuery selects a page of movements for one key.
// Zero From/To leave that side of the range open. AfterSeq is the resume cursor.
type MovementQuery struct {
	Key      Key
	From     time.Time
	To       time.Time
	AfterSeq int64
	Limit    int
}

// StockLevel is the read view returned to callers: on-hand, held and free quantity for one key.
type StockLevel struct {
	Key       Key             `json:"key"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"` // = OnHand - Reserved
}

// MovementRequest is the input to LedgerService.ApplyMovement.
type MovementRequest struct {
	ItemID     string
	LocationID string
	Delta      decimal.Decimal
	Kind       MovementKind
	Reference  string
	Actor      string
	Note       string
}
