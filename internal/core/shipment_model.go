package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus progresses through the state machine:
//
//	DRAFT → RESERVED → SHIPPED
//	DRAFT | RESERVED → CANCELLED
type ShipmentStatus string

const (
	ShipmentDraft     ShipmentStatus = "DRAFT"
	ShipmentReserved  ShipmentStatus = "RESERVED"
	ShipmentShipped   ShipmentStatus = "SHIPPED"
	ShipmentCancelled ShipmentStatus = "CANCELLED"
)

// ShipmentLine is one outbound line, bound to the reservation that holds its quantity.
type ShipmentLine struct {
	LineNumber    int             `json:"line_number"`
	ItemID        string          `json:"item_id"`
	LocationID    string          `json:"location_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReservationID string          `json:"reservation_id,omitempty"`
	MovementID    string          `json:"movement_id,omitempty"` // set when SHIPPED
}

// Shipment is an outbound delivery to a recipient.
type Shipment struct {
	ID          string         `json:"id"`
	Recipient   string         `json:"recipient"`
	Status      ShipmentStatus `json:"status"`
	Lines       []ShipmentLine `json:"lines"`
	Actor       string         `json:"actor,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ShippedAt   *time.Time     `json:"shipped_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
}

// Reference is the owner/reference string used on the shipment's reservations and movements.
func (s *Shipment) Reference() string {
	return "shipment:" + s.ID
}

// ShipmentLineInput is one line of a CreateShipmentRequest. LocationID defaults to the default location.
type ShipmentLineInput struct {
	ItemID     string
	LocationID string
	Quantity   decimal.Decimal
}

// CreateShipmentRequest is the input to ShipmentService.CreateShipment.
// A zero TTL uses the service's configured reservation TTL.
type CreateShipmentRequest struct {
	Recipient string
	Lines     []ShipmentLineInput
	TTL       time.Duration
	Actor     string
}
