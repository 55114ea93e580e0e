package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Business errors. All are recoverable and returned to the caller; wrap them with
// fmt.Errorf("...: %w") for context and test them with errors.Is.
var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrConflict                 = errors.New("conflict")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrInvalidReservationState  = errors.New("invalid reservation state")
	ErrReservationExpired       = errors.New("reservation expired")
	ErrInvalidBatchState        = errors.New("invalid batch state")
	ErrInvalidShipmentState     = errors.New("invalid shipment state")
	ErrRecipeInactive           = errors.New("recipe inactive")
	ErrInsufficientInputs       = errors.New("insufficient inputs")
)

// InsufficientInputsError is returned by StartBatch when an input cannot be reserved.
// ItemID is the first input that failed; Err is the reservation error.
type InsufficientInputsError struct {
	BatchID  string
	ItemID   string
	Required decimal.Decimal
	Err      error
}

func (e *InsufficientInputsError) Error() string {
	return fmt.Sprintf("insufficient inputs for batch %s: item %s needs %s: %v",
		e.BatchID, e.ItemID, e.Required.String(), e.Err)
}

func (e *InsufficientInputsError) Is(target error) bool {
	return target == ErrInsufficientInputs
}

func (e *InsufficientInputsError) Unwrap() error {
	return e.Err
}

// ShipmentLineError names the shipment line whose reservation failed.
type ShipmentLineError struct {
	ShipmentID string
	LineNumber int
	ItemID     string
	LocationID string
	Err        error
}

func (e *ShipmentLineError) Error() string {
	return fmt.Sprintf("shipment %s line %d (item %s at %s): %v",
		e.ShipmentID, e.LineNumber, e.ItemID, e.LocationID, e.Err)
}

func (e *ShipmentLineError) Unwrap() error {
	return e.Err
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
