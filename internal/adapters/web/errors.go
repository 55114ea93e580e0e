package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorDetails(w, r, message, code, status, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, message, code string, status int, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
		Details:   details,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type lineDetails struct {
	ShipmentID string `json:"shipment_id"`
	Line       int    `json:"line"`
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

type inputDetails struct {
	BatchID  string `json:"batch_id"`
	ItemID   string `json:"item_id"`
	Required string `json:"required"`
}

// writeServiceError maps engine errors to a status and machine code.
// Typed errors are checked before the sentinels they wrap.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inputsErr *core.InsufficientInputsError
	var lineErr *core.ShipmentLineError
	switch {
	case errors.As(err, &inputsErr):
		writeErrorDetails(w, r, err.Error(), "INSUFFICIENT_INPUTS", http.StatusConflict, inputDetails{
			BatchID: inputsErr.BatchID, ItemID: inputsErr.ItemID, Required: inputsErr.Required.String(),
		})
	case errors.As(err, &lineErr):
		status, code := classify(lineErr.Err)
		writeErrorDetails(w, r, err.Error(), code, status, lineDetails{
			ShipmentID: lineErr.ShipmentID, Line: lineErr.LineNumber, ItemID: lineErr.ItemID, LocationID: lineErr.LocationID,
		})
	default:
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			h.logger.WithFields(logrus.Fields{
				"request_id": requestIDFromContext(r.Context()),
				"error":      err.Error(),
			}).Error("unhandled service error")
			writeError(w, r, "internal server error", code, status)
			return
		}
		writeError(w, r, err.Error(), code, status)
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, core.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, core.ErrInsufficientAvailability):
		return http.StatusConflict, "INSUFFICIENT_AVAILABILITY"
	case errors.Is(err, core.ErrReservationExpired):
		return http.StatusGone, "RESERVATION_EXPIRED"
	case errors.Is(err, core.ErrInvalidReservationState),
		errors.Is(err, core.ErrInvalidBatchState),
		errors.Is(err, core.ErrInvalidShipmentState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, core.ErrRecipeInactive):
		return http.StatusConflict, "RECIPE_INACTIVE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
