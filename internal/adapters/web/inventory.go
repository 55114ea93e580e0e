package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warehouse-ledger/internal/app"
)

// ── Catalog ───────────────────────────────────────────────────────────────────

// listItems handles GET /api/items.
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListItems(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// createItem handles POST /api/items.
func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req app.CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.CreateItem(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, item)
}

// listLocations handles GET /api/locations.
func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListLocations(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// createLocation handles POST /api/locations.
func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req app.CreateLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, err := h.svc.CreateLocation(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, loc)
}

// listPackingVariants handles GET /api/packing-variants?source=.
func (h *Handler) listPackingVariants(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListPackingVariants(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// createPackingVariant handles POST /api/packing-variants.
func (h *Handler) createPackingVariant(w http.ResponseWriter, r *http.Request) {
	var req app.CreatePackingVariantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.svc.CreatePackingVariant(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, v)
}

// maxPackUnits handles GET /api/packing-variants/{id}/max-units?location=.
func (h *Handler) maxPackUnits(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.MaxPackUnits(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("location"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, plan)
}

// ── Ledger ────────────────────────────────────────────────────────────────────

// stockLevel handles GET /api/stock/{item}?location=.
func (h *Handler) stockLevel(w http.ResponseWriter, r *http.Request) {
	lvl, err := h.svc.GetStockLevel(r.Context(), chi.URLParam(r, "item"), r.URL.Query().Get("location"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, lvl)
}

// listMovements handles GET /api/stock/{item}/movements?location=&from=&to=&limit=.
// from and to are RFC 3339 timestamps.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.ListMovementsRequest{
		ItemID:     chi.URLParam(r, "item"),
		LocationID: q.Get("location"),
	}
	var err error
	if req.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, r, "from must be an RFC 3339 timestamp", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if req.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, r, "to must be an RFC 3339 timestamp", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if s := q.Get("limit"); s != "" {
		if req.Limit, err = strconv.Atoi(s); err != nil || req.Limit < 0 {
			writeError(w, r, "limit must be a non-negative integer", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}

	result, err := h.svc.ListMovements(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// receiveStock handles POST /api/stock/receive.
func (h *Handler) receiveStock(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())
	m, err := h.svc.ReceiveStock(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}

// adjustStock handles POST /api/stock/adjust.
func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req app.AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())
	m, err := h.svc.AdjustStock(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}

// packStock handles POST /api/stock/pack.
func (h *Handler) packStock(w http.ResponseWriter, r *http.Request) {
	var req app.PackStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())
	res, err := h.svc.PackStock(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// ── Reservations ──────────────────────────────────────────────────────────────

// reserve handles POST /api/reservations.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req app.ReserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// getReservation handles GET /api/reservations/{id}.
func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// consumeReservation handles POST /api/reservations/{id}/consume.
func (h *Handler) consumeReservation(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.ConsumeReservation(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, m)
}

// releaseReservation handles POST /api/reservations/{id}/release.
func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ReleaseReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// sweep handles POST /api/reservations/sweep: one expiry pass on demand.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SweepExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
