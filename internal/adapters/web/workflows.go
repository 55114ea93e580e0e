package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"warehouse-ledger/internal/app"
)

// ── Recipes ───────────────────────────────────────────────────────────────────

// listRecipes handles GET /api/recipes.
func (h *Handler) listRecipes(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListRecipes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// registerRecipe handles POST /api/recipes.
func (h *Handler) registerRecipe(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.svc.RegisterRecipe(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rec)
}

// deactivateRecipe handles POST /api/recipes/{id}/deactivate.
func (h *Handler) deactivateRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateRecipe(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Production batches ────────────────────────────────────────────────────────

// startBatch handles POST /api/batches.
func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req app.StartBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())
	b, err := h.svc.StartBatch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, b)
}

// checkBatchInputs handles POST /api/batches/check: a batch preview that reserves nothing.
func (h *Handler) checkBatchInputs(w http.ResponseWriter, r *http.Request) {
	var req app.StartBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	check, err := h.svc.CheckBatchInputs(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, check)
}

// getBatch handles GET /api/batches/{id}.
func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, b)
}

// advanceBatch handles POST /api/batches/{id}/advance.
func (h *Handler) advanceBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.AdvanceBatch(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, b)
}

// completeBatch handles POST /api/batches/{id}/complete.
func (h *Handler) completeBatch(w http.ResponseWriter, r *http.Request) {
	var req app.CompleteBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.BatchID = chi.URLParam(r, "id")
	req.Actor = actorFromContext(r.Context())
	b, err := h.svc.CompleteBatch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, b)
}

// cancelBatch handles POST /api/batches/{id}/cancel.
func (h *Handler) cancelBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.CancelBatch(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, b)
}

// ── Shipments ─────────────────────────────────────────────────────────────────

// createShipment handles POST /api/shipments.
func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	var req app.CreateShipmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())
	shp, err := h.svc.CreateShipment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, shp)
}

// getShipment handles GET /api/shipments/{id}.
func (h *Handler) getShipment(w http.ResponseWriter, r *http.Request) {
	shp, err := h.svc.GetShipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, shp)
}

// shipShipment handles POST /api/shipments/{id}/ship.
func (h *Handler) shipShipment(w http.ResponseWriter, r *http.Request) {
	shp, err := h.svc.ShipShipment(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, shp)
}

// cancelShipment handles POST /api/shipments/{id}/cancel.
func (h *Handler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	shp, err := h.svc.CancelShipment(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, shp)
}
