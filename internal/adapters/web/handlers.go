package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/app"
)

// Handler holds the ApplicationService and the auth settings of the API.
type Handler struct {
	svc       app.ApplicationService
	jwtSecret string
	logger    logrus.FieldLogger
}

// NewHandler creates and wires the chi router with all routes.
// An empty jwtSecret disables authentication; writes are then attributed to no actor.
func NewHandler(svc app.ApplicationService, allowedOrigins []string, jwtSecret string, logger logrus.FieldLogger) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{svc: svc, jwtSecret: jwtSecret, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Get("/api/schema", h.listSchemas)
	r.Get("/api/schema/{command}", h.getSchema)

	// ── Protected API routes (401 JSON if unauthenticated) ───────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// Catalog
		r.Get("/api/items", h.listItems)
		r.Post("/api/items", h.createItem)
		r.Get("/api/locations", h.listLocations)
		r.Post("/api/locations", h.createLocation)
		r.Get("/api/packing-variants", h.listPackingVariants)
		r.Post("/api/packing-variants", h.createPackingVariant)
		r.Get("/api/packing-variants/{id}/max-units", h.maxPackUnits)

		// Ledger
		r.Get("/api/stock/{item}", h.stockLevel)
		r.Get("/api/stock/{item}/movements", h.listMovements)
		r.Post("/api/stock/receive", h.receiveStock)
		r.Post("/api/stock/adjust", h.adjustStock)
		r.Post("/api/stock/pack", h.packStock)

		// Reservations
		r.Post("/api/reservations", h.reserve)
		r.Get("/api/reservations/{id}", h.getReservation)
		r.Post("/api/reservations/{id}/consume", h.consumeReservation)
		r.Post("/api/reservations/{id}/release", h.releaseReservation)
		r.Post("/api/reservations/sweep", h.sweep)

		// Production
		r.Get("/api/recipes", h.listRecipes)
		r.Post("/api/recipes", h.registerRecipe)
		r.Post("/api/recipes/{id}/deactivate", h.deactivateRecipe)
		r.Post("/api/batches", h.startBatch)
		r.Post("/api/batches/check", h.checkBatchInputs)
		r.Get("/api/batches/{id}", h.getBatch)
		r.Post("/api/batches/{id}/advance", h.advanceBatch)
		r.Post("/api/batches/{id}/complete", h.completeBatch)
		r.Post("/api/batches/{id}/cancel", h.cancelBatch)

		// Shipments
		r.Post("/api/shipments", h.createShipment)
		r.Get("/api/shipments/{id}", h.getShipment)
		r.Post("/api/shipments/{id}/ship", h.shipShipment)
		r.Post("/api/shipments/{id}/cancel", h.cancelShipment)
	})

	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// listSchemas handles GET /api/schema.
func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"commands": app.CommandNames()})
}

// getSchema handles GET /api/schema/{command}: the JSON Schema of that command's body.
func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	s, err := app.CommandSchema(chi.URLParam(r, "command"))
	if err != nil {
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, s)
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
