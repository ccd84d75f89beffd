// Package api exposes the dispatcher over HTTP: read-only snapshots of
// deliveries and units, and the command surface (create, geocode, assign,
// complete, fail, reopen, clear-error).
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/dispatch"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	infralogger "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

// Handler serves the dispatch HTTP API.
type Handler struct {
	coord *dispatch.Coordinator
	log   logger.Logger
}

// NewHandler creates the API handler around the coordinator.
func NewHandler(coord *dispatch.Coordinator) *Handler {
	return &Handler{coord: coord, log: infralogger.New("api")}
}

// Mux returns the routed handler.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/deliveries", h.listDeliveries)
	mux.HandleFunc("GET /api/units", h.listUnits)
	mux.HandleFunc("POST /api/deliveries", h.createDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/geocode", h.geocodeDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/assign", h.assignDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/complete", h.confirmComplete)
	mux.HandleFunc("POST /api/deliveries/{id}/fail", h.markFailed)
	mux.HandleFunc("POST /api/deliveries/{id}/reopen", h.reopen)
	mux.HandleFunc("POST /api/units/{id}/clear-error", h.clearUnitError)
	return mux
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		dterr dispatch.TransitionError
		uterr tracker.TransitionError
		gerr  dispatch.GeocodeError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &dterr), errors.As(err, &uterr), errors.Is(err, dispatch.ErrUnresolvedAddress):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &gerr):
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func deliveryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	ds, err := h.coord.Deliveries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ds)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	us, err := h.coord.Units(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, us)
}

func (h *Handler) createDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	d, err := h.coord.CreateDelivery(r.Context(), req.Address)
	var gerr dispatch.GeocodeError
	if errors.As(err, &gerr) {
		// created but unresolved, tell the caller both things
		h.writeJSON(w, http.StatusAccepted, struct {
			Delivery any    `json:"delivery"`
			Warning  string `json:"warning"`
		}{Delivery: d, Warning: gerr.Error()})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) geocodeDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := deliveryID(w, r)
	if !ok {
		return
	}
	d, err := h.coord.GeocodeDelivery(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) assignDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := deliveryID(w, r)
	if !ok {
		return
	}
	var req struct {
		UnitID string `json:"unit_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UnitID == "" {
		http.Error(w, "unit_id is required", http.StatusBadRequest)
		return
	}
	d, err := h.coord.AssignDelivery(r.Context(), id, req.UnitID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) confirmComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := deliveryID(w, r)
	if !ok {
		return
	}
	d, err := h.coord.ConfirmComplete(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) markFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := deliveryID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "failed by dispatcher"
	}
	d, err := h.coord.MarkFailed(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := deliveryID(w, r)
	if !ok {
		return
	}
	d, err := h.coord.Reopen(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) clearUnitError(w http.ResponseWriter, r *http.Request) {
	unitID := r.PathValue("id")
	if unitID == "" {
		http.Error(w, "invalid unit id", http.StatusBadRequest)
		return
	}
	u, err := h.coord.ClearUnitError(r.Context(), unitID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}
