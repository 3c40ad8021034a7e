package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rua/internal/core"
	"rua/pkg/domain"
)

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Compute(r.Context())
	if err != nil {
		writeError(w, domain.Fatal(err, "statistics unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	record, err := h.exports.Enqueue(r.Context(), core.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, domain.Conflict("export not scheduled: %v", err))
		return
	}
	w.Header().Set("Location", "/api/v1/estadisticas/exportaciones/"+record.ID)
	writeJSON(w, http.StatusAccepted, record)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := h.exports.Get(id)
	if !ok {
		writeError(w, domain.NotFound("exportacion", id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}
