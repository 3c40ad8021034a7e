package httpapi

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"rua/internal/core"
	"rua/pkg/domain"
)

type transitionRequest struct {
	core.TransitionPayload
	Version *int64 `json:"version,omitempty"`
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := h.registry.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) projectHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.registry.ProjectHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// ?hito= keeps only the milestone rows of that name, such as
	// enviada_a_juzgado, which leave the status unchanged.
	if hito := r.URL.Query().Get("hito"); hito != "" {
		rows = slices.DeleteFunc(rows, func(row domain.ProjectHistoryEntry) bool { return row.Milestone != hito })
	}
	if rows == nil {
		rows = []domain.ProjectHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) transitionProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event := domain.ProjectEvent(chi.URLParam(r, "event"))
	project, _, err := h.registry.TransitionProject(r.Context(), id, event, req.TransitionPayload, versionOpts(req.Version)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// unifyProject reruns unification for a convocatoria project already in
// vinculacion, e.g. after a failed blob copy.
func (h *Handler) unifyProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	if err := h.registry.UnifyOnEnterVinculacion(ctx, id, core.ActorFromContext(ctx)); err != nil {
		writeError(w, err)
		return
	}
	project, err := h.registry.GetProject(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, domain.Validationf("invalid upload: %v", err))
		return
	}
	file, header, err := r.FormFile("archivo")
	if err != nil {
		writeError(w, domain.Validationf("archivo is required"))
		return
	}
	defer func() { _ = file.Close() }()
	ctx := r.Context()
	field := domain.DocumentField(chi.URLParam(r, "field"))
	project, _, err := h.registry.UploadDocument(ctx, id, field, header.Filename, file, core.ActorFromContext(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}
