package httpapi

import (
	"net/http"
)

type membershipRequest struct {
	Projects []int64 `json:"proyectos"`
	Children []int64 `json:"nna"`
	Version  *int64  `json:"version,omitempty"`
}

type versionRequest struct {
	Version *int64 `json:"version,omitempty"`
}

type resolveRequest struct {
	Selected *int64 `json:"proyecto_seleccionado"`
	Version  *int64 `json:"version,omitempty"`
}

func (h *Handler) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.registry.ListFolders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (h *Handler) createFolder(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	folder, _, err := h.registry.CreateFolder(r.Context(), req.Projects, req.Children)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (h *Handler) getFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	folder, err := h.registry.GetFolder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *Handler) updateFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	folder, _, err := h.registry.UpdateFolder(r.Context(), id, req.Projects, req.Children, versionOpts(req.Version)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *Handler) sendFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	folder, _, err := h.registry.SendFolderToCourt(r.Context(), id, versionOpts(req.Version)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *Handler) returnFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	folder, _, err := h.registry.ReturnFolderToPreparation(r.Context(), id, versionOpts(req.Version)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// resolveFolder records the court ruling. A null selection declares the
// folder desierto.
func (h *Handler) resolveFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	folder, _, err := h.registry.ResolveFolder(r.Context(), id, req.Selected, versionOpts(req.Version)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *Handler) deleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.registry.DeleteEmptyFolder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteSelectedFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.registry.DeleteSelectedFolder(r.Context(), id, r.URL.Query().Get("dni")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
