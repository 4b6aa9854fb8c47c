package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
)

// HandleCreateProject handles POST /v1/projects (admin only).
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProjectRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateProjectID(req.ID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !model.ValidAccessLevel(req.AccessLevel) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid access level")
		return
	}

	proj, err := h.db.CreateProject(r.Context(), model.Project{
		ID:          req.ID,
		AccessLevel: req.AccessLevel,
		Name:        req.Name,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "project already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create project", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, proj)
}

// HandleGetProject handles GET /v1/projects/{project_id} (admin only).
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	proj, err := h.db.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to get project", err)
		return
	}
	writeJSON(w, r, http.StatusOK, proj)
}

// HandleListProjects handles GET /v1/projects (admin only).
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.db.ListProjects(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list projects", err)
		return
	}
	writeJSON(w, r, http.StatusOK, projects)
}

// HandleCreateGrant handles POST /v1/grants (admin only). Grants convey
// read visibility from reader to target, never write access, and only
// shared-level readers can hold them.
func (h *Handlers) HandleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGrantRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ReaderProjectID == "" || req.TargetProjectID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "reader_project_id and target_project_id are required")
		return
	}
	if req.ReaderProjectID == req.TargetProjectID {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "a project always reads itself; self-grants are not allowed")
		return
	}

	reader, err := h.db.GetProject(r.Context(), req.ReaderProjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to look up reader project", err)
		return
	}
	if reader.AccessLevel != model.AccessShared {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "grants apply to shared-level readers only")
		return
	}
	if _, err := h.db.GetProject(r.Context(), req.TargetProjectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to look up target project", err)
		return
	}

	var grantedBy string
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		grantedBy = claims.ActorID
	}
	grant, err := h.db.CreateReadGrant(r.Context(), model.ReadGrant{
		ReaderProjectID: req.ReaderProjectID,
		TargetProjectID: req.TargetProjectID,
		GrantedBy:       grantedBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "grant already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create grant", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, grant)
}

// HandleDeleteGrant handles DELETE /v1/grants/{reader_id}/{target_id}.
// Revocation takes effect on the next call: scopes are resolved per call,
// so there is no cache to invalidate.
func (h *Handlers) HandleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	readerID := r.PathValue("reader_id")
	targetID := r.PathValue("target_id")

	if err := h.db.DeleteReadGrant(r.Context(), readerID, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListGrants handles GET /v1/grants (admin only).
func (h *Handlers) HandleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.db.ListGrants(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list grants", err)
		return
	}
	writeJSON(w, r, http.StatusOK, grants)
}
