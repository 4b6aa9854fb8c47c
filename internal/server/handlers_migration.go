package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/rollout"
	"github.com/ashita-ai/kakoi/internal/storage"
)

// HandleMigrationStatus handles GET /v1/migration/status (admin only).
// One row per project, joined with phase and time in phase, so an
// operator can see the whole fleet's rollout position at a glance.
func (h *Handlers) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.db.ListMigrationStatus(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list migration status", err)
		return
	}
	writeJSON(w, r, http.StatusOK, statuses)
}

// HandleProjectEligibility handles GET /v1/migration/{project_id}/eligibility.
func (h *Handlers) HandleProjectEligibility(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	report, err := h.controller.Evaluate(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to evaluate eligibility", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleProjectViolations handles GET /v1/migration/{project_id}/violations.
func (h *Handlers) HandleProjectViolations(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	report, err := h.evaluator.ViolationReport(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to build violation report", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleAdvancePhase handles POST /v1/migration/{project_id}/advance.
//
// With dry_run the eligibility report is returned without mutating
// anything. Without it the phase change and its audit row commit in one
// transaction; an ineligible project gets 409 with the failing criteria
// spelled out.
func (h *Handlers) HandleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req model.AdvanceRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.DryRun {
		report, err := h.controller.Evaluate(r.Context(), projectID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
				return
			}
			h.writeInternalError(w, r, "failed to evaluate eligibility", err)
			return
		}
		writeJSON(w, r, http.StatusOK, report)
		return
	}

	actor := actorFromClaims(r)
	report, err := h.controller.Advance(r.Context(), projectID, req.TargetPhase, actor)
	if err != nil {
		var notEligible *rollout.NotEligibleError
		switch {
		case errors.As(err, &notEligible):
			writeErrorDetails(w, r, http.StatusConflict, model.ErrCodeNotEligible,
				notEligible.Error(), notEligible.Reasons)
		case errors.Is(err, rollout.ErrInvalidTransition):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		case errors.Is(err, storage.ErrPhaseConflict):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "phase changed concurrently, retry")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		default:
			h.writeInternalError(w, r, "failed to advance phase", err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, report)
}

// HandleRollbackPhase handles POST /v1/migration/{project_id}/rollback.
// No eligibility check stands between an operator and getting a tenant
// out of enforcement. Idempotent at pending; shadow is not a rollback
// target and conflicts.
func (h *Handlers) HandleRollbackPhase(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	rolledBack, err := h.controller.Rollback(r.Context(), projectID, actorFromClaims(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		if errors.Is(err, rollout.ErrInvalidTransition) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to roll back", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"project_id":  projectID,
		"phase":       model.PhasePending,
		"rolled_back": rolledBack,
	})
}

func actorFromClaims(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.ActorID
	}
	return ""
}
