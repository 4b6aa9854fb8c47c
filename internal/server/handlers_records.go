package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/tenantctx"
)

// HandleCreateRecord handles POST /v1/records. Ownership comes from the
// established scope; the body cannot name a different owner.
func (h *Handlers) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	scope := tenantctx.ScopeFromContext(r.Context())
	if scope == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant scope")
		return
	}
	if scope.Bypass {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "debug identity is read-only")
		return
	}

	var req model.CreateRecordRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateRecord(req.Kind, req.Body); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rec, err := h.db.CreateRecord(r.Context(), req.Kind, req.Body)
	if err != nil {
		h.writeInternalError(w, r, "failed to create record", err)
		return
	}

	h.recorder.Record(r.Context(), scope, model.ResourceTypeRecord, model.OpWrite, rec.ProjectID,
		map[string]any{"record_id": rec.ID.String()})

	writeJSON(w, r, http.StatusCreated, rec)
}

// HandleGetRecord handles GET /v1/records/{record_id}.
//
// A record the scope may not see produces the same not-found response as
// a record that does not exist, in body, status, and headers. The audit
// row still names the true owner; attribution and leak prevention are
// separate concerns.
func (h *Handlers) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	scope := tenantctx.ScopeFromContext(r.Context())
	if scope == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant scope")
		return
	}

	id, err := uuid.Parse(r.PathValue("record_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid record id")
		return
	}

	rec, err := h.db.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to get record", err)
		return
	}

	allowed := scope.AllowsRead(rec.ProjectID)
	h.recorder.Record(r.Context(), scope, model.ResourceTypeRecord, model.OpRead, rec.ProjectID,
		map[string]any{"record_id": rec.ID.String()})

	if scope.Enforce && !allowed {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		return
	}

	writeJSON(w, r, http.StatusOK, rec)
}

// HandleListRecords handles GET /v1/records. The storage layer applies
// scoping when enforcement is active; before that the legacy unscoped
// result is preserved and each owner in it is audited through the async
// buffer so list traffic builds shadow evidence without a per-row
// synchronous write.
func (h *Handlers) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	scope := tenantctx.ScopeFromContext(r.Context())
	if scope == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant scope")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	records, err := h.db.ListRecords(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list records", err)
		return
	}

	h.auditListOwners(r.Context(), scope, records)

	writeJSON(w, r, http.StatusOK, model.ListResponse{
		Data:    records,
		HasMore: len(records) == limit,
		Limit:   limit,
		Offset:  offset,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// auditListOwners records one decision per distinct owner present in a
// list result. Deduplicated per call: the evaluator counts decisions, and
// a hundred rows from one owner in one response is one decision. With no
// buffer configured, each decision goes through the recorder instead, so
// list traffic is audited either way.
func (h *Handlers) auditListOwners(ctx context.Context, scope *model.Scope, records []model.Record) {
	if !scope.Bypass && !scope.Phase.Audits() {
		return
	}

	seen := make(map[string]bool, 4)
	if h.buffer == nil {
		for _, rec := range records {
			if seen[rec.ProjectID] {
				continue
			}
			seen[rec.ProjectID] = true
			h.recorder.Record(ctx, scope, model.ResourceTypeRecord, model.OpRead, rec.ProjectID,
				map[string]any{"via": "list"})
		}
		return
	}

	now := time.Now().UTC()
	var entries []model.AccessDecision
	for _, rec := range records {
		if seen[rec.ProjectID] {
			continue
		}
		seen[rec.ProjectID] = true
		entries = append(entries, model.AccessDecision{
			ActingProjectID:        scope.ProjectID,
			ResourceType:           model.ResourceTypeRecord,
			Operation:              model.OpRead,
			ResourceOwnerProjectID: rec.ProjectID,
			WouldBeDenied:          !scope.Bypass && !scope.AllowsRead(rec.ProjectID),
			Actor:                  scope.Actor,
			OccurredAt:             now,
			Detail:                 map[string]any{"via": "list"},
		})
	}
	h.buffer.Enqueue(entries...)
}

// HandleDeleteRecord handles DELETE /v1/records/{record_id}. Read grants
// never convey write access, so a shared reader deleting a granted
// target's record is a violation in shadow and a not-found in enforcing.
func (h *Handlers) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	scope := tenantctx.ScopeFromContext(r.Context())
	if scope == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant scope")
		return
	}
	if scope.Bypass {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "debug identity is read-only")
		return
	}

	id, err := uuid.Parse(r.PathValue("record_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid record id")
		return
	}

	// Fetch first so the audit row names the true owner.
	rec, err := h.db.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to get record", err)
		return
	}

	allowed := scope.AllowsWrite(rec.ProjectID)
	h.recorder.Record(r.Context(), scope, model.ResourceTypeRecord, model.OpDelete, rec.ProjectID,
		map[string]any{"record_id": rec.ID.String()})

	if scope.Enforce && !allowed {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		return
	}

	if err := h.db.DeleteRecord(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecentDecisions handles GET /v1/decisions/recent, returning the
// acting project's own recent audit rows.
func (h *Handlers) HandleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	scope := tenantctx.ScopeFromContext(r.Context())
	if scope == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant scope")
		return
	}

	limit := queryInt(r, "limit", 50)
	decisions, err := h.db.ListRecentDecisions(r.Context(), scope.ProjectID, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list decisions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, decisions)
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
