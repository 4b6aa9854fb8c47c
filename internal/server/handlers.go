package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/auth"
	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/rollout"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/tenant"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	resolver            *tenant.Resolver
	recorder            *audit.Recorder
	buffer              *audit.Buffer
	evaluator           *audit.Evaluator
	controller          *rollout.Controller
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Buffer may be nil; list-path audit entries then go through the recorder.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Resolver            *tenant.Resolver
	Recorder            *audit.Recorder
	Buffer              *audit.Buffer
	Evaluator           *audit.Evaluator
	Controller          *rollout.Controller
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		resolver:            d.Resolver,
		recorder:            d.Recorder,
		buffer:              d.Buffer,
		evaluator:           d.Evaluator,
		controller:          d.Controller,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeInternalError logs the underlying error and returns a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ActorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor_id and api_key are required")
		return
	}

	actor, err := h.db.GetActorByActorID(r.Context(), req.ActorID)
	if err != nil {
		// Burn comparable time so unknown actor ids are not
		// distinguishable from wrong keys by response latency.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if actor.APIKeyHash == nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *actor.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(actor)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleCreateActor handles POST /v1/actors (admin only). The API key is
// generated here and returned exactly once; only its hash is stored.
func (h *Handlers) HandleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req model.CreateActorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ActorID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor_id is required")
		return
	}
	switch req.Role {
	case model.RoleAdmin, model.RoleService, model.RoleReader, model.RoleDebug:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid role")
		return
	}
	if (req.Role == model.RoleService || req.Role == model.RoleReader) && req.ProjectID == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "service and reader actors require a project binding")
		return
	}
	if req.ProjectID != nil {
		if _, err := h.db.GetProject(r.Context(), *req.ProjectID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
				return
			}
			h.writeInternalError(w, r, "failed to look up project", err)
			return
		}
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate api key", err)
		return
	}
	keyHash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	actor, err := h.db.CreateActor(r.Context(), model.Actor{
		ActorID:    req.ActorID,
		Role:       req.Role,
		ProjectID:  req.ProjectID,
		APIKeyHash: &keyHash,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "actor already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create actor", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.CreateActorResponse{Actor: actor, APIKey: apiKey})
}

// generateAPIKey produces a 256-bit random key, hex encoded.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "kk_" + hex.EncodeToString(buf), nil
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":               status,
		"version":              h.version,
		"uptime_seconds":       int(time.Since(h.startedAt).Seconds()),
		"audit_write_failures": h.recorder.Failures(),
	})
}
