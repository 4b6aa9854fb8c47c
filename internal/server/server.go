package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/auth"
	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/ratelimit"
	"github.com/ashita-ai/kakoi/internal/rollout"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/tenant"
)

// Server is the Kakoi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional (nil-safe): Buffer, Limiter, AuthLimiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB         *storage.DB
	JWTMgr     *auth.JWTManager
	Resolver   *tenant.Resolver
	Recorder   *audit.Recorder
	Evaluator  *audit.Evaluator
	Controller *rollout.Controller
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Buffer      *audit.Buffer
	Limiter     ratelimit.Limiter
	AuthLimiter ratelimit.Limiter
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Resolver:            cfg.Resolver,
		Recorder:            cfg.Recorder,
		Buffer:              cfg.Buffer,
		Evaluator:           cfg.Evaluator,
		Controller:          cfg.Controller,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)
	dataRL := ratelimit.Middleware(cfg.Limiter, actorKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Control plane (admin only). Project and grant management changes
	// what tenants may see, so it lives behind the strictest role.
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/projects", adminOnly(http.HandlerFunc(h.HandleCreateProject)))
	mux.Handle("GET /v1/projects", adminOnly(http.HandlerFunc(h.HandleListProjects)))
	mux.Handle("GET /v1/projects/{project_id}", adminOnly(http.HandlerFunc(h.HandleGetProject)))
	mux.Handle("POST /v1/grants", adminOnly(http.HandlerFunc(h.HandleCreateGrant)))
	mux.Handle("GET /v1/grants", adminOnly(http.HandlerFunc(h.HandleListGrants)))
	mux.Handle("DELETE /v1/grants/{reader_id}/{target_id}", adminOnly(http.HandlerFunc(h.HandleDeleteGrant)))
	mux.Handle("POST /v1/actors", adminOnly(http.HandlerFunc(h.HandleCreateActor)))

	// Rollout administration (admin only).
	mux.Handle("GET /v1/migration/status", adminOnly(http.HandlerFunc(h.HandleMigrationStatus)))
	mux.Handle("GET /v1/migration/{project_id}/eligibility", adminOnly(http.HandlerFunc(h.HandleProjectEligibility)))
	mux.Handle("GET /v1/migration/{project_id}/violations", adminOnly(http.HandlerFunc(h.HandleProjectViolations)))
	mux.Handle("POST /v1/migration/{project_id}/advance", adminOnly(http.HandlerFunc(h.HandleAdvancePhase)))
	mux.Handle("POST /v1/migration/{project_id}/rollback", adminOnly(http.HandlerFunc(h.HandleRollbackPhase)))

	// Data plane (tenant scope established per call, rate limited).
	scoped := requireScope(cfg.Resolver)
	writeRole := requireRole(model.RoleService)
	readRole := requireRole(model.RoleReader)
	mux.Handle("POST /v1/records", dataRL(writeRole(scoped(http.HandlerFunc(h.HandleCreateRecord)))))
	mux.Handle("GET /v1/records", dataRL(readRole(scoped(http.HandlerFunc(h.HandleListRecords)))))
	mux.Handle("GET /v1/records/{record_id}", dataRL(readRole(scoped(http.HandlerFunc(h.HandleGetRecord)))))
	mux.Handle("DELETE /v1/records/{record_id}", dataRL(writeRole(scoped(http.HandlerFunc(h.HandleDeleteRecord)))))
	mux.Handle("GET /v1/decisions/recent", dataRL(readRole(scoped(http.HandlerFunc(h.HandleRecentDecisions)))))

	// MCP StreamableHTTP transport (auth required; tools name the
	// project explicitly, so no ambient scope middleware here).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health and API spec (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// actorKeyFunc extracts the actor ID from the request context for rate
// limiting. Returns empty string for admins (exempt).
func actorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "actor:" + claims.ActorID
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
