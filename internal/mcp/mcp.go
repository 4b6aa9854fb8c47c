// Package mcp implements the Model Context Protocol server for Kakoi.
//
// MCP is one of the protocol channels a tenant identifier arrives on:
// every tool takes an explicit project_id argument (the equivalent of the
// HTTP project header) and the handler establishes a scope from it before
// touching storage, exactly as the HTTP middleware does. There is no
// ambient default tenant here either.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/tenant"
	"github.com/ashita-ai/kakoi/internal/tenantctx"
)

// Server wraps the MCP server with Kakoi's tenant machinery.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	resolver  *tenant.Resolver
	recorder  *audit.Recorder
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, resolver *tenant.Resolver, recorder *audit.Recorder, logger *slog.Logger) *Server {
	s := &Server{
		db:       db,
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kakoi",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kakoi://migration/status: fleet-wide rollout position.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kakoi://migration/status",
			"Migration Status",
			mcplib.WithResourceDescription("Per-project isolation rollout phase and time in phase"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMigrationStatusResource,
	)
}

func (s *Server) registerTools() {
	// kakoi_get_record fetches one record under a named project's scope.
	s.mcpServer.AddTool(
		mcplib.NewTool("kakoi_get_record",
			mcplib.WithDescription("Fetch a record by id as seen by the named project. Records outside the project's visibility read as not found."),
			mcplib.WithString("project_id", mcplib.Description("Acting project identifier"), mcplib.Required()),
			mcplib.WithString("record_id", mcplib.Description("Record UUID"), mcplib.Required()),
		),
		s.handleGetRecord,
	)

	// kakoi_list_records lists records visible to the named project.
	s.mcpServer.AddTool(
		mcplib.NewTool("kakoi_list_records",
			mcplib.WithDescription("List records visible to the named project"),
			mcplib.WithString("project_id", mcplib.Description("Acting project identifier"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleListRecords,
	)

	// kakoi_migration_status reports one project's rollout position and eligibility counts.
	s.mcpServer.AddTool(
		mcplib.NewTool("kakoi_migration_status",
			mcplib.WithDescription("Report a project's isolation rollout phase, enforcement state, and recent decision counts"),
			mcplib.WithString("project_id", mcplib.Description("Project identifier"), mcplib.Required()),
		),
		s.handleMigrationStatus,
	)
}

// scopedContext resolves projectID and attaches the scope, mirroring the
// HTTP requireScope middleware.
func (s *Server) scopedContext(ctx context.Context, projectID string) (context.Context, error) {
	scope, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scope.Actor = "mcp:" + projectID
	return tenantctx.WithScope(ctx, &scope), nil
}

func (s *Server) handleMigrationStatusResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	statuses, err := s.db.ListMigrationStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: migration status: %w", err)
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kakoi://migration/status",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetRecord(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	recordID := request.GetString("record_id", "")
	if projectID == "" || recordID == "" {
		return errorResult("project_id and record_id are required"), nil
	}

	id, err := uuid.Parse(recordID)
	if err != nil {
		return errorResult("record_id must be a UUID"), nil
	}

	ctx, err = s.scopedContext(ctx, projectID)
	if err != nil {
		return tenantErrorResult(err), nil
	}
	scope := tenantctx.ScopeFromContext(ctx)

	rec, err := s.db.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("not found"), nil
		}
		return errorResult(fmt.Sprintf("failed to get record: %v", err)), nil
	}

	allowed := scope.AllowsRead(rec.ProjectID)
	s.recorder.Record(ctx, scope, model.ResourceTypeRecord, model.OpRead, rec.ProjectID,
		map[string]any{"record_id": rec.ID.String(), "via": "mcp"})

	if scope.Enforce && !allowed {
		// Indistinguishable from a nonexistent record.
		return errorResult("not found"), nil
	}

	return jsonResult(rec)
}

func (s *Server) handleListRecords(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return errorResult("project_id is required"), nil
	}
	limit := int(request.GetFloat("limit", 50))

	ctx, err := s.scopedContext(ctx, projectID)
	if err != nil {
		return tenantErrorResult(err), nil
	}

	records, err := s.db.ListRecords(ctx, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list records: %v", err)), nil
	}

	s.recordListOwners(ctx, tenantctx.ScopeFromContext(ctx), records)

	return jsonResult(map[string]any{
		"project_id": projectID,
		"records":    records,
	})
}

// recordListOwners writes one decision per distinct owner present in a
// list result, the same shape the HTTP list path produces. MCP has no
// async buffer, so these go through the recorder directly.
func (s *Server) recordListOwners(ctx context.Context, scope *model.Scope, records []model.Record) {
	seen := make(map[string]bool, 4)
	for _, rec := range records {
		if seen[rec.ProjectID] {
			continue
		}
		seen[rec.ProjectID] = true
		s.recorder.Record(ctx, scope, model.ResourceTypeRecord, model.OpRead, rec.ProjectID,
			map[string]any{"via": "mcp_list"})
	}
}

func (s *Server) handleMigrationStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return errorResult("project_id is required"), nil
	}

	status, err := s.db.GetMigrationStatus(ctx, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("not found"), nil
		}
		return errorResult(fmt.Sprintf("failed to get status: %v", err)), nil
	}

	counts, err := s.db.CountDecisionsSince(ctx, projectID, status.PhaseEnteredAt)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to count decisions: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"project_id":       projectID,
		"phase":            status.Phase,
		"enabled":          status.Enabled,
		"phase_entered_at": status.PhaseEnteredAt,
		"counts":           counts,
	})
}

func tenantErrorResult(err error) *mcplib.CallToolResult {
	if errors.Is(err, tenant.ErrUnknownProject) {
		return errorResult("not found")
	}
	return errorResult(fmt.Sprintf("failed to resolve project: %v", err))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(msg)
}
