// Package tenant computes the access policy for a project: its access
// level and the full set of project ids it may currently read.
//
// Resolution happens once per inbound call, at establishment time, and
// the result rides the request context (see tenantctx). There is
// deliberately no cross-call cache: a project's grants or the registry
// itself can change between calls, and a stale allowed set is a
// correctness bug, not a performance optimization. Concurrent resolves
// for the same project are collapsed with singleflight, which shares
// in-flight work without retaining results.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
)

// ErrUnknownProject is returned when a project identifier was extracted
// from a call but is absent from the registry. Treated as a security
// failure upstream: the caller sees the same response as for a
// nonexistent resource.
var ErrUnknownProject = errors.New("tenant: unknown project")

// ErrMissingProject is returned when no project identifier could be
// extracted from an inbound call by any supported channel. There is no
// silent default tenant.
var ErrMissingProject = errors.New("tenant: no project identifier on request")

// BypassActorID is the debug identity that reads across all tenants for
// operational diagnosis. It is the one deliberate hole in the isolation
// guarantee; every use is audited more aggressively than normal access.
const BypassActorID = "kakoi-debug"

// Registry is the slice of the storage layer the resolver reads.
type Registry interface {
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
	ListGrantTargets(ctx context.Context, readerID string) ([]string, error)
	GetMigrationStatus(ctx context.Context, projectID string) (model.MigrationStatus, error)
}

// Resolver computes scopes from the registry.
type Resolver struct {
	reg    Registry
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(reg Registry, logger *slog.Logger) *Resolver {
	return &Resolver{reg: reg, logger: logger}
}

// Resolve computes the scope for projectID:
//
//	isolated: {projectID}
//	shared:   {projectID} ∪ granted targets
//	super:    unrestricted (nil allowed set, re-resolved every call)
//
// Returns ErrUnknownProject when projectID is not registered. The actor
// field of the returned scope is empty; the propagator fills it in.
func (r *Resolver) Resolve(ctx context.Context, projectID string) (model.Scope, error) {
	v, err, _ := r.group.Do(projectID, func() (any, error) {
		return r.resolve(ctx, projectID)
	})
	if err != nil {
		return model.Scope{}, err
	}
	return v.(model.Scope), nil
}

func (r *Resolver) resolve(ctx context.Context, projectID string) (model.Scope, error) {
	proj, err := r.reg.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Scope{}, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
		}
		return model.Scope{}, fmt.Errorf("tenant: resolve %s: %w", projectID, err)
	}

	status, err := r.reg.GetMigrationStatus(ctx, projectID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return model.Scope{}, fmt.Errorf("tenant: resolve status %s: %w", projectID, err)
		}
		// Projects onboarded before the rollout machinery have no status
		// row; they behave as pending (legacy, unaudited).
		status = model.MigrationStatus{
			ProjectID:      projectID,
			Phase:          model.PhasePending,
			PhaseEnteredAt: proj.CreatedAt,
		}
	}

	scope := model.Scope{
		ProjectID: projectID,
		Level:     proj.AccessLevel,
		Phase:     status.Phase,
		Enforce:   status.Phase.Enforces() && status.Enabled,
	}

	switch proj.AccessLevel {
	case model.AccessSuper:
		// Unrestricted. Left as a nil set rather than a materialized id
		// list so registry changes are visible without re-resolution.
	case model.AccessShared:
		targets, err := r.reg.ListGrantTargets(ctx, projectID)
		if err != nil {
			return model.Scope{}, fmt.Errorf("tenant: resolve grants %s: %w", projectID, err)
		}
		allowed := make(map[string]bool, len(targets)+1)
		allowed[projectID] = true
		for _, t := range targets {
			allowed[t] = true
		}
		scope.Allowed = allowed
	case model.AccessIsolated:
		scope.Allowed = map[string]bool{projectID: true}
	default:
		return model.Scope{}, fmt.Errorf("tenant: project %s has invalid access level %q", projectID, proj.AccessLevel)
	}

	return scope, nil
}

// BypassScope builds the unrestricted debug scope. Never enforced, never
// cached, always audited by the recorder regardless of phase.
func BypassScope(actor string) model.Scope {
	return model.Scope{
		ProjectID: BypassActorID,
		Level:     model.AccessSuper,
		Phase:     model.PhaseShadow,
		Bypass:    true,
		Actor:     actor,
	}
}
