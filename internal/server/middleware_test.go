package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kakoi/internal/auth"
	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/tenant"
	"github.com/ashita-ai/kakoi/internal/tenantctx"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeRegistry serves the resolver from in-memory maps.
type fakeRegistry struct {
	projects map[string]model.Project
	grants   map[string][]string
	statuses map[string]model.MigrationStatus
}

func (f *fakeRegistry) GetProject(_ context.Context, id string) (model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return model.Project{}, fmt.Errorf("%w: project %s", storage.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakeRegistry) ListProjectIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.projects))
	for id := range f.projects {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeRegistry) ListGrantTargets(_ context.Context, readerID string) ([]string, error) {
	return f.grants[readerID], nil
}

func (f *fakeRegistry) GetMigrationStatus(_ context.Context, projectID string) (model.MigrationStatus, error) {
	s, ok := f.statuses[projectID]
	if !ok {
		return model.MigrationStatus{}, fmt.Errorf("%w: status %s", storage.ErrNotFound, projectID)
	}
	return s, nil
}

func newTestRegistry() *fakeRegistry {
	return &fakeRegistry{
		projects: map[string]model.Project{
			"aa": {ID: "aa", AccessLevel: model.AccessShared, CreatedAt: time.Now()},
			"io": {ID: "io", AccessLevel: model.AccessIsolated, CreatedAt: time.Now()},
		},
		grants: map[string][]string{"aa": {"io"}},
		statuses: map[string]model.MigrationStatus{
			"aa": {ProjectID: "aa", Phase: model.PhaseShadow, PhaseEnteredAt: time.Now()},
			"io": {ProjectID: "io", Phase: model.PhaseEnforcing, Enabled: true, PhaseEnteredAt: time.Now()},
		},
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))

	// A client supplied id is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "client-id", captured)
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	handler := authMiddleware(jwtMgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		pid := "aa"
		token, _, err := jwtMgr.IssueToken(model.Actor{
			ActorID: "svc-1", Role: model.RoleService, ProjectID: &pid,
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		bare := authMiddleware(jwtMgr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKeyClaims, claims))
}

func TestRequireRole(t *testing.T) {
	handler := requireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reader forbidden", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/", nil),
			&auth.Claims{ActorID: "r", Role: model.RoleReader})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/", nil),
			&auth.Claims{ActorID: "a", Role: model.RoleAdmin})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireScope(t *testing.T) {
	resolver := tenant.NewResolver(newTestRegistry(), testLogger)

	var captured *model.Scope
	handler := requireScope(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = tenantctx.ScopeFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("token binding", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "svc-aa", Role: model.RoleService, ProjectID: "aa"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "aa", captured.ProjectID)
		assert.Equal(t, "svc-aa", captured.Actor)
		assert.True(t, captured.Allowed["io"], "granted target visible")
		assert.False(t, captured.Enforce, "shadow phase does not enforce")
	})

	t.Run("header precedence for admin", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "ops", Role: model.RoleAdmin})
		req.Header.Set(ProjectHeader, "io")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "io", captured.ProjectID)
		assert.True(t, captured.Enforce, "enforcing phase with enabled flag enforces")
	})

	t.Run("mismatched header rejected for service actor", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "svc-aa", Role: model.RoleService, ProjectID: "aa"})
		req.Header.Set(ProjectHeader, "io")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing project identifier", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "ops", Role: model.RoleAdmin})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown project looks like not found", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "ops", Role: model.RoleAdmin})
		req.Header.Set(ProjectHeader, "nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("project from header, binding, or neither", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
		req.Header.Set(ProjectHeader, "io")
		id, err := projectFromRequest(req, &auth.Claims{ProjectID: "aa"})
		require.NoError(t, err)
		assert.Equal(t, "io", id)

		id, err = projectFromRequest(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ProjectID: "aa"})
		require.NoError(t, err)
		assert.Equal(t, "aa", id)

		_, err = projectFromRequest(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{})
		assert.ErrorIs(t, err, tenant.ErrMissingProject)
	})

	t.Run("debug role gets bypass scope", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/records", nil),
			&auth.Claims{ActorID: "oncall", Role: model.RoleDebug})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, captured.Bypass)
		assert.Equal(t, "oncall", captured.Actor)
		assert.Nil(t, captured.Allowed)
	})
}
