package tenant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/storage"
)

type fakeRegistry struct {
	projects map[string]model.Project
	grants   map[string][]string
	statuses map[string]model.MigrationStatus

	resolveCalls atomic.Int64
}

func (f *fakeRegistry) GetProject(_ context.Context, id string) (model.Project, error) {
	f.resolveCalls.Add(1)
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

func newRegistry() *fakeRegistry {
	now := time.Now().UTC()
	return &fakeRegistry{
		projects: map[string]model.Project{
			"sup": {ID: "sup", AccessLevel: model.AccessSuper, CreatedAt: now},
			"aa":  {ID: "aa", AccessLevel: model.AccessShared, CreatedAt: now},
			"io":  {ID: "io", AccessLevel: model.AccessIsolated, CreatedAt: now},
			"old": {ID: "old", AccessLevel: model.AccessIsolated, CreatedAt: now},
		},
		grants: map[string][]string{"aa": {"sm", "io"}},
		statuses: map[string]model.MigrationStatus{
			"sup": {ProjectID: "sup", Phase: model.PhaseShadow, PhaseEnteredAt: now},
			"aa":  {ProjectID: "aa", Phase: model.PhaseShadow, PhaseEnteredAt: now},
			"io":  {ProjectID: "io", Phase: model.PhaseEnforcing, Enabled: true, PhaseEnteredAt: now},
			// "old" has no status row: onboarded before the rollout machinery.
		},
	}
}

func newResolver(reg Registry) *Resolver {
	return NewResolver(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveIsolated(t *testing.T) {
	r := newResolver(newRegistry())

	scope, err := r.Resolve(context.Background(), "io")
	require.NoError(t, err)

	assert.Equal(t, "io", scope.ProjectID)
	assert.Equal(t, model.AccessIsolated, scope.Level)
	assert.Equal(t, map[string]bool{"io": true}, scope.Allowed)
	assert.True(t, scope.Enforce, "enforcing phase with enabled flag")
	assert.False(t, scope.Bypass)
}

func TestResolveShared(t *testing.T) {
	r := newResolver(newRegistry())

	scope, err := r.Resolve(context.Background(), "aa")
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"aa": true, "sm": true, "io": true}, scope.Allowed)
	assert.False(t, scope.Enforce, "shadow phase never enforces")
	assert.True(t, scope.AllowsRead("io"))
	assert.False(t, scope.AllowsWrite("io"), "grant is read only")
}

func TestResolveSuper(t *testing.T) {
	r := newResolver(newRegistry())

	scope, err := r.Resolve(context.Background(), "sup")
	require.NoError(t, err)

	assert.Nil(t, scope.Allowed, "super is unrestricted")
	assert.True(t, scope.AllowsRead("anything"))
	assert.True(t, scope.AllowsWrite("anything"))
}

func TestResolveUnknownProject(t *testing.T) {
	r := newResolver(newRegistry())

	_, err := r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownProject)
}

func TestResolveMissingStatusDefaultsToPending(t *testing.T) {
	r := newResolver(newRegistry())

	scope, err := r.Resolve(context.Background(), "old")
	require.NoError(t, err)

	assert.Equal(t, model.PhasePending, scope.Phase)
	assert.False(t, scope.Enforce)
}

func TestResolveNoCrossCallCache(t *testing.T) {
	reg := newRegistry()
	r := newResolver(reg)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "aa")
	require.NoError(t, err)
	require.True(t, first.AllowsRead("sm"))

	// Revoke the grant; the very next resolve must see it.
	reg.grants["aa"] = []string{"io"}

	second, err := r.Resolve(ctx, "aa")
	require.NoError(t, err)
	assert.False(t, second.AllowsRead("sm"), "revocation visible on next call")
}

func TestResolveConcurrent(t *testing.T) {
	r := newResolver(newRegistry())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scope, err := r.Resolve(ctx, "aa")
			assert.NoError(t, err)
			assert.Equal(t, "aa", scope.ProjectID)
		}()
	}
	wg.Wait()
}

func TestBypassScope(t *testing.T) {
	scope := BypassScope("oncall")

	assert.True(t, scope.Bypass)
	assert.Equal(t, "oncall", scope.Actor)
	assert.Nil(t, scope.Allowed)
	assert.False(t, scope.Enforce)
	assert.True(t, scope.AllowsRead("any"))
	assert.False(t, scope.AllowsWrite("any"))
}
