package rollout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/model"
)

// fakeStore backs both the controller and the evaluator in tests.
type fakeStore struct {
	statuses map[string]model.MigrationStatus
	counts   map[string]model.DecisionCounts
	audits   []model.AccessDecision

	setErr error
}

func (f *fakeStore) GetMigrationStatus(_ context.Context, projectID string) (model.MigrationStatus, error) {
	st, ok := f.statuses[projectID]
	if !ok {
		return model.MigrationStatus{}, fmt.Errorf("migration status %s: not found", projectID)
	}
	return st, nil
}

func (f *fakeStore) SetPhaseWithAudit(_ context.Context, projectID string, from, to model.Phase, entry model.AccessDecision) error {
	if f.setErr != nil {
		return f.setErr
	}
	st := f.statuses[projectID]
	if st.Phase != from {
		return errors.New("phase changed concurrently")
	}
	st.Phase = to
	f.statuses[projectID] = st
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) RollbackToPending(_ context.Context, projectID string, entry model.AccessDecision) (bool, error) {
	st, ok := f.statuses[projectID]
	if !ok {
		return false, fmt.Errorf("migration status %s: not found", projectID)
	}
	if st.Phase == model.PhasePending {
		return false, nil
	}
	st.Phase = model.PhasePending
	st.Enabled = false
	f.statuses[projectID] = st
	f.audits = append(f.audits, entry)
	return true, nil
}

func (f *fakeStore) CountDecisionsSince(_ context.Context, projectID string, _ time.Time) (model.DecisionCounts, error) {
	return f.counts[projectID], nil
}

func (f *fakeStore) ViolationBreakdownSince(_ context.Context, projectID string, _ time.Time) ([]model.ViolationCount, error) {
	if f.counts[projectID].Violations == 0 {
		return nil, nil
	}
	return []model.ViolationCount{{ResourceType: "record", Operation: model.OpRead, Count: f.counts[projectID].Violations}}, nil
}

func newTestController(store *fakeStore) *Controller {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eval := audit.NewEvaluator(store, store, audit.DefaultThresholds)
	eval.Now = func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(store, eval, logger)
}

func TestAdvancePendingToShadow(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhasePending, PhaseEnteredAt: time.Now()},
		},
	}
	ctrl := newTestController(store)

	report, err := ctrl.Advance(context.Background(), "acme", model.PhaseShadow, "ops@acme")
	require.NoError(t, err)
	assert.True(t, report.Eligible)
	assert.Equal(t, model.PhaseShadow, store.statuses["acme"].Phase)

	require.Len(t, store.audits, 1)
	entry := store.audits[0]
	assert.Equal(t, ResourceTypePhase, entry.ResourceType)
	assert.Equal(t, "ops@acme", entry.Actor)
	assert.Equal(t, "advance", entry.Detail["action"])
	assert.Equal(t, "pending", entry.Detail["from"])
	assert.Equal(t, "shadow", entry.Detail["to"])
}

func TestAdvanceRejectsSkippedPhase(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhasePending},
		},
	}
	ctrl := newTestController(store)

	_, err := ctrl.Advance(context.Background(), "acme", model.PhaseEnforcing, "ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, store.audits)
	assert.Equal(t, model.PhasePending, store.statuses["acme"].Phase)
}

func TestAdvanceRejectsUnknownPhase(t *testing.T) {
	ctrl := newTestController(&fakeStore{statuses: map[string]model.MigrationStatus{}})

	_, err := ctrl.Advance(context.Background(), "acme", model.Phase("yolo"), "ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceShadowNotEligible(t *testing.T) {
	entered := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) // two days in shadow
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseShadow, PhaseEnteredAt: entered},
		},
		counts: map[string]model.DecisionCounts{
			"acme": {Total: 50},
		},
	}
	ctrl := newTestController(store)

	report, err := ctrl.Advance(context.Background(), "acme", model.PhaseEnforcing, "ops")
	require.Error(t, err)

	var notEligible *NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Equal(t, "acme", notEligible.ProjectID)
	assert.NotEmpty(t, notEligible.Reasons)
	assert.Contains(t, err.Error(), audit.CriterionDuration)
	assert.False(t, report.Eligible)

	assert.Equal(t, model.PhaseShadow, store.statuses["acme"].Phase)
	assert.Empty(t, store.audits)
}

func TestAdvanceShadowEligible(t *testing.T) {
	entered := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) // ten days in shadow
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseShadow, PhaseEnteredAt: entered},
		},
		counts: map[string]model.DecisionCounts{
			"acme": {Total: 4200},
		},
	}
	ctrl := newTestController(store)

	report, err := ctrl.Advance(context.Background(), "acme", model.PhaseEnforcing, "ops")
	require.NoError(t, err)
	assert.True(t, report.Eligible)
	assert.Equal(t, model.PhaseEnforcing, store.statuses["acme"].Phase)
	require.Len(t, store.audits, 1)
}

func TestAdvanceSurfacesStoreError(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhasePending},
		},
		setErr: errors.New("connection reset"),
	}
	ctrl := newTestController(store)

	_, err := ctrl.Advance(context.Background(), "acme", model.PhaseShadow, "ops")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRollbackFromEnforcing(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseEnforcing, Enabled: true},
		},
	}
	ctrl := newTestController(store)

	rolledBack, err := ctrl.Rollback(context.Background(), "acme", "oncall")
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, model.PhasePending, store.statuses["acme"].Phase)
	assert.False(t, store.statuses["acme"].Enabled)

	require.Len(t, store.audits, 1)
	entry := store.audits[0]
	assert.Equal(t, ResourceTypePhase, entry.ResourceType)
	assert.Equal(t, "rollback", entry.Detail["action"])
	assert.Equal(t, "pending", entry.Detail["to"])
}

func TestRollbackIdempotent(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseEnforcing, Enabled: true},
		},
	}
	ctrl := newTestController(store)

	rolledBack, err := ctrl.Rollback(context.Background(), "acme", "oncall")
	require.NoError(t, err)
	assert.True(t, rolledBack)

	rolledBack, err = ctrl.Rollback(context.Background(), "acme", "oncall")
	require.NoError(t, err)
	assert.False(t, rolledBack)

	// The repeat run must not append a second audit row.
	assert.Len(t, store.audits, 1)
}

func TestRollbackFromShadowRejected(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseShadow},
		},
	}
	ctrl := newTestController(store)

	rolledBack, err := ctrl.Rollback(context.Background(), "acme", "oncall")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, rolledBack)
	assert.Equal(t, model.PhaseShadow, store.statuses["acme"].Phase)
	assert.Empty(t, store.audits)
}

func TestRollbackFromComplete(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]model.MigrationStatus{
			"acme": {ProjectID: "acme", Phase: model.PhaseComplete, Enabled: true},
		},
	}
	ctrl := newTestController(store)

	rolledBack, err := ctrl.Rollback(context.Background(), "acme", "oncall")
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, model.PhasePending, store.statuses["acme"].Phase)
}

func TestRollbackUnknownProject(t *testing.T) {
	ctrl := newTestController(&fakeStore{statuses: map[string]model.MigrationStatus{}})

	_, err := ctrl.Rollback(context.Background(), "ghost", "oncall")
	require.Error(t, err)
}
