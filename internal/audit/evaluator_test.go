package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kakoi/internal/model"
)

type fakeStatusStore map[string]model.MigrationStatus

func (f fakeStatusStore) GetMigrationStatus(_ context.Context, projectID string) (model.MigrationStatus, error) {
	s, ok := f[projectID]
	if !ok {
		return model.MigrationStatus{}, fmt.Errorf("status %s: not found", projectID)
	}
	return s, nil
}

type fakeAggregateStore struct {
	counts    model.DecisionCounts
	breakdown []model.ViolationCount
}

func (f *fakeAggregateStore) CountDecisionsSince(context.Context, string, time.Time) (model.DecisionCounts, error) {
	return f.counts, nil
}

func (f *fakeAggregateStore) ViolationBreakdownSince(context.Context, string, time.Time) ([]model.ViolationCount, error) {
	return f.breakdown, nil
}

func newEvaluator(phase model.Phase, inPhase time.Duration, counts model.DecisionCounts) *Evaluator {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(
		fakeStatusStore{"sm": {ProjectID: "sm", Phase: phase, PhaseEnteredAt: now.Add(-inPhase)}},
		&fakeAggregateStore{counts: counts},
		DefaultThresholds,
	)
	e.Now = func() time.Time { return now }
	return e
}

func TestEvaluateShadowEligible(t *testing.T) {
	// 8 days in shadow, 1200 operations, zero violations: all gates pass.
	e := newEvaluator(model.PhaseShadow, 8*24*time.Hour, model.DecisionCounts{Total: 1200})

	report, err := e.Evaluate(context.Background(), "sm")
	require.NoError(t, err)

	assert.True(t, report.Eligible)
	assert.Equal(t, model.PhaseEnforcing, report.TargetPhase)
	assert.Equal(t, RecommendationAdvance, report.Recommendation)
	for _, reason := range report.Reasons {
		assert.True(t, reason.Satisfied, "criterion %s", reason.Criterion)
	}
}

func TestEvaluateShadowGates(t *testing.T) {
	tests := []struct {
		name           string
		inShadow       time.Duration
		counts         model.DecisionCounts
		eligible       bool
		recommendation string
		failing        string
	}{
		{
			name:           "too recent",
			inShadow:       3 * 24 * time.Hour,
			counts:         model.DecisionCounts{Total: 5000},
			eligible:       false,
			recommendation: RecommendationWait,
			failing:        CriterionDuration,
		},
		{
			name:           "too little volume",
			inShadow:       8 * 24 * time.Hour,
			counts:         model.DecisionCounts{Total: 999},
			eligible:       false,
			recommendation: RecommendationWait,
			failing:        CriterionVolume,
		},
		{
			name:           "single violation blocks",
			inShadow:       8 * 24 * time.Hour,
			counts:         model.DecisionCounts{Total: 1201, Violations: 1},
			eligible:       false,
			recommendation: RecommendationInvestigate,
			failing:        CriterionViolations,
		},
		{
			name:           "exactly at thresholds",
			inShadow:       7 * 24 * time.Hour,
			counts:         model.DecisionCounts{Total: 1000},
			eligible:       true,
			recommendation: RecommendationAdvance,
		},
		{
			name:           "stuck past maximum with no violations",
			inShadow:       15 * 24 * time.Hour,
			counts:         model.DecisionCounts{Total: 500},
			eligible:       false,
			recommendation: RecommendationStuck,
			failing:        CriterionVolume,
		},
		{
			name:     "violations trump stuck",
			inShadow: 15 * 24 * time.Hour,
			counts:   model.DecisionCounts{Total: 5000, Violations: 3},
			eligible: false,
			// A stuck rollout with violations needs investigation, not
			// just operator attention.
			recommendation: RecommendationInvestigate,
			failing:        CriterionViolations,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEvaluator(model.PhaseShadow, tt.inShadow, tt.counts)
			report, err := e.Evaluate(context.Background(), "sm")
			require.NoError(t, err)

			assert.Equal(t, tt.eligible, report.Eligible)
			assert.Equal(t, tt.recommendation, report.Recommendation)
			assert.Len(t, report.Reasons, 3)
			if tt.failing != "" {
				var found bool
				for _, reason := range report.Reasons {
					if reason.Criterion == tt.failing {
						found = true
						assert.False(t, reason.Satisfied)
					}
				}
				assert.True(t, found, "expected reason %s", tt.failing)
			}
		})
	}
}

func TestEvaluateOperatorGatedPhases(t *testing.T) {
	t.Run("pending always eligible", func(t *testing.T) {
		e := newEvaluator(model.PhasePending, time.Hour, model.DecisionCounts{})
		report, err := e.Evaluate(context.Background(), "sm")
		require.NoError(t, err)
		assert.True(t, report.Eligible)
		assert.Equal(t, model.PhaseShadow, report.TargetPhase)
	})

	t.Run("enforcing always eligible", func(t *testing.T) {
		e := newEvaluator(model.PhaseEnforcing, time.Hour, model.DecisionCounts{})
		report, err := e.Evaluate(context.Background(), "sm")
		require.NoError(t, err)
		assert.True(t, report.Eligible)
		assert.Equal(t, model.PhaseComplete, report.TargetPhase)
	})

	t.Run("complete has nowhere to go", func(t *testing.T) {
		e := newEvaluator(model.PhaseComplete, time.Hour, model.DecisionCounts{})
		report, err := e.Evaluate(context.Background(), "sm")
		require.NoError(t, err)
		assert.False(t, report.Eligible)
		assert.Equal(t, RecommendationComplete, report.Recommendation)
	})
}

func TestViolationReport(t *testing.T) {
	now := time.Now().UTC()
	agg := &fakeAggregateStore{
		breakdown: []model.ViolationCount{
			{ResourceType: "record", Operation: model.OpRead, Count: 4},
			{ResourceType: "record", Operation: model.OpDelete, Count: 1},
		},
	}
	e := NewEvaluator(
		fakeStatusStore{"sm": {ProjectID: "sm", Phase: model.PhaseShadow, PhaseEnteredAt: now.Add(-time.Hour)}},
		agg,
		DefaultThresholds,
	)

	report, err := e.ViolationReport(context.Background(), "sm")
	require.NoError(t, err)

	assert.Equal(t, int64(5), report.Total)
	assert.Len(t, report.Breakdown, 2)
}
