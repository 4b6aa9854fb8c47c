package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kakoi/internal/model"
)

// Criteria named in eligibility reasons. Operators key off these to see
// exactly which gate is blocking advancement.
const (
	CriterionDuration   = "duration"
	CriterionVolume     = "volume"
	CriterionViolations = "violations"
)

// Recommendations attached to eligibility reports.
const (
	// RecommendationAdvance: all gates pass, safe to advance.
	RecommendationAdvance = "advance"
	// RecommendationWait: duration or volume gate not yet met.
	RecommendationWait = "wait"
	// RecommendationInvestigate: violations were recorded. Advancement
	// is blocked regardless of duration and volume until they are
	// understood; this is not a "not yet" condition.
	RecommendationInvestigate = "investigate violations"
	// RecommendationStuck: the project has sat in shadow past the
	// maximum bound with zero violations. The rollout needs operator
	// action; this is an alarm, not an ineligibility.
	RecommendationStuck = "stuck rollout, operator action required"
	// RecommendationComplete: the migration is finished.
	RecommendationComplete = "migration complete"
)

// Thresholds are the evidence gates for shadow → enforcing.
type Thresholds struct {
	MinShadowDuration time.Duration
	MaxShadowDuration time.Duration
	MinAuditVolume    int64
}

// DefaultThresholds are the design defaults.
var DefaultThresholds = Thresholds{
	MinShadowDuration: 7 * 24 * time.Hour,
	MaxShadowDuration: 14 * 24 * time.Hour,
	MinAuditVolume:    1000,
}

// Reason is one criterion's verdict in an eligibility report.
type Reason struct {
	Criterion string `json:"criterion"`
	Satisfied bool   `json:"satisfied"`
	Detail    string `json:"detail"`
}

// EligibilityReport is the evaluator's answer for one project.
type EligibilityReport struct {
	ProjectID      string               `json:"project_id"`
	Phase          model.Phase          `json:"phase"`
	TargetPhase    model.Phase          `json:"target_phase"`
	Eligible       bool                 `json:"eligible"`
	Reasons        []Reason             `json:"reasons,omitempty"`
	Recommendation string               `json:"recommendation"`
	Counts         model.DecisionCounts `json:"counts"`
	EvaluatedAt    time.Time            `json:"evaluated_at"`
}

// StatusStore is the migration-status slice the evaluator reads.
type StatusStore interface {
	GetMigrationStatus(ctx context.Context, projectID string) (model.MigrationStatus, error)
}

// AggregateStore is the audit-aggregation slice the evaluator reads.
type AggregateStore interface {
	CountDecisionsSince(ctx context.Context, projectID string, since time.Time) (model.DecisionCounts, error)
	ViolationBreakdownSince(ctx context.Context, projectID string, since time.Time) ([]model.ViolationCount, error)
}

// Evaluator decides whether a project may advance to a stricter phase.
// Every evaluation reads the ledger fresh; there is no caching between
// RecordDecision and Evaluate.
type Evaluator struct {
	status     StatusStore
	agg        AggregateStore
	thresholds Thresholds

	// Now is the clock; replaceable in tests.
	Now func() time.Time
}

// NewEvaluator creates an Evaluator with the given thresholds.
func NewEvaluator(status StatusStore, agg AggregateStore, thresholds Thresholds) *Evaluator {
	if thresholds.MinShadowDuration <= 0 {
		thresholds = DefaultThresholds
	}
	return &Evaluator{
		status:     status,
		agg:        agg,
		thresholds: thresholds,
		Now:        time.Now,
	}
}

// Evaluate reports whether projectID may advance to the next forward
// phase. Only shadow → enforcing is evidence-gated; pending → shadow and
// enforcing → complete are operator decisions and always eligible.
func (e *Evaluator) Evaluate(ctx context.Context, projectID string) (EligibilityReport, error) {
	status, err := e.status.GetMigrationStatus(ctx, projectID)
	if err != nil {
		return EligibilityReport{}, fmt.Errorf("audit: evaluate %s: %w", projectID, err)
	}

	now := e.Now().UTC()
	report := EligibilityReport{
		ProjectID:   projectID,
		Phase:       status.Phase,
		EvaluatedAt: now,
	}

	switch status.Phase {
	case model.PhasePending:
		report.TargetPhase = model.PhaseShadow
		report.Eligible = true
		report.Recommendation = RecommendationAdvance
		return report, nil
	case model.PhaseEnforcing:
		report.TargetPhase = model.PhaseComplete
		report.Eligible = true
		report.Recommendation = RecommendationAdvance
		return report, nil
	case model.PhaseComplete:
		report.Eligible = false
		report.Recommendation = RecommendationComplete
		return report, nil
	}

	// Shadow: the evidence-gated transition.
	report.TargetPhase = model.PhaseEnforcing

	counts, err := e.agg.CountDecisionsSince(ctx, projectID, status.PhaseEnteredAt)
	if err != nil {
		return EligibilityReport{}, fmt.Errorf("audit: evaluate counts %s: %w", projectID, err)
	}
	report.Counts = counts

	inShadow := now.Sub(status.PhaseEnteredAt)

	durationOK := inShadow >= e.thresholds.MinShadowDuration
	report.Reasons = append(report.Reasons, Reason{
		Criterion: CriterionDuration,
		Satisfied: durationOK,
		Detail: fmt.Sprintf("%s in shadow, minimum %s",
			inShadow.Round(time.Minute), e.thresholds.MinShadowDuration),
	})

	volumeOK := counts.Total >= e.thresholds.MinAuditVolume
	report.Reasons = append(report.Reasons, Reason{
		Criterion: CriterionVolume,
		Satisfied: volumeOK,
		Detail: fmt.Sprintf("%d audited operations, minimum %d",
			counts.Total, e.thresholds.MinAuditVolume),
	})

	violationsOK := counts.Violations == 0
	report.Reasons = append(report.Reasons, Reason{
		Criterion: CriterionViolations,
		Satisfied: violationsOK,
		Detail:    fmt.Sprintf("%d would-be-denied operations, required 0", counts.Violations),
	})

	report.Eligible = durationOK && volumeOK && violationsOK

	switch {
	case !violationsOK:
		report.Recommendation = RecommendationInvestigate
	case inShadow > e.thresholds.MaxShadowDuration:
		report.Recommendation = RecommendationStuck
	case report.Eligible:
		report.Recommendation = RecommendationAdvance
	default:
		report.Recommendation = RecommendationWait
	}

	return report, nil
}

// ViolationReport returns projectID's would-be-denied breakdown since it
// entered its current phase.
func (e *Evaluator) ViolationReport(ctx context.Context, projectID string) (model.ViolationReport, error) {
	status, err := e.status.GetMigrationStatus(ctx, projectID)
	if err != nil {
		return model.ViolationReport{}, fmt.Errorf("audit: violation report %s: %w", projectID, err)
	}

	breakdown, err := e.agg.ViolationBreakdownSince(ctx, projectID, status.PhaseEnteredAt)
	if err != nil {
		return model.ViolationReport{}, fmt.Errorf("audit: violation breakdown %s: %w", projectID, err)
	}

	report := model.ViolationReport{
		ProjectID: projectID,
		Since:     status.PhaseEnteredAt,
		Breakdown: breakdown,
	}
	for _, v := range breakdown {
		report.Total += v.Count
	}
	return report, nil
}
