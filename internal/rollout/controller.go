package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/model"
)

// ResourceTypePhase is the audit resource_type for phase transitions.
// Phase changes audit themselves through the same append-only ledger as
// data access, in the same transaction as the status mutation.
const ResourceTypePhase = "migration_phase"

// rollbackDeadline bounds the emergency rollback end to end, including
// the audit write. The design target is under a minute; this leaves
// headroom for retries upstream.
const rollbackDeadline = 45 * time.Second

// ErrInvalidTransition is returned for a forward transition the state
// machine does not permit.
var ErrInvalidTransition = errors.New("rollout: invalid phase transition")

// NotEligibleError carries the itemized reasons a project failed its
// evidence gates. Expected and recoverable: the operator reads the
// reasons and acts.
type NotEligibleError struct {
	ProjectID string
	Reasons   []audit.Reason
}

func (e *NotEligibleError) Error() string {
	var failed []string
	for _, r := range e.Reasons {
		if !r.Satisfied {
			failed = append(failed, r.Criterion)
		}
	}
	return fmt.Sprintf("rollout: project %s not eligible (failing: %s)",
		e.ProjectID, strings.Join(failed, ", "))
}

// StatusStore is the migration-status slice the controller mutates.
type StatusStore interface {
	GetMigrationStatus(ctx context.Context, projectID string) (model.MigrationStatus, error)
	SetPhaseWithAudit(ctx context.Context, projectID string, from, to model.Phase, audit model.AccessDecision) error
	RollbackToPending(ctx context.Context, projectID string, audit model.AccessDecision) (bool, error)
}

// Controller performs and audits phase changes. It is the exclusive
// mutator of migration status.
type Controller struct {
	store     StatusStore
	evaluator *audit.Evaluator
	logger    *slog.Logger
}

// NewController creates a Controller.
func NewController(store StatusStore, evaluator *audit.Evaluator, logger *slog.Logger) *Controller {
	return &Controller{store: store, evaluator: evaluator, logger: logger}
}

// Evaluate exposes the evaluator's report without mutating anything.
// The dry-run surface.
func (c *Controller) Evaluate(ctx context.Context, projectID string) (audit.EligibilityReport, error) {
	return c.evaluator.Evaluate(ctx, projectID)
}

// Advance moves projectID forward to target. The transition must be the
// legal forward successor and, for shadow → enforcing, all evidence
// gates must pass; otherwise a NotEligibleError with itemized reasons is
// returned and nothing changes. The status mutation and its audit row
// commit in one transaction.
func (c *Controller) Advance(ctx context.Context, projectID string, target model.Phase, actor string) (audit.EligibilityReport, error) {
	if !model.ValidPhase(target) {
		return audit.EligibilityReport{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, target)
	}

	status, err := c.store.GetMigrationStatus(ctx, projectID)
	if err != nil {
		return audit.EligibilityReport{}, fmt.Errorf("rollout: advance %s: %w", projectID, err)
	}
	if !CanAdvance(status.Phase, target) {
		return audit.EligibilityReport{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status.Phase, target)
	}

	report, err := c.evaluator.Evaluate(ctx, projectID)
	if err != nil {
		return audit.EligibilityReport{}, err
	}
	if !report.Eligible {
		return report, &NotEligibleError{ProjectID: projectID, Reasons: report.Reasons}
	}

	entry := model.AccessDecision{
		ActingProjectID:        projectID,
		ResourceType:           ResourceTypePhase,
		Operation:              model.OpWrite,
		ResourceOwnerProjectID: projectID,
		Actor:                  actor,
		Detail: map[string]any{
			"action": "advance",
			"from":   string(status.Phase),
			"to":     string(target),
		},
	}
	if err := c.store.SetPhaseWithAudit(ctx, projectID, status.Phase, target, entry); err != nil {
		return report, fmt.Errorf("rollout: advance %s: %w", projectID, err)
	}

	c.logger.Info("rollout: phase advanced",
		"project_id", projectID,
		"from", status.Phase,
		"to", target,
		"actor", actor)
	return report, nil
}

// Rollback is the emergency path: it returns an enforcing or complete
// project to pending, disabling enforcement, and audits the rollback in
// the same transaction. Shadow-phase projects are not rollback targets;
// they have nothing enforced to back out of, and resetting them would
// discard accumulated evidence. Idempotent: already-pending projects
// succeed without a duplicate no-op audit row. Returns true if a phase
// change happened.
func (c *Controller) Rollback(ctx context.Context, projectID, actor string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, rollbackDeadline)
	defer cancel()

	status, err := c.store.GetMigrationStatus(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("rollout: rollback %s: %w", projectID, err)
	}
	if status.Phase == model.PhasePending {
		return false, nil
	}
	if !CanRollback(status.Phase) {
		return false, fmt.Errorf("%w: rollback from %s", ErrInvalidTransition, status.Phase)
	}

	entry := model.AccessDecision{
		ActingProjectID:        projectID,
		ResourceType:           ResourceTypePhase,
		Operation:              model.OpWrite,
		ResourceOwnerProjectID: projectID,
		Actor:                  actor,
		Detail: map[string]any{
			"action": "rollback",
			"to":     string(model.PhasePending),
		},
	}

	rolledBack, err := c.store.RollbackToPending(ctx, projectID, entry)
	if err != nil {
		return false, fmt.Errorf("rollout: rollback %s: %w", projectID, err)
	}

	if rolledBack {
		c.logger.Warn("rollout: emergency rollback",
			"project_id", projectID,
			"actor", actor)
	}
	return rolledBack, nil
}
