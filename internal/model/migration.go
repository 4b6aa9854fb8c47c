package model

import "time"

// Phase is a project's position in the isolation rollout.
type Phase string

const (
	// PhasePending is legacy behavior: no auditing, no enforcement.
	PhasePending Phase = "pending"
	// PhaseShadow audits every decision, including would-be denials,
	// but never blocks.
	PhaseShadow Phase = "shadow"
	// PhaseEnforcing actively scopes storage operations to the allowed set.
	PhaseEnforcing Phase = "enforcing"
	// PhaseComplete behaves exactly like enforcing and marks the
	// migration finished for reporting.
	PhaseComplete Phase = "complete"
)

// ValidPhase reports whether p is a defined phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhasePending, PhaseShadow, PhaseEnforcing, PhaseComplete:
		return true
	default:
		return false
	}
}

// Enforces reports whether storage operations are actively scoped in p.
func (p Phase) Enforces() bool {
	return p == PhaseEnforcing || p == PhaseComplete
}

// Audits reports whether access decisions are recorded in p.
func (p Phase) Audits() bool {
	return p != PhasePending
}

// MigrationStatus tracks one project's enforcement rollout. Mutated only
// by the rollout controller.
type MigrationStatus struct {
	ProjectID      string     `json:"project_id"`
	Phase          Phase      `json:"phase"`
	Enabled        bool       `json:"enabled"`
	PhaseEnteredAt time.Time  `json:"phase_entered_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// TimeInPhase returns how long the project has been in its current phase.
func (s MigrationStatus) TimeInPhase(now time.Time) time.Duration {
	return now.Sub(s.PhaseEnteredAt)
}
