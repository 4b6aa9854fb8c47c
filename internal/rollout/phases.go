// Package rollout owns the migration phase state machine and the only
// code path that mutates a project's migration status.
package rollout

import "github.com/ashita-ai/kakoi/internal/model"

// forwardNext maps each phase to its single legal forward successor.
// Phases move pending → shadow → enforcing → complete monotonically; the
// only way back is the audited emergency rollback.
var forwardNext = map[model.Phase]model.Phase{
	model.PhasePending:   model.PhaseShadow,
	model.PhaseShadow:    model.PhaseEnforcing,
	model.PhaseEnforcing: model.PhaseComplete,
}

// CanAdvance reports whether from → to is a legal forward transition.
func CanAdvance(from, to model.Phase) bool {
	return to != "" && NextPhase(from) == to
}

// NextPhase returns the legal forward successor of from, or "" for
// complete.
func NextPhase(from model.Phase) model.Phase {
	return forwardNext[from]
}

// CanRollback reports whether the emergency rollback applies to from.
// Complete stays rollback-capable: the emergency valve is the
// alternative to operators mutating status rows by hand, which is
// exactly the ad hoc access this system exists to eliminate.
func CanRollback(from model.Phase) bool {
	return from == model.PhaseEnforcing || from == model.PhaseComplete
}
