package rollout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kakoi/internal/model"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to model.Phase
		want     bool
	}{
		{model.PhasePending, model.PhaseShadow, true},
		{model.PhaseShadow, model.PhaseEnforcing, true},
		{model.PhaseEnforcing, model.PhaseComplete, true},
		{model.PhasePending, model.PhaseEnforcing, false},
		{model.PhasePending, model.PhaseComplete, false},
		{model.PhaseShadow, model.PhaseComplete, false},
		{model.PhaseShadow, model.PhasePending, false},
		{model.PhaseEnforcing, model.PhaseShadow, false},
		{model.PhaseComplete, model.PhasePending, false},
		{model.PhaseComplete, model.PhaseShadow, false},
		{model.PhasePending, model.PhasePending, false},
		{model.PhaseComplete, model.Phase(""), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNextPhase(t *testing.T) {
	assert.Equal(t, model.PhaseShadow, NextPhase(model.PhasePending))
	assert.Equal(t, model.PhaseEnforcing, NextPhase(model.PhaseShadow))
	assert.Equal(t, model.PhaseComplete, NextPhase(model.PhaseEnforcing))
	assert.Equal(t, model.Phase(""), NextPhase(model.PhaseComplete))
}

func TestCanRollback(t *testing.T) {
	assert.False(t, CanRollback(model.PhasePending))
	assert.False(t, CanRollback(model.PhaseShadow))
	assert.True(t, CanRollback(model.PhaseEnforcing))
	assert.True(t, CanRollback(model.PhaseComplete))
}
