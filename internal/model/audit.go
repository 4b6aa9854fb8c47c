package model

import (
	"time"

	"github.com/google/uuid"
)

// Operation classifies an access for auditing.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// ValidOperation reports whether op is a defined operation.
func ValidOperation(op Operation) bool {
	switch op {
	case OpRead, OpWrite, OpDelete:
		return true
	default:
		return false
	}
}

// AccessDecision is one append-only audit row. The field set is stable:
// the eligibility evaluator and external compliance tooling aggregate
// over it. Detail is an optional opaque forensic payload and is never
// consulted by aggregation.
type AccessDecision struct {
	ID                     uuid.UUID      `json:"id"`
	ActingProjectID        string         `json:"acting_project_id"`
	ResourceType           string         `json:"resource_type"`
	Operation              Operation      `json:"operation"`
	ResourceOwnerProjectID string         `json:"resource_owner_project_id"`
	WouldBeDenied          bool           `json:"would_be_denied"`
	Actor                  string         `json:"actor"`
	OccurredAt             time.Time      `json:"occurred_at"`
	Detail                 map[string]any `json:"detail,omitempty"`
}

// ViolationCount is one row of a per-project violation breakdown.
type ViolationCount struct {
	ResourceType string    `json:"resource_type"`
	Operation    Operation `json:"operation"`
	Count        int64     `json:"count"`
}

// DecisionCounts aggregates a project's audit volume since a point in time.
type DecisionCounts struct {
	Total      int64 `json:"total"`
	Violations int64 `json:"violations"`
}
