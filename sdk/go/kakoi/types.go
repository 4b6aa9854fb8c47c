package kakoi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record mirrors the server's record resource for API consumers.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID string          `json:"project_id"`
	Kind      string          `json:"kind"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccessDecision is one row of the append-only audit ledger as exposed
// by the forensics endpoint.
type AccessDecision struct {
	ID                     uuid.UUID      `json:"id"`
	ActingProjectID        string         `json:"acting_project_id"`
	ResourceType           string         `json:"resource_type"`
	Operation              string         `json:"operation"`
	ResourceOwnerProjectID string         `json:"resource_owner_project_id"`
	WouldBeDenied          bool           `json:"would_be_denied"`
	Actor                  string         `json:"actor"`
	OccurredAt             time.Time      `json:"occurred_at"`
	Detail                 map[string]any `json:"detail,omitempty"`
}

// ProjectStatus is one row of the migration status report.
type ProjectStatus struct {
	ProjectID      string     `json:"project_id"`
	Name           string     `json:"name"`
	AccessLevel    string     `json:"access_level"`
	Phase          string     `json:"phase"`
	Enabled        bool       `json:"enabled"`
	PhaseEnteredAt time.Time  `json:"phase_entered_at"`
	TimeInPhase    string     `json:"time_in_phase"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// RecordPage is one page of a record listing. The server omits totals
// when tenant scoping hid rows, so paging is driven by HasMore.
type RecordPage struct {
	Records []Record
	HasMore bool
	Limit   int
	Offset  int
}
