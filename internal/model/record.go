package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record field limits. Body ends up in a Postgres JSONB column; kind in
// audit rows and violation breakdowns.
const (
	MaxRecordKindLen = 100
	MaxRecordBodyLen = 256 * 1024 // 256 KB
)

// ResourceTypeRecord is the audit resource_type for record accesses.
const ResourceTypeRecord = "record"

// Record is the tenant-owned data unit. It exists so the enforcement path
// has something real to scope; the interesting behavior is in who may see
// it, not in what it holds.
type Record struct {
	ID        uuid.UUID `json:"id"`
	ProjectID string    `json:"project_id"`
	Kind      string    `json:"kind"`
	Body      []byte    `json:"body"` // raw JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateRecord checks per-field limits before a record reaches storage.
func ValidateRecord(kind string, body []byte) error {
	if kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(kind) > MaxRecordKindLen {
		return fmt.Errorf("kind exceeds maximum length of %d characters", MaxRecordKindLen)
	}
	if len(body) > MaxRecordBodyLen {
		return fmt.Errorf("body exceeds maximum length of %d bytes", MaxRecordBodyLen)
	}
	return nil
}
