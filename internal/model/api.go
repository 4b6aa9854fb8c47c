package model

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints. Total is
// omitted when tenant scoping hid rows, so callers never learn how many
// rows exist outside their scope.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeNotEligible   = "NOT_ELIGIBLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ActorID string `json:"actor_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateActorRequest is the request body for POST /v1/actors. The API key
// is generated server-side and returned exactly once.
type CreateActorRequest struct {
	ActorID   string    `json:"actor_id"`
	Role      ActorRole `json:"role"`
	ProjectID *string   `json:"project_id,omitempty"`
}

// CreateActorResponse returns the new actor and its freshly generated
// API key. The key is not retrievable afterwards.
type CreateActorResponse struct {
	Actor  Actor  `json:"actor"`
	APIKey string `json:"api_key"`
}

// CreateProjectRequest is the request body for POST /v1/projects.
type CreateProjectRequest struct {
	ID          string      `json:"id"`
	AccessLevel AccessLevel `json:"access_level"`
	Name        string      `json:"name"`
}

// CreateGrantRequest is the request body for POST /v1/grants.
type CreateGrantRequest struct {
	ReaderProjectID string `json:"reader_project_id"`
	TargetProjectID string `json:"target_project_id"`
}

// CreateRecordRequest is the request body for POST /v1/records.
type CreateRecordRequest struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// AdvanceRequest is the request body for POST /v1/migration/{project_id}/advance.
type AdvanceRequest struct {
	TargetPhase Phase `json:"target_phase"`
	DryRun      bool  `json:"dry_run"`
}

// ProjectStatus is one row of the migration status report.
type ProjectStatus struct {
	ProjectID      string      `json:"project_id"`
	Name           string      `json:"name"`
	AccessLevel    AccessLevel `json:"access_level"`
	Phase          Phase       `json:"phase"`
	Enabled        bool        `json:"enabled"`
	PhaseEnteredAt time.Time   `json:"phase_entered_at"`
	TimeInPhase    string      `json:"time_in_phase"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// ViolationReport is the per-project violation breakdown.
type ViolationReport struct {
	ProjectID string           `json:"project_id"`
	Since     time.Time        `json:"since"`
	Total     int64            `json:"total"`
	Breakdown []ViolationCount `json:"breakdown"`
}
