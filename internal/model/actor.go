package model

import (
	"time"

	"github.com/google/uuid"
)

// ActorRole is the coarse role of an authenticated caller. Roles gate the
// admin surface; tenant data visibility is governed by project scope, not
// by role.
type ActorRole string

const (
	RoleAdmin   ActorRole = "admin"
	RoleService ActorRole = "service"
	RoleReader  ActorRole = "reader"
	// RoleDebug is the one deliberate hole in the isolation guarantee:
	// it reads across all tenants for operational diagnosis. Every use
	// is audited more aggressively than normal access.
	RoleDebug ActorRole = "debug"
)

// Actor is an authenticated identity (human or system). Service and
// reader actors are bound to a project; that binding is the embedded
// metadata channel for tenant identification.
type Actor struct {
	ID         uuid.UUID `json:"id"`
	ActorID    string    `json:"actor_id"`
	Role       ActorRole `json:"role"`
	ProjectID  *string   `json:"project_id,omitempty"`
	APIKeyHash *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters.
func RoleRank(r ActorRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleService, RoleDebug:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast reports whether r has at least the privileges of min.
func RoleAtLeast(r, min ActorRole) bool {
	return RoleRank(r) >= RoleRank(min)
}

// Bypasses reports whether r reads across all tenants unconditionally.
func (r ActorRole) Bypasses() bool {
	return r == RoleDebug
}
