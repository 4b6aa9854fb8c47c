package model

import (
	"fmt"
	"regexp"
	"time"
)

// AccessLevel determines which projects' data a project may read.
type AccessLevel string

const (
	// AccessSuper sees every registered project.
	AccessSuper AccessLevel = "super"
	// AccessShared sees itself plus explicitly granted projects.
	AccessShared AccessLevel = "shared"
	// AccessIsolated sees only itself.
	AccessIsolated AccessLevel = "isolated"
)

// ValidAccessLevel reports whether level is one of the three defined levels.
func ValidAccessLevel(level AccessLevel) bool {
	switch level {
	case AccessSuper, AccessShared, AccessIsolated:
		return true
	default:
		return false
	}
}

// Project is a tenant: a logically isolated owner of a subset of stored data.
// The access level is fixed at onboarding and immutable in normal operation.
type Project struct {
	ID          string      `json:"id"`
	AccessLevel AccessLevel `json:"access_level"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ReadGrant lets a shared project read another project's data.
// A grant never conveys write access.
type ReadGrant struct {
	ReaderProjectID string    `json:"reader_project_id"`
	TargetProjectID string    `json:"target_project_id"`
	GrantedBy       string    `json:"granted_by"`
	GrantedAt       time.Time `json:"granted_at"`
}

// MaxProjectIDLen bounds project id slugs; they end up in log lines,
// audit rows, and session GUCs, so they stay short.
const MaxProjectIDLen = 64

var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateProjectID checks that id is a usable project slug.
func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("project id is required")
	}
	if len(id) > MaxProjectIDLen {
		return fmt.Errorf("project id exceeds maximum length of %d characters", MaxProjectIDLen)
	}
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("project id must match %s", projectIDPattern.String())
	}
	return nil
}
