package model

import "sort"

// Scope is the resolved tenant context for one inbound call. It is built
// by the resolver at the start of request handling, rides the request
// context, and is never persisted or shared across concurrent calls.
//
// Allowed follows the nil-means-unrestricted convention: a nil map is a
// super project (or the debug bypass); an empty map denies everything.
type Scope struct {
	ProjectID string
	Level     AccessLevel
	Phase     Phase
	// Enforce is true when the project's migration status actively
	// applies storage-level scoping (enforcing/complete with enabled).
	Enforce bool
	Allowed map[string]bool
	// Bypass marks the debug identity. Reads cross all tenants
	// unconditionally and are audited aggressively.
	Bypass bool
	// Actor identifies who is acting, for audit rows.
	Actor string
}

// AllowsRead reports whether the scope may read data owned by ownerID.
// This is the single decision function shared by the shadow-phase auditor
// and the enforcing-phase blocker; computing it in two places is the
// drift bug this method exists to prevent.
func (s Scope) AllowsRead(ownerID string) bool {
	if s.Bypass || s.Allowed == nil {
		return true
	}
	return s.Allowed[ownerID]
}

// AllowsWrite reports whether the scope may write or delete data owned by
// ownerID. Read grants never convey write access: only the owner itself
// and super projects may write.
func (s Scope) AllowsWrite(ownerID string) bool {
	if s.Allowed == nil && !s.Bypass {
		return true // super
	}
	return ownerID == s.ProjectID
}

// Allows applies the decision function for op against ownerID.
func (s Scope) Allows(op Operation, ownerID string) bool {
	if op == OpRead {
		return s.AllowsRead(ownerID)
	}
	return s.AllowsWrite(ownerID)
}

// AllowedList returns the allowed project ids in sorted order, or nil for
// an unrestricted scope. Sorted so SQL parameters and session settings
// are deterministic.
func (s Scope) AllowedList() []string {
	if s.Allowed == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Allowed))
	for id := range s.Allowed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
