package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist. It is
// also what cross-tenant point lookups surface in enforcing phase, so a
// caller cannot distinguish "hidden" from "nonexistent".
var ErrNotFound = errors.New("storage: not found")

// ErrNoScope is returned when a scoped operation is attempted without an
// established tenant scope on the context. This is a programming error: a
// caller reached the storage enforcement boundary without going through
// the propagator. It must fail loudly, never default to unscoped access.
var ErrNoScope = errors.New("storage: no tenant scope on context")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint.
var ErrDuplicate = errors.New("storage: already exists")

// ErrProjectNotFound wraps ErrNotFound for project lookups so callers can
// match either the specific or the generic sentinel.
var ErrProjectNotFound = fmt.Errorf("storage: project: %w", ErrNotFound)
