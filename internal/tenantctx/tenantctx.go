// Package tenantctx carries the resolved tenant scope on a request
// context.
//
// The scope is per-call ambient state: it is bound to one logical
// execution (one context chain), never to a global or to a pooled
// connection, so concurrent calls can never observe each other's tenant.
// Both the HTTP server and the MCP server establish it; the storage
// layer's scoped-transaction helper is the only consumer that treats its
// absence as an error.
package tenantctx

import (
	"context"

	"github.com/ashita-ai/kakoi/internal/model"
)

type contextKey string

const keyScope contextKey = "tenant_scope"

// WithScope returns a child context carrying scope. The binding dies with
// the context; there is nothing to tear down on any exit path.
func WithScope(ctx context.Context, scope *model.Scope) context.Context {
	return context.WithValue(ctx, keyScope, scope)
}

// ScopeFromContext extracts the established scope, or nil if the call did
// not go through the propagator.
func ScopeFromContext(ctx context.Context) *model.Scope {
	if v, ok := ctx.Value(keyScope).(*model.Scope); ok {
		return v
	}
	return nil
}
