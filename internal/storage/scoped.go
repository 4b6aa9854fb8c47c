package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kakoi/internal/tenantctx"
)

// WithScope is the single enforcement choke point for tenant-owned data.
// It acquires a pooled connection (bounded by the acquire timeout), opens
// a transaction, applies the caller's tenant scope as transaction-local
// session settings, runs fn, and commits.
//
// Scope application uses set_config(..., is_local => true), so the
// settings die with the transaction: commit, rollback, and cancellation
// all leave the connection unscoped before it returns to the pool. The
// clear is symmetric with the apply by construction, not by best effort.
//
// Returns ErrNoScope when the context carries no established scope. That
// is a bug in the caller, not a tenant error: it means code reached the
// storage boundary without going through the propagator.
func (db *DB) WithScope(ctx context.Context, fn func(pgx.Tx) error) error {
	scope := tenantctx.ScopeFromContext(ctx)
	if scope == nil {
		return ErrNoScope
	}

	acquireCtx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	conn, err := db.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin scoped tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT set_config('kakoi.project_id', $1, true)`, scope.ProjectID,
	); err != nil {
		return fmt.Errorf("storage: apply project scope: %w", err)
	}
	if ids := scope.AllowedList(); ids != nil {
		if _, err := tx.Exec(ctx,
			`SELECT set_config('kakoi.project_ids', $1, true)`, strings.Join(ids, ","),
		); err != nil {
			return fmt.Errorf("storage: apply allowed-set scope: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit scoped tx: %w", err)
	}
	return nil
}
