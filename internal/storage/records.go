package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/tenantctx"
)

// CreateRecord inserts a record owned by the acting project. Ownership
// comes from the established scope, never from the request body.
func (db *DB) CreateRecord(ctx context.Context, kind string, body []byte) (model.Record, error) {
	scope := tenantctx.ScopeFromContext(ctx)
	if scope == nil {
		return model.Record{}, ErrNoScope
	}

	rec := model.Record{
		ID:        uuid.New(),
		ProjectID: scope.ProjectID,
		Kind:      kind,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt

	err := db.WithScope(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO records (id, project_id, kind, body, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
			rec.ID, rec.ProjectID, rec.Kind, rec.Body, rec.CreatedAt, rec.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNoScope) {
			return model.Record{}, err
		}
		return model.Record{}, fmt.Errorf("storage: create record: %w", err)
	}
	return rec, nil
}

// GetRecord retrieves a record by id inside a scoped transaction without
// applying the visibility decision. The caller applies the shared
// decision function, audits the outcome, and maps denied reads to
// ErrNotFound so cross-tenant lookups are indistinguishable from
// nonexistent ids. The owner must be visible here even for denied
// accesses: the audit row records who owned the resource.
func (db *DB) GetRecord(ctx context.Context, id uuid.UUID) (model.Record, error) {
	var rec model.Record
	err := db.WithScope(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT id, project_id, kind, body, created_at, updated_at
			 FROM records WHERE id = $1`, id,
		).Scan(&rec.ID, &rec.ProjectID, &rec.Kind, &rec.Body, &rec.CreatedAt, &rec.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, fmt.Errorf("%w: record %s", ErrNotFound, id)
		}
		if errors.Is(err, ErrNoScope) {
			return model.Record{}, err
		}
		return model.Record{}, fmt.Errorf("storage: get record: %w", err)
	}
	return rec, nil
}

// ListRecords returns records visible under the established scope. While
// the acting project's enforcement is active the query is filtered to the
// allowed set; before that (pending/shadow) it preserves legacy unscoped
// behavior so rollout cannot change results before the evidence gate
// passes.
func (db *DB) ListRecords(ctx context.Context, limit, offset int) ([]model.Record, error) {
	scope := tenantctx.ScopeFromContext(ctx)
	if scope == nil {
		return nil, ErrNoScope
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, project_id, kind, body, created_at, updated_at
	          FROM records ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	args := []any{limit, offset}
	if scope.Enforce {
		if ids := scope.AllowedList(); ids != nil {
			query = `SELECT id, project_id, kind, body, created_at, updated_at
			         FROM records WHERE project_id = ANY($3)
			         ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
			args = append(args, ids)
		}
	}

	var records []model.Record
	err := db.WithScope(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec model.Record
			if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Kind, &rec.Body,
				&rec.CreatedAt, &rec.UpdatedAt); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, ErrNoScope) {
			return nil, err
		}
		return nil, fmt.Errorf("storage: list records: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a record by id. The caller has already applied the
// decision function and audited; while enforcement is active the delete
// is additionally constrained to the acting project's own rows, so a
// stale decision can never remove another tenant's data.
func (db *DB) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	scope := tenantctx.ScopeFromContext(ctx)
	if scope == nil {
		return ErrNoScope
	}

	query := `DELETE FROM records WHERE id = $1`
	args := []any{id}
	if scope.Enforce {
		query = `DELETE FROM records WHERE id = $1 AND project_id = $2`
		args = append(args, scope.ProjectID)
	}

	err := db.WithScope(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: record %s", ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoScope) {
			return err
		}
		return fmt.Errorf("storage: delete record: %w", err)
	}
	return nil
}
