package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kakoi/internal/model"
)

// CreateReadGrant inserts a reader→target read grant. Grants convey read
// visibility only, never write access.
func (db *DB) CreateReadGrant(ctx context.Context, g model.ReadGrant) (model.ReadGrant, error) {
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO read_grants (reader_project_id, target_project_id, granted_by, granted_at)
		 VALUES ($1, $2, $3, $4)`,
		g.ReaderProjectID, g.TargetProjectID, g.GrantedBy, g.GrantedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ReadGrant{}, fmt.Errorf("%w: grant %s->%s", ErrDuplicate, g.ReaderProjectID, g.TargetProjectID)
		}
		return model.ReadGrant{}, fmt.Errorf("storage: create read grant: %w", err)
	}
	return g, nil
}

// DeleteReadGrant removes a reader→target grant.
func (db *DB) DeleteReadGrant(ctx context.Context, readerID, targetID string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM read_grants WHERE reader_project_id = $1 AND target_project_id = $2`,
		readerID, targetID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete read grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grant %s->%s", ErrNotFound, readerID, targetID)
	}
	return nil
}

// ListGrantTargets returns the project ids readerID has been granted to
// read, ordered by target id.
func (db *DB) ListGrantTargets(ctx context.Context, readerID string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT target_project_id FROM read_grants
		 WHERE reader_project_id = $1 ORDER BY target_project_id`,
		readerID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grant targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("storage: scan grant target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ListGrants returns all grants, ordered by reader then target. Used by
// the admin surface.
func (db *DB) ListGrants(ctx context.Context) ([]model.ReadGrant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT reader_project_id, target_project_id, granted_by, granted_at
		 FROM read_grants ORDER BY reader_project_id, target_project_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants: %w", err)
	}
	defer rows.Close()

	var grants []model.ReadGrant
	for rows.Next() {
		var g model.ReadGrant
		if err := rows.Scan(&g.ReaderProjectID, &g.TargetProjectID, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("storage: scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
