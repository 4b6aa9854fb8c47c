package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kakoi/internal/model"
)

// CreateProject inserts a new project and its pending migration status in
// one transaction. Every project has a status row from onboarding on.
func (db *DB) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Project{}, fmt.Errorf("storage: begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (id, access_level, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.AccessLevel, p.Name, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Project{}, fmt.Errorf("%w: project %s", ErrDuplicate, p.ID)
		}
		return model.Project{}, fmt.Errorf("storage: create project: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO migration_status (project_id, phase, enabled, phase_entered_at)
		 VALUES ($1, $2, false, $3)`,
		p.ID, model.PhasePending, p.CreatedAt,
	)
	if err != nil {
		return model.Project{}, fmt.Errorf("storage: create migration status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Project{}, fmt.Errorf("storage: commit create project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by id.
func (db *DB) GetProject(ctx context.Context, id string) (model.Project, error) {
	var p model.Project
	err := db.pool.QueryRow(ctx,
		`SELECT id, access_level, name, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.AccessLevel, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return model.Project{}, fmt.Errorf("storage: get project: %w", err)
	}
	return p, nil
}

// ListProjects returns all registered projects ordered by id.
func (db *DB) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, access_level, name, created_at, updated_at
		 FROM projects ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.AccessLevel, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjectIDs returns all registered project ids. Used to materialize
// the allowed set for super projects; re-queried per call so registry
// changes are visible immediately.
func (db *DB) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list project ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
