package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kakoi/internal/model"
)

// CreateActor inserts a new actor identity.
func (db *DB) CreateActor(ctx context.Context, a model.Actor) (model.Actor, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO actors (id, actor_id, role, project_id, api_key_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ActorID, a.Role, a.ProjectID, a.APIKeyHash, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Actor{}, fmt.Errorf("%w: actor %s", ErrDuplicate, a.ActorID)
		}
		return model.Actor{}, fmt.Errorf("storage: create actor: %w", err)
	}
	return a, nil
}

// GetActorByActorID retrieves an actor by its external identifier.
func (db *DB) GetActorByActorID(ctx context.Context, actorID string) (model.Actor, error) {
	var a model.Actor
	err := db.pool.QueryRow(ctx,
		`SELECT id, actor_id, role, project_id, api_key_hash, created_at, updated_at
		 FROM actors WHERE actor_id = $1`, actorID,
	).Scan(&a.ID, &a.ActorID, &a.Role, &a.ProjectID, &a.APIKeyHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Actor{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
		}
		return model.Actor{}, fmt.Errorf("storage: get actor: %w", err)
	}
	return a, nil
}

// EnsureBootstrapAdmin creates the initial admin actor if no actor with
// that id exists yet. Idempotent across restarts.
func (db *DB) EnsureBootstrapAdmin(ctx context.Context, actorID, apiKeyHash string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO actors (id, actor_id, role, api_key_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (actor_id) DO NOTHING`,
		uuid.New(), actorID, model.RoleAdmin, apiKeyHash,
	)
	if err != nil {
		return fmt.Errorf("storage: ensure bootstrap admin: %w", err)
	}
	return nil
}
