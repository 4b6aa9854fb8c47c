package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kakoi/internal/model"
)

// ErrPhaseConflict is returned when a phase mutation loses a race: the
// project's current phase no longer matches what the caller observed.
var ErrPhaseConflict = errors.New("storage: migration phase changed concurrently")

// GetMigrationStatus retrieves a project's migration status.
func (db *DB) GetMigrationStatus(ctx context.Context, projectID string) (model.MigrationStatus, error) {
	var s model.MigrationStatus
	err := db.pool.QueryRow(ctx,
		`SELECT project_id, phase, enabled, phase_entered_at, completed_at
		 FROM migration_status WHERE project_id = $1`, projectID,
	).Scan(&s.ProjectID, &s.Phase, &s.Enabled, &s.PhaseEnteredAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MigrationStatus{}, fmt.Errorf("%w: migration status %s", ErrNotFound, projectID)
		}
		return model.MigrationStatus{}, fmt.Errorf("storage: get migration status: %w", err)
	}
	return s, nil
}

// ListMigrationStatus returns every project's status joined with its
// registry row, ordered by project id. Feeds the status report.
func (db *DB) ListMigrationStatus(ctx context.Context) ([]model.ProjectStatus, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT p.id, p.name, p.access_level, s.phase, s.enabled, s.phase_entered_at, s.completed_at
		 FROM projects p
		 JOIN migration_status s ON s.project_id = p.id
		 ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list migration status: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var statuses []model.ProjectStatus
	for rows.Next() {
		var ps model.ProjectStatus
		if err := rows.Scan(&ps.ProjectID, &ps.Name, &ps.AccessLevel, &ps.Phase,
			&ps.Enabled, &ps.PhaseEnteredAt, &ps.CompletedAt); err != nil {
			return nil, fmt.Errorf("storage: scan migration status: %w", err)
		}
		ps.TimeInPhase = now.Sub(ps.PhaseEnteredAt).Round(time.Second).String()
		statuses = append(statuses, ps)
	}
	return statuses, rows.Err()
}

// Phase mutations run multi-statement transactions against a row other
// writers lock, so serialization failures and deadlocks get a few
// retries before surfacing.
const (
	phaseRetries    = 3
	phaseRetryDelay = 50 * time.Millisecond
)

// SetPhaseWithAudit moves a project from phase `from` to phase `to` and
// appends the audit row in the same transaction. The phase check is a
// compare-and-set: if the current phase is no longer `from`, the update
// affects zero rows and ErrPhaseConflict is returned. ErrPhaseConflict
// is a lost race, not a transient failure, so it is never retried.
func (db *DB) SetPhaseWithAudit(ctx context.Context, projectID string, from, to model.Phase, audit model.AccessDecision) error {
	return WithRetry(ctx, phaseRetries, phaseRetryDelay, func() error {
		return db.setPhaseWithAudit(ctx, projectID, from, to, audit)
	})
}

func (db *DB) setPhaseWithAudit(ctx context.Context, projectID string, from, to model.Phase, audit model.AccessDecision) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin phase change: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	enabled := to.Enforces()
	var completedAt *time.Time
	if to == model.PhaseComplete {
		completedAt = &now
	}

	tag, err := tx.Exec(ctx,
		`UPDATE migration_status
		 SET phase = $1, enabled = $2, phase_entered_at = $3, completed_at = $4
		 WHERE project_id = $5 AND phase = $6`,
		to, enabled, now, completedAt, projectID, from,
	)
	if err != nil {
		return fmt.Errorf("storage: set phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the project has no status row or another transition won.
		if _, err := db.GetMigrationStatus(ctx, projectID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is no longer %s", ErrPhaseConflict, projectID, from)
	}

	if err := insertAccessDecision(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit phase change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit phase change: %w", err)
	}
	return nil
}

// RollbackToPending is the emergency path: it unconditionally moves a
// project back to pending with enforcement disabled, audited in the same
// transaction. Idempotent: a project already pending commits no update
// and no audit row (a duplicate no-op entry would corrupt volume counts).
// Returns true if a rollback actually happened.
func (db *DB) RollbackToPending(ctx context.Context, projectID string, audit model.AccessDecision) (bool, error) {
	var rolledBack bool
	err := WithRetry(ctx, phaseRetries, phaseRetryDelay, func() error {
		var err error
		rolledBack, err = db.rollbackToPending(ctx, projectID, audit)
		return err
	})
	return rolledBack, err
}

func (db *DB) rollbackToPending(ctx context.Context, projectID string, audit model.AccessDecision) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin rollback: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var phase model.Phase
	err = tx.QueryRow(ctx,
		`SELECT phase FROM migration_status WHERE project_id = $1 FOR UPDATE`,
		projectID,
	).Scan(&phase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: migration status %s", ErrNotFound, projectID)
		}
		return false, fmt.Errorf("storage: lock migration status: %w", err)
	}

	if phase == model.PhasePending {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE migration_status
		 SET phase = $1, enabled = false, phase_entered_at = $2, completed_at = NULL
		 WHERE project_id = $3`,
		model.PhasePending, time.Now().UTC(), projectID,
	)
	if err != nil {
		return false, fmt.Errorf("storage: rollback phase: %w", err)
	}

	if err := insertAccessDecision(ctx, tx, audit); err != nil {
		return false, fmt.Errorf("storage: audit rollback: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit rollback: %w", err)
	}
	return true, nil
}
