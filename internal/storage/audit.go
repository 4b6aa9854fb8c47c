package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kakoi/internal/model"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertAccessDecision appends one audit row using q, which may be the
// pool or an open transaction. The target table is append-only.
func insertAccessDecision(ctx context.Context, q execer, d model.AccessDecision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.OccurredAt.IsZero() {
		d.OccurredAt = time.Now().UTC()
	}

	var detailJSON []byte
	if d.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(d.Detail)
		if err != nil {
			return fmt.Errorf("storage: marshal decision detail: %w", err)
		}
	}

	_, err := q.Exec(ctx,
		`INSERT INTO access_decisions (
		     id, acting_project_id, resource_type, operation,
		     resource_owner_project_id, would_be_denied, actor, occurred_at, detail
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)`,
		d.ID, d.ActingProjectID, d.ResourceType, d.Operation,
		d.ResourceOwnerProjectID, d.WouldBeDenied, d.Actor, d.OccurredAt, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert access decision: %w", err)
	}
	return nil
}

// InsertAccessDecision appends one audit row outside any transaction.
func (db *DB) InsertAccessDecision(ctx context.Context, d model.AccessDecision) error {
	return insertAccessDecision(ctx, db.pool, d)
}

// InsertAccessDecisions appends a batch of audit rows in one transaction.
// Used by the buffered recorder's flush path.
func (db *DB) InsertAccessDecisions(ctx context.Context, decisions []model.AccessDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin decision batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, d := range decisions {
		if err := insertAccessDecision(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit decision batch: %w", err)
	}
	return nil
}

// CountDecisionsSince aggregates a project's audit volume and violation
// count since the given time. Drives eligibility evaluation; computed
// fresh on every call, never cached.
func (db *DB) CountDecisionsSince(ctx context.Context, projectID string, since time.Time) (model.DecisionCounts, error) {
	var c model.DecisionCounts
	err := db.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE would_be_denied)
		 FROM access_decisions
		 WHERE acting_project_id = $1 AND occurred_at >= $2`,
		projectID, since,
	).Scan(&c.Total, &c.Violations)
	if err != nil {
		return model.DecisionCounts{}, fmt.Errorf("storage: count decisions: %w", err)
	}
	return c, nil
}

// ViolationBreakdownSince returns a project's would-be-denied counts
// grouped by resource type and operation since the given time.
func (db *DB) ViolationBreakdownSince(ctx context.Context, projectID string, since time.Time) ([]model.ViolationCount, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT resource_type, operation, count(*)
		 FROM access_decisions
		 WHERE acting_project_id = $1 AND occurred_at >= $2 AND would_be_denied
		 GROUP BY resource_type, operation
		 ORDER BY count(*) DESC, resource_type, operation`,
		projectID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: violation breakdown: %w", err)
	}
	defer rows.Close()

	var breakdown []model.ViolationCount
	for rows.Next() {
		var v model.ViolationCount
		if err := rows.Scan(&v.ResourceType, &v.Operation, &v.Count); err != nil {
			return nil, fmt.Errorf("storage: scan violation count: %w", err)
		}
		breakdown = append(breakdown, v)
	}
	return breakdown, rows.Err()
}

// ListRecentDecisions returns a project's most recent audit rows, newest
// first. Operator forensics surface.
func (db *DB) ListRecentDecisions(ctx context.Context, projectID string, limit int) ([]model.AccessDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, acting_project_id, resource_type, operation,
		        resource_owner_project_id, would_be_denied, actor, occurred_at, detail
		 FROM access_decisions
		 WHERE acting_project_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.AccessDecision
	for rows.Next() {
		var d model.AccessDecision
		var detailJSON []byte
		if err := rows.Scan(&d.ID, &d.ActingProjectID, &d.ResourceType, &d.Operation,
			&d.ResourceOwnerProjectID, &d.WouldBeDenied, &d.Actor, &d.OccurredAt, &detailJSON); err != nil {
			return nil, fmt.Errorf("storage: scan access decision: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &d.Detail); err != nil {
				return nil, fmt.Errorf("storage: unmarshal decision detail: %w", err)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
