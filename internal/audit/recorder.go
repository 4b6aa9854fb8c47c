// Package audit records access decisions and evaluates rollout
// eligibility from them.
//
// The recorder and the evaluator are two readers of the same ledger: the
// recorder appends what the shared decision function said about each
// access, and the evaluator aggregates those rows to decide whether a
// project may advance to a stricter phase. Neither ever re-derives the
// decision with its own logic; model.Scope.Allows is the single source.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/telemetry"
)

// DecisionStore is the slice of the storage layer the recorder writes.
type DecisionStore interface {
	InsertAccessDecision(ctx context.Context, d model.AccessDecision) error
	InsertAccessDecisions(ctx context.Context, ds []model.AccessDecision) error
}

// writeTimeout bounds a single audit insert. The write happens inside the
// request but on its own deadline, so a slow audit insert cannot hang the
// business operation it describes.
const writeTimeout = 2 * time.Second

// Recorder appends access decisions. Failures never propagate to the
// triggering business operation: they are logged, counted, and alarmed
// via the failure metric instead.
type Recorder struct {
	store  DecisionStore
	logger *slog.Logger

	failures atomic.Int64
}

// NewRecorder creates a Recorder and registers its failure metric.
func NewRecorder(store DecisionStore, logger *slog.Logger) *Recorder {
	r := &Recorder{store: store, logger: logger}

	meter := telemetry.Meter("kakoi/audit")
	_, _ = meter.Int64ObservableCounter("kakoi.audit.write_failures",
		metric.WithDescription("Audit decision writes that failed and were swallowed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.failures.Load())
			return nil
		}),
	)

	return r
}

// Record appends one access decision for scope's access to a resource
// owned by ownerID. The would-be-denied flag is computed with the same
// decision function the enforcer applies, so shadow-phase audit rows
// predict enforcing-phase behavior exactly.
//
// Nothing is recorded for pending-phase projects. Bypass use is always
// recorded, regardless of phase, and logged at Warn with the forensic
// detail attached.
//
// The write completes (or durably fails) before Record returns, so an
// eligibility evaluation that follows the call sees it; the write runs
// on its own deadline, detached from the request's cancellation, so a
// cancelled call still leaves its audit trail.
func (r *Recorder) Record(ctx context.Context, scope *model.Scope, resourceType string, op model.Operation, ownerID string, detail map[string]any) {
	if scope == nil {
		return
	}
	if !scope.Bypass && !scope.Phase.Audits() {
		return
	}

	entry := model.AccessDecision{
		ActingProjectID:        scope.ProjectID,
		ResourceType:           resourceType,
		Operation:              op,
		ResourceOwnerProjectID: ownerID,
		WouldBeDenied:          !scope.Allows(op, ownerID),
		Actor:                  scope.Actor,
		OccurredAt:             time.Now().UTC(),
		Detail:                 detail,
	}

	if scope.Bypass {
		entry.WouldBeDenied = false
		if entry.Detail == nil {
			entry.Detail = map[string]any{}
		}
		entry.Detail["bypass"] = true
		r.logger.Warn("audit: bypass identity access",
			"actor", scope.Actor,
			"resource_type", resourceType,
			"operation", op,
			"owner_project_id", ownerID)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.store.InsertAccessDecision(writeCtx, entry); err != nil {
		r.failures.Add(1)
		r.logger.Error("audit: decision write failed",
			"error", err,
			"acting_project_id", entry.ActingProjectID,
			"resource_type", resourceType,
			"operation", op)
	}
}

// Failures returns the number of swallowed write failures. Test hook and
// health reporting.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}
