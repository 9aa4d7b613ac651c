package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"clipworks/api_orchestrator/internal/ledger"
	"clipworks/api_orchestrator/pkg/clients/boatswain"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

// PublishingService is the collaborator that owns the actual platform
// publish pipeline. Both calls are idempotent per clip/platform pair.
type PublishingService interface {
	ScheduleOptimalPublish(ctx context.Context, clipID string) (*boatswain.ScheduleResult, error)
	AnalyzeAndPublish(ctx context.Context, clipID string) (*boatswain.PublishResult, error)
}

// ReconcileRunner triggers a synchronous reconciliation pass
type ReconcileRunner interface {
	ReconcileStale(ctx context.Context, sinceMinutes int) (checked int, err error)
}

// ActionResult is the outcome of one dispatched action
type ActionResult struct {
	Action  Action `json:"action"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecutionReport aggregates the per-action outcomes of one cycle
type ExecutionReport struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []ActionResult `json:"results"`
}

// Executor dispatches actions to their handlers. Actions within a batch
// run concurrently; one failure never aborts its siblings.
type Executor struct {
	db         *sql.DB
	publisher  PublishingService
	reconciler ReconcileRunner
	sink       ledger.Sink
	policy     Policy
	logger     logging.Logger
}

// NewExecutor creates an executor
func NewExecutor(db *sql.DB, publisher PublishingService, reconciler ReconcileRunner, sink ledger.Sink, policy Policy, logger logging.Logger) *Executor {
	return &Executor{
		db:         db,
		publisher:  publisher,
		reconciler: reconciler,
		sink:       sink,
		policy:     policy,
		logger:     logger,
	}
}

// Execute fans the actions out, collects one result per action, and
// returns the aggregate report. Individual handler failures are captured
// into the report and emitted as action_failed ledger entries.
func (e *Executor) Execute(ctx context.Context, actions []Action, snapshot *SystemSnapshot) *ExecutionReport {
	report := &ExecutionReport{
		Results: make([]ActionResult, len(actions)),
	}

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action Action) {
			defer wg.Done()

			detail, err := e.dispatch(ctx, action, snapshot)
			result := ActionResult{Action: action, Success: err == nil, Detail: detail}
			if err != nil {
				result.Error = err.Error()
				e.logger.WithError(err).WithFields(logging.Fields{
					"action_type": action.Type,
					"target_id":   action.TargetID,
				}).Error("Action failed")
			}
			report.Results[i] = result
		}(i, action)
	}
	wg.Wait()

	for _, result := range report.Results {
		if result.Success {
			report.Succeeded++
			continue
		}
		report.Failed++
		e.sink.Append(ctx, ledger.Entry{
			EventType:  ledger.EventActionFailed,
			Severity:   ledger.SeverityError,
			EntityType: "action",
			EntityID:   result.Action.TargetID,
			Metadata: models.JSONB{
				"action_type": result.Action.Type,
				"reason":      result.Action.Reason,
				"error":       result.Error,
			},
		})
	}

	return report
}

func (e *Executor) dispatch(ctx context.Context, action Action, snapshot *SystemSnapshot) (string, error) {
	switch action.Type {
	case ActionScheduleClip:
		return e.scheduleClip(ctx, action)
	case ActionRetryFailedLog:
		return e.retryFailedLogs(ctx, action)
	case ActionTriggerReconciliation:
		return e.triggerReconciliation(ctx)
	case ActionPromoteHighScoreClip:
		return e.promoteClip(ctx, action)
	case ActionDowngradeLowScoreClip:
		return e.downgradeClip(ctx, action)
	case ActionForcePublish:
		return e.forcePublish(ctx, action)
	case ActionRebalanceQueue:
		return e.rebalanceQueue(ctx, action)
	default:
		return "", fmt.Errorf("unknown action type %q", action.Type)
	}
}

// scheduleClip delegates slot selection to the publishing service. With
// no explicit target it picks the oldest pending publish; an empty
// pending set is a no-op success.
func (e *Executor) scheduleClip(ctx context.Context, action Action) (string, error) {
	clipID := action.TargetID
	if clipID == "" {
		err := e.db.QueryRowContext(ctx, `
			SELECT clip_id FROM helmsman.publish_logs
			WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1`).Scan(&clipID)
		if err == sql.ErrNoRows {
			return "no pending publishes to schedule", nil
		}
		if err != nil {
			return "", fmt.Errorf("pick pending clip: %w", err)
		}
	}

	result, err := e.publisher.ScheduleOptimalPublish(ctx, clipID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("clip %s scheduled: %s", clipID, result.Status), nil
}

// retryFailedLogs flips failed logs back to retry. The status guard makes
// re-application against already-moved state a benign no-op.
func (e *Executor) retryFailedLogs(ctx context.Context, action Action) (string, error) {
	query := `
		UPDATE helmsman.publish_logs
		SET status = 'retry', retry_count = retry_count + 1, updated_at = NOW()
		WHERE status = 'failed'`
	args := []interface{}{}
	if action.TargetID != "" {
		query += ` AND id = $1`
		args = append(args, action.TargetID)
	}

	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("retry failed logs: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return "no failed logs to retry", nil
	}
	return fmt.Sprintf("%d logs queued for retry", affected), nil
}

func (e *Executor) triggerReconciliation(ctx context.Context) (string, error) {
	sinceMinutes := int(e.policy.ReconcileAfter.Minutes())
	checked, err := e.reconciler.ReconcileStale(ctx, sinceMinutes)
	if err != nil {
		return "", fmt.Errorf("reconciliation: %w", err)
	}
	return fmt.Sprintf("reconciled %d stale publish logs", checked), nil
}

func (e *Executor) promoteClip(ctx context.Context, action Action) (string, error) {
	if action.TargetID == "" {
		return "", fmt.Errorf("promote action missing target clip")
	}

	result, err := e.publisher.AnalyzeAndPublish(ctx, action.TargetID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("clip %s promoted: %s", action.TargetID, result.Status), nil
}

// downgradeClip pushes the clip's publish slot forward. The new time is
// computed from NOW, not the prior value, so repeated downgrades in
// quick succession do not stack.
func (e *Executor) downgradeClip(ctx context.Context, action Action) (string, error) {
	if action.TargetID == "" {
		return "", fmt.Errorf("downgrade action missing target clip")
	}

	result, err := e.db.ExecContext(ctx, `
		UPDATE helmsman.publish_logs
		SET scheduled_at = NOW() + $2::interval, updated_at = NOW()
		WHERE clip_id = $1 AND status IN ('pending', 'scheduled')`,
		action.TargetID, fmt.Sprintf("%d seconds", int(e.policy.DowngradePush.Seconds())))
	if err != nil {
		return "", fmt.Errorf("downgrade clip: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return "clip already moved on, nothing to downgrade", nil
	}
	return fmt.Sprintf("pushed %d publish slots forward", affected), nil
}

// forcePublish clears schedules so stuck items go out on the next pass
func (e *Executor) forcePublish(ctx context.Context, action Action) (string, error) {
	query := `
		UPDATE helmsman.publish_logs
		SET scheduled_at = NULL, status = 'pending', updated_at = NOW()
		WHERE status = 'scheduled'`
	args := []interface{}{}
	if action.TargetID != "" {
		query += ` AND id = $1`
		args = append(args, action.TargetID)
	}

	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("force publish: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return "nothing scheduled to force", nil
	}
	return fmt.Sprintf("forced %d logs back to pending", affected), nil
}

// rebalanceQueue redistributes pending publish slots evenly. The whole
// redistribution runs in one transaction so a failure leaves no partial
// reshuffle. The emergency variant also fails jobs pending beyond the
// policy age.
func (e *Executor) rebalanceQueue(ctx context.Context, action Action) (string, error) {
	emergency := false
	if action.Payload != nil {
		if v, ok := action.Payload["emergency"].(bool); ok {
			emergency = v
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin rebalance: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE helmsman.publish_logs p
		SET scheduled_at = NOW() + (r.rn * $1::interval), updated_at = NOW()
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY created_at ASC) AS rn
			FROM helmsman.publish_logs WHERE status = 'pending'
		) r
		WHERE p.id = r.id AND p.status = 'pending'`,
		"300 seconds")
	if err != nil {
		return "", fmt.Errorf("redistribute pending publishes: %w", err)
	}
	rebalanced, _ := result.RowsAffected()

	var failed int64
	if emergency {
		result, err := tx.ExecContext(ctx, `
			UPDATE helmsman.clip_jobs
			SET status = 'failed', updated_at = NOW()
			WHERE status = 'pending' AND created_at < NOW() - $1::interval`,
			fmt.Sprintf("%d seconds", int(e.policy.EmergencyPendingAge.Seconds())))
		if err != nil {
			return "", fmt.Errorf("fail overaged jobs: %w", err)
		}
		failed, _ = result.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit rebalance: %w", err)
	}

	if emergency {
		return fmt.Sprintf("rebalanced %d publishes, failed %d overaged jobs", rebalanced, failed), nil
	}
	return fmt.Sprintf("rebalanced %d publishes", rebalanced), nil
}
