package reconciler

import (
	"context"
	"database/sql"
	"fmt"

	"clipworks/api_orchestrator/internal/ledger"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

// Report summarizes one reconciliation pass
type Report struct {
	TotalChecked  int      `json:"total_checked"`
	MarkedSuccess int      `json:"marked_success"`
	MarkedFailed  int      `json:"marked_failed"`
	Skipped       int      `json:"skipped"`
	SuccessIDs    []string `json:"success_ids"`
	FailedIDs     []string `json:"failed_ids"`
}

// Reconciler resolves publish attempts stuck in an indeterminate state
// past their webhook deadline. Safe to run concurrently with the
// orchestration loop and with webhook delivery: every transition
// re-checks the record's status at write time.
type Reconciler struct {
	db     *sql.DB
	sink   ledger.Sink
	logger logging.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(db *sql.DB, sink ledger.Sink, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:     db,
		sink:   sink,
		logger: logger,
	}
}

type staleLog struct {
	id       string
	status   string
	metadata models.JSONB
}

// Reconcile scans publish logs stuck in processing or retry for longer
// than sinceMinutes and resolves each to a terminal state. Records whose
// status moved between scan and write are counted as skipped.
func (r *Reconciler) Reconcile(ctx context.Context, sinceMinutes int) (*Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, extra_metadata
		FROM helmsman.publish_logs
		WHERE status IN ('processing', 'retry')
		  AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC`,
		fmt.Sprintf("%d minutes", sinceMinutes))
	if err != nil {
		return nil, fmt.Errorf("select stale publish logs: %w", err)
	}
	defer rows.Close()

	var stale []staleLog
	for rows.Next() {
		var log staleLog
		if err := rows.Scan(&log.id, &log.status, &log.metadata); err != nil {
			return nil, fmt.Errorf("scan stale publish log: %w", err)
		}
		stale = append(stale, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale publish logs: %w", err)
	}

	report := &Report{
		TotalChecked: len(stale),
		SuccessIDs:   []string{},
		FailedIDs:    []string{},
	}

	for _, log := range stale {
		confirmed := log.metadata.Bool(models.MetaWebhookReceived) &&
			log.metadata.String(models.MetaWebhookStatus) == "published"

		var resolved bool
		var err error
		if confirmed {
			resolved, err = r.markSuccess(ctx, log)
		} else {
			resolved, err = r.markFailed(ctx, log, sinceMinutes)
		}
		if err != nil {
			return nil, err
		}

		if !resolved {
			report.Skipped++
			continue
		}

		if confirmed {
			report.MarkedSuccess++
			report.SuccessIDs = append(report.SuccessIDs, log.id)
		} else {
			report.MarkedFailed++
			report.FailedIDs = append(report.FailedIDs, log.id)
		}
	}

	r.logger.WithFields(logging.Fields{
		"since_minutes":  sinceMinutes,
		"total_checked":  report.TotalChecked,
		"marked_success": report.MarkedSuccess,
		"marked_failed":  report.MarkedFailed,
		"skipped":        report.Skipped,
	}).Info("Reconciliation pass completed")

	return report, nil
}

// ReconcileStale is the narrow form the executor's reconciliation action
// consumes.
func (r *Reconciler) ReconcileStale(ctx context.Context, sinceMinutes int) (int, error) {
	report, err := r.Reconcile(ctx, sinceMinutes)
	if err != nil {
		return 0, err
	}
	return report.TotalChecked, nil
}

// markSuccess confirms a publish from its webhook signal. The status
// guard keeps a concurrent webhook handler or reconciliation pass from
// being overwritten; zero rows means someone else resolved it first.
func (r *Reconciler) markSuccess(ctx context.Context, log staleLog) (bool, error) {
	annotations := models.JSONB{
		models.MetaReconciled:           true,
		models.MetaReconciliationReason: "webhook_confirmed",
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE helmsman.publish_logs
		SET status = 'success', extra_metadata = extra_metadata || $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('processing', 'retry')`,
		log.id, annotations)
	if err != nil {
		return false, fmt.Errorf("mark publish log %s success: %w", log.id, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	r.sink.Append(ctx, ledger.Entry{
		EventType:  ledger.EventPublishReconciled,
		Severity:   ledger.SeverityInfo,
		EntityType: "publish_log",
		EntityID:   log.id,
		Metadata: models.JSONB{
			"resolution": "success",
			"reason":     "webhook_confirmed",
		},
	})
	return true, nil
}

// markFailed resolves a publish whose webhook never arrived, or arrived
// with a non-published status.
func (r *Reconciler) markFailed(ctx context.Context, log staleLog, sinceMinutes int) (bool, error) {
	annotations := models.JSONB{
		models.MetaReconciled:           true,
		models.MetaReconciliationReason: "webhook_timeout",
	}
	errorMessage := fmt.Sprintf("No webhook received after %d minutes", sinceMinutes)

	result, err := r.db.ExecContext(ctx, `
		UPDATE helmsman.publish_logs
		SET status = 'failed', error_message = $2, extra_metadata = extra_metadata || $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('processing', 'retry')`,
		log.id, errorMessage, annotations)
	if err != nil {
		return false, fmt.Errorf("mark publish log %s failed: %w", log.id, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	r.sink.Append(ctx, ledger.Entry{
		EventType:  ledger.EventPublishReconciled,
		Severity:   ledger.SeverityWarn,
		EntityType: "publish_log",
		EntityID:   log.id,
		Metadata: models.JSONB{
			"resolution": "failed",
			"reason":     "webhook_timeout",
			"error":      errorMessage,
		},
	})
	return true, nil
}
