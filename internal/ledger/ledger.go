package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipworks/api_orchestrator/pkg/kafka"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

// Event types written by the orchestrator and reconciler
const (
	EventCycleCompleted    = "cycle_completed"
	EventCycleIdle         = "cycle_idle"
	EventCycleError        = "cycle_error"
	EventActionFailed      = "action_failed"
	EventPublishReconciled = "publish_reconciled"
	EventLoopStarted       = "loop_started"
	EventLoopStopped       = "loop_stopped"
)

// Severities
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Entry is one append-only audit record
type Entry struct {
	EventType  string       `json:"event_type"`
	Severity   string       `json:"severity"`
	EntityType string       `json:"entity_type,omitempty"`
	EntityID   string       `json:"entity_id,omitempty"`
	Metadata   models.JSONB `json:"metadata,omitempty"`
}

// Sink is the write-side contract consumed by the runner, executor and
// reconciler. Append is fire-and-forget: implementations never return an
// error because a failed audit write must not abort orchestration.
type Sink interface {
	Append(ctx context.Context, entry Entry)
}

// EventProducer is the subset of the Kafka producer the ledger fans out to
type EventProducer interface {
	PublishOrchestrationEvent(event kafka.OrchestrationEvent) error
}

// Ledger writes audit entries to Postgres and fans them out to the event
// bus. Both writes are best-effort.
type Ledger struct {
	db       *sql.DB
	producer EventProducer
	logger   logging.Logger
}

// NewLedger creates a ledger. producer may be nil when the event bus is
// not configured.
func NewLedger(db *sql.DB, producer EventProducer, logger logging.Logger) *Ledger {
	return &Ledger{
		db:       db,
		producer: producer,
		logger:   logger,
	}
}

// Append records one entry. Failures are logged and swallowed.
func (l *Ledger) Append(ctx context.Context, entry Entry) {
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Metadata == nil {
		entry.Metadata = models.JSONB{}
	}

	entryID := uuid.New().String()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO helmsman.orchestration_ledger (id, event_type, severity, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entryID, entry.EventType, entry.Severity,
		nullable(entry.EntityType), nullable(entry.EntityID), entry.Metadata)
	if err != nil {
		l.logger.WithError(err).WithFields(logging.Fields{
			"event_type": entry.EventType,
			"severity":   entry.Severity,
		}).Error("Failed to append ledger entry")
	}

	if l.producer == nil {
		return
	}

	data := make(map[string]interface{}, len(entry.Metadata))
	for k, v := range entry.Metadata {
		data[k] = v
	}

	if err := l.producer.PublishOrchestrationEvent(kafka.OrchestrationEvent{
		EventID:    entryID,
		EventType:  entry.EventType,
		Severity:   entry.Severity,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}); err != nil {
		l.logger.WithError(err).WithField("event_type", entry.EventType).Warn("Failed to publish ledger event to kafka")
	}
}

// ErrorCountSince counts error-severity entries in the trailing window.
// Feeds the monitor's health score.
func (l *Ledger) ErrorCountSince(ctx context.Context, window time.Duration) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM helmsman.orchestration_ledger
		WHERE severity = 'error' AND created_at > NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ledger errors: %w", err)
	}
	return count, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
