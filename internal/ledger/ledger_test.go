package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"clipworks/api_orchestrator/pkg/kafka"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

type fakeProducer struct {
	events []kafka.OrchestrationEvent
	err    error
}

func (f *fakeProducer) PublishOrchestrationEvent(event kafka.OrchestrationEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func TestAppendWritesRowAndPublishesEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO helmsman.orchestration_ledger").
		WithArgs(sqlmock.AnyArg(), "cycle_completed", "info", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	producer := &fakeProducer{}
	l := NewLedger(db, producer, logging.NewLogger())

	l.Append(context.Background(), Entry{
		EventType: EventCycleCompleted,
		Metadata:  models.JSONB{"actions": 3},
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if len(producer.events) != 1 {
		t.Fatalf("expected 1 kafka event, got %d", len(producer.events))
	}
	if producer.events[0].EventType != "cycle_completed" {
		t.Errorf("unexpected event type: %s", producer.events[0].EventType)
	}
	if producer.events[0].Severity != "info" {
		t.Errorf("expected default severity info, got %s", producer.events[0].Severity)
	}
}

func TestAppendSwallowsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO helmsman.orchestration_ledger").
		WillReturnError(errors.New("connection refused"))

	l := NewLedger(db, nil, logging.NewLogger())

	// Must not panic or surface the error.
	l.Append(context.Background(), Entry{EventType: EventCycleError, Severity: SeverityError})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendSwallowsKafkaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO helmsman.orchestration_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))

	producer := &fakeProducer{err: errors.New("brokers unreachable")}
	l := NewLedger(db, producer, logging.NewLogger())

	l.Append(context.Background(), Entry{
		EventType:  EventPublishReconciled,
		Severity:   SeverityWarn,
		EntityType: "publish_log",
		EntityID:   "log-1",
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestErrorCountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM helmsman.orchestration_ledger").
		WithArgs("3600 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	l := NewLedger(db, nil, logging.NewLogger())
	count, err := l.ErrorCountSince(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ErrorCountSince: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 errors, got %d", count)
	}
}
