package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"clipworks/api_orchestrator/internal/ledger"
	"clipworks/api_orchestrator/pkg/clients/boatswain"
	"clipworks/api_orchestrator/pkg/logging"
)

type fakePublisher struct {
	mu        sync.Mutex
	scheduled []string
	promoted  []string
	err       error
}

func (f *fakePublisher) ScheduleOptimalPublish(ctx context.Context, clipID string) (*boatswain.ScheduleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.scheduled = append(f.scheduled, clipID)
	return &boatswain.ScheduleResult{ClipID: clipID, Status: "scheduled"}, nil
}

func (f *fakePublisher) AnalyzeAndPublish(ctx context.Context, clipID string) (*boatswain.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.promoted = append(f.promoted, clipID)
	return &boatswain.PublishResult{ClipID: clipID, Status: "processing"}, nil
}

type fakeReconcileRunner struct {
	checked int
	err     error
	calls   int
}

func (f *fakeReconcileRunner) ReconcileStale(ctx context.Context, sinceMinutes int) (int, error) {
	f.calls++
	return f.checked, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *recordingSink) Append(ctx context.Context, entry ledger.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func TestRetryFailedLogsConditionalUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE helmsman.publish_logs").
		WillReturnResult(sqlmock.NewResult(0, 3))

	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionRetryFailedLog, Priority: 8, Reason: "failures present"},
	}, healthySnapshot())

	if report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("expected 1 success, got %+v", report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRetryFailedLogsZeroRowsIsNoOpSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// Log already resolved by a concurrent reconciliation: zero rows.
	mock.ExpectExec("UPDATE helmsman.publish_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionRetryFailedLog, Priority: 8},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("zero-row update must be a no-op success, got %+v", report)
	}
}

func TestScheduleClipPicksOldestPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT clip_id FROM helmsman.publish_logs").
		WillReturnRows(sqlmock.NewRows([]string{"clip_id"}).AddRow("clip-old"))

	publisher := &fakePublisher{}
	e := NewExecutor(db, publisher, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionScheduleClip, Priority: 6},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", report)
	}
	if len(publisher.scheduled) != 1 || publisher.scheduled[0] != "clip-old" {
		t.Errorf("expected clip-old scheduled, got %v", publisher.scheduled)
	}
}

func TestScheduleClipNoPendingIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT clip_id FROM helmsman.publish_logs").
		WillReturnRows(sqlmock.NewRows([]string{"clip_id"}))

	publisher := &fakePublisher{}
	e := NewExecutor(db, publisher, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionScheduleClip, Priority: 6},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("empty pending set must be a no-op success, got %+v", report)
	}
	if len(publisher.scheduled) != 0 {
		t.Errorf("publisher must not be called with nothing pending")
	}
}

func TestPromoteRequiresTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := &recordingSink{}
	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, sink, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionPromoteHighScoreClip, Priority: 7},
	}, healthySnapshot())

	if report.Failed != 1 {
		t.Fatalf("expected malformed action to fail, got %+v", report)
	}
	if len(sink.entries) != 1 || sink.entries[0].EventType != ledger.EventActionFailed {
		t.Errorf("expected one action_failed ledger entry, got %+v", sink.entries)
	}
}

func TestTriggerReconciliationDelegates(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	runner := &fakeReconcileRunner{checked: 5}
	e := NewExecutor(db, &fakePublisher{}, runner, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionTriggerReconciliation, Priority: 7},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", report)
	}
	if runner.calls != 1 {
		t.Errorf("expected 1 reconcile call, got %d", runner.calls)
	}
}

func TestRebalanceQueueRunsInSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE helmsman.publish_logs").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionRebalanceQueue, Priority: 9},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmergencyRebalanceFailsOveragedJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE helmsman.publish_logs").
		WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec("UPDATE helmsman.clip_jobs").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionRebalanceQueue, Priority: 10, Payload: map[string]interface{}{"emergency": true}},
	}, healthySnapshot())

	if report.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRebalanceRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE helmsman.publish_logs").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	sink := &recordingSink{}
	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, sink, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionRebalanceQueue, Priority: 9},
	}, healthySnapshot())

	if report.Failed != 1 {
		t.Fatalf("expected failure, got %+v", report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBatchFailureDoesNotAbortSiblings(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// Promote without a target fails; reconciliation and the second
	// promote succeed regardless.
	runner := &fakeReconcileRunner{}
	e := NewExecutor(db, &fakePublisher{}, runner, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: ActionPromoteHighScoreClip, Priority: 7},
		{Type: ActionTriggerReconciliation, Priority: 7},
		{Type: ActionPromoteHighScoreClip, TargetID: "clip-x", Priority: 7},
	}, healthySnapshot())

	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %+v", report)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected a result per action, got %d", len(report.Results))
	}
}

func TestUnknownActionTypeIsActionLevelFailure(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	e := NewExecutor(db, &fakePublisher{}, &fakeReconcileRunner{}, &recordingSink{}, DefaultPolicy(), logging.NewLogger())
	report := e.Execute(context.Background(), []Action{
		{Type: "time_travel", Priority: 1},
	}, healthySnapshot())

	if report.Failed != 1 {
		t.Fatalf("expected failure for unknown action, got %+v", report)
	}
}
