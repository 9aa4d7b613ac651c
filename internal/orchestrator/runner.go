package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clipworks/api_orchestrator/internal/ledger"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

// SnapshotBuilder produces the cycle's input
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context) (*SystemSnapshot, error)
}

// ActionDecider maps a snapshot to actions
type ActionDecider interface {
	Decide(snapshot *SystemSnapshot) []Action
}

// ActionExecutor runs an action batch
type ActionExecutor interface {
	Execute(ctx context.Context, actions []Action, snapshot *SystemSnapshot) *ExecutionReport
}

// CycleResult is the outcome of one orchestration cycle
type CycleResult struct {
	Snapshot  *SystemSnapshot  `json:"snapshot"`
	Actions   []Action         `json:"decision"`
	Report    *ExecutionReport `json:"execution"`
	Timestamp time.Time        `json:"timestamp"`
}

// Runner owns the orchestration loop lifecycle. Cycles are strictly
// serialized: the cycle mutex guarantees a RunOnce call can never overlap
// a background cycle, and vice versa.
type Runner struct {
	monitor  SnapshotBuilder
	decider  ActionDecider
	executor ActionExecutor
	sink     ledger.Sink
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cycleMu sync.Mutex
}

// NewRunner creates a stopped runner
func NewRunner(monitor SnapshotBuilder, decider ActionDecider, executor ActionExecutor, sink ledger.Sink, interval time.Duration, logger logging.Logger) *Runner {
	return &Runner{
		monitor:  monitor,
		decider:  decider,
		executor: executor,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background loop. No-op when already running;
// returns whether this call started the loop.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(r.stopCh)

	r.logger.WithField("interval", r.interval.String()).Info("Orchestration loop started")
	r.sink.Append(context.Background(), ledger.Entry{
		EventType: ledger.EventLoopStarted,
		Metadata:  models.JSONB{"interval_seconds": int(r.interval.Seconds())},
	})
	return true
}

// Stop signals the loop and waits for the in-flight cycle to complete.
// Cooperative: takes effect between cycles. No-op when already stopped.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	r.logger.Info("Orchestration loop stopped")
	r.sink.Append(context.Background(), ledger.Entry{EventType: ledger.EventLoopStopped})
}

// Running reports whether the background loop is active
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Interval returns the configured cycle interval
func (r *Runner) Interval() time.Duration {
	return r.interval
}

func (r *Runner) loop(stopCh chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := r.runCycle(context.Background()); err != nil {
				r.logger.WithError(err).Error("Orchestration cycle failed")
			}
		}
	}
}

// RunOnce executes exactly one cycle synchronously, whether or not the
// background loop is running. Blocks until any in-flight cycle finishes.
func (r *Runner) RunOnce(ctx context.Context) (*CycleResult, error) {
	return r.runCycle(ctx)
}

// runCycle is the only place a cycle executes. Nothing escapes it: errors
// and panics become cycle_error ledger entries and the loop moves on.
func (r *Runner) runCycle(ctx context.Context) (result *CycleResult, err error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panic: %v", rec)
			r.logger.WithField("panic", fmt.Sprintf("%v", rec)).Error("Recovered from cycle panic")
			r.sink.Append(ctx, ledger.Entry{
				EventType: ledger.EventCycleError,
				Severity:  ledger.SeverityError,
				Metadata:  models.JSONB{"error": fmt.Sprintf("panic: %v", rec)},
			})
		}
	}()

	started := time.Now().UTC()

	snapshot, err := r.monitor.BuildSnapshot(ctx)
	if err != nil {
		r.sink.Append(ctx, ledger.Entry{
			EventType: ledger.EventCycleError,
			Severity:  ledger.SeverityError,
			Metadata:  models.JSONB{"error": err.Error(), "stage": "snapshot"},
		})
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	actions := r.decider.Decide(snapshot)

	if len(actions) == 0 {
		r.sink.Append(ctx, ledger.Entry{
			EventType: ledger.EventCycleIdle,
			Metadata: models.JSONB{
				"health_score":  snapshot.HealthScore,
				"health_status": snapshot.HealthStatus,
			},
		})
		return &CycleResult{
			Snapshot:  snapshot,
			Actions:   []Action{},
			Report:    &ExecutionReport{Results: []ActionResult{}},
			Timestamp: started,
		}, nil
	}

	report := r.executor.Execute(ctx, actions, snapshot)

	r.sink.Append(ctx, ledger.Entry{
		EventType: ledger.EventCycleCompleted,
		Metadata: models.JSONB{
			"health_score":  snapshot.HealthScore,
			"health_status": snapshot.HealthStatus,
			"actions":       len(actions),
			"succeeded":     report.Succeeded,
			"failed":        report.Failed,
			"duration_ms":   time.Since(started).Milliseconds(),
		},
	})

	r.logger.WithFields(logging.Fields{
		"actions":      len(actions),
		"succeeded":    report.Succeeded,
		"failed":       report.Failed,
		"health_score": snapshot.HealthScore,
	}).Info("Orchestration cycle completed")

	return &CycleResult{
		Snapshot:  snapshot,
		Actions:   actions,
		Report:    report,
		Timestamp: started,
	}, nil
}
