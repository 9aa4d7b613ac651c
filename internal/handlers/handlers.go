package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"clipworks/api_orchestrator/internal/orchestrator"
	"clipworks/api_orchestrator/internal/reconciler"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/monitoring"
)

// LoopController is the runner surface the control plane drives
type LoopController interface {
	Start() bool
	Stop()
	Running() bool
	Interval() time.Duration
	RunOnce(ctx context.Context) (*orchestrator.CycleResult, error)
}

// SnapshotProvider builds on-demand snapshots
type SnapshotProvider interface {
	BuildSnapshot(ctx context.Context) (*orchestrator.SystemSnapshot, error)
}

// Reconciling runs a synchronous reconciliation pass
type Reconciling interface {
	Reconcile(ctx context.Context, sinceMinutes int) (*reconciler.Report, error)
}

var (
	db      *sql.DB
	logger  logging.Logger
	loop    LoopController
	monitor SnapshotProvider
	recon   Reconciling

	cyclesTriggered   *prometheus.CounterVec
	reconcileRequests *prometheus.CounterVec
	healthScoreGauge  *prometheus.GaugeVec
)

// Init wires the handler package dependencies. metrics may be nil in tests.
func Init(database *sql.DB, log logging.Logger, controller LoopController, snapshots SnapshotProvider, reconciling Reconciling, metrics *monitoring.MetricsCollector) {
	db = database
	logger = log
	loop = controller
	monitor = snapshots
	recon = reconciling

	if metrics != nil {
		cyclesTriggered = metrics.NewCounter("manual_cycles_total", "Manually triggered orchestration cycles", []string{"outcome"})
		reconcileRequests = metrics.NewCounter("reconcile_requests_total", "Reconciliation requests via the control plane", []string{"outcome"})
		healthScoreGauge = metrics.NewGauge("health_score", "Latest observed system health score", nil)
	}
}

// GetSnapshot returns a fresh system snapshot
func GetSnapshot(c *gin.Context) {
	snapshot, err := monitor.BuildSnapshot(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to build snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build snapshot"})
		return
	}

	observeHealthScore(snapshot.HealthScore)
	c.JSON(http.StatusOK, snapshot)
}

// RunCycle executes exactly one orchestration cycle synchronously
func RunCycle(c *gin.Context) {
	result, err := loop.RunOnce(c.Request.Context())
	if err != nil {
		if cyclesTriggered != nil {
			cyclesTriggered.WithLabelValues("error").Inc()
		}
		logger.WithError(err).Error("Manual cycle failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if cyclesTriggered != nil {
		cyclesTriggered.WithLabelValues("ok").Inc()
	}
	observeHealthScore(result.Snapshot.HealthScore)
	c.JSON(http.StatusOK, result)
}

// EnableLoop starts the background loop. Idempotent.
func EnableLoop(c *gin.Context) {
	loop.Start()
	c.JSON(http.StatusOK, gin.H{
		"status":           "running",
		"interval_seconds": int(loop.Interval().Seconds()),
		"enabled":          true,
	})
}

// DisableLoop stops the background loop gracefully. Idempotent.
func DisableLoop(c *gin.Context) {
	loop.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// LoopStatus reports whether the loop is running
func LoopStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": loop.Running()})
}

type reconcileRequest struct {
	SinceMinutes *int `json:"since_minutes"`
}

// Reconcile runs a synchronous reconciliation batch. since_minutes
// defaults to 10 and must lie in [1, 1440].
func Reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	sinceMinutes := 10
	if req.SinceMinutes != nil {
		sinceMinutes = *req.SinceMinutes
	}
	if sinceMinutes < 1 || sinceMinutes > 1440 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since_minutes must be between 1 and 1440"})
		return
	}

	report, err := recon.Reconcile(c.Request.Context(), sinceMinutes)
	if err != nil {
		if reconcileRequests != nil {
			reconcileRequests.WithLabelValues("error").Inc()
		}
		logger.WithError(err).Error("Reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	if reconcileRequests != nil {
		reconcileRequests.WithLabelValues("ok").Inc()
	}
	c.JSON(http.StatusOK, report)
}

func observeHealthScore(score int) {
	if healthScoreGauge != nil {
		healthScoreGauge.WithLabelValues().Set(float64(score))
	}
}
