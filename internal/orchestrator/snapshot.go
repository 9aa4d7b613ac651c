package orchestrator

import (
	"time"

	"clipworks/api_orchestrator/pkg/models"
)

// Health status tiers
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// SystemSnapshot is an immutable point-in-time view of the publishing
// pipeline. Built fresh each cycle, never mutated.
type SystemSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Job queue counts keyed by status (pending, processing, retry,
	// failed, completed).
	JobCounts map[string]int `json:"job_counts"`

	// OldestPendingAge is the age of the oldest pending job, zero when
	// the pending queue is empty.
	OldestPendingAge time.Duration `json:"oldest_pending_age"`

	// Publish log counts keyed by status.
	PublishCounts map[string]int `json:"publish_counts"`

	// ActiveWindows counts currently open publish windows per platform.
	ActiveWindows map[string]int `json:"active_windows"`

	// ClosingWindows lists platforms whose last open window closes soon.
	ClosingWindows []string `json:"closing_windows,omitempty"`

	ActiveCampaigns []models.Campaign  `json:"active_campaigns,omitempty"`
	RecentScores    []models.ClipScore `json:"recent_scores,omitempty"`

	// LedgerErrors is the error-severity ledger entry count over the
	// trailing window.
	LedgerErrors int `json:"ledger_errors"`

	QueueSaturated bool   `json:"queue_saturated"`
	HealthScore    int    `json:"health_score"`
	HealthStatus   string `json:"health_status"`
}

// PendingJobs returns the pending job queue depth
func (s *SystemSnapshot) PendingJobs() int {
	return s.JobCounts[models.JobStatusPending]
}

// FailedPublishes returns the failed publish-log count
func (s *SystemSnapshot) FailedPublishes() int {
	return s.PublishCounts[models.PublishStatusFailed]
}

// PendingPublishes returns the pending publish-log count
func (s *SystemSnapshot) PendingPublishes() int {
	return s.PublishCounts[models.PublishStatusPending]
}

// ComputeHealthScore derives the composite health score. Start at 100,
// deduct 20 for a saturated queue, 15 when the oldest pending job exceeds
// the stale age, 10 when any publish failures are present, and 5 per
// trailing ledger error. The result is clamped to [0, 100].
func ComputeHealthScore(saturated bool, oldestPendingAge time.Duration, failedPublishes, ledgerErrors int, policy Policy) int {
	score := 100
	if saturated {
		score -= 20
	}
	if oldestPendingAge > policy.StaleJobAge {
		score -= 15
	}
	if failedPublishes > 0 {
		score -= 10
	}
	score -= 5 * ledgerErrors

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// HealthStatusFor maps a score onto its tier
func HealthStatusFor(score int, policy Policy) string {
	switch {
	case score >= policy.HealthyScore:
		return HealthHealthy
	case score >= policy.DegradedScore:
		return HealthDegraded
	default:
		return HealthCritical
	}
}
