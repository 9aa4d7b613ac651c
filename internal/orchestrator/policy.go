package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable thresholds that drive the decision rules and
// the loop itself. Loaded from a YAML file when one is configured,
// defaults otherwise.
type Policy struct {
	// CycleInterval is the sleep between orchestration cycles.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// QueueSaturationThreshold is the pending-job count above which the
	// queue counts as saturated.
	QueueSaturationThreshold int `yaml:"queue_saturation_threshold"`

	// StaleJobAge marks the oldest pending job as stuck.
	StaleJobAge time.Duration `yaml:"stale_job_age"`

	// EmergencyPendingAge is how long a publish log may sit pending before
	// the emergency rebalance fails it outright.
	EmergencyPendingAge time.Duration `yaml:"emergency_pending_age"`

	// HealthyScore and DegradedScore bound the health tiers:
	// healthy >= HealthyScore, degraded >= DegradedScore, critical below.
	HealthyScore  int `yaml:"healthy_score"`
	DegradedScore int `yaml:"degraded_score"`

	// LedgerErrorWindow is the trailing window for the ledger error count.
	LedgerErrorWindow time.Duration `yaml:"ledger_error_window"`

	// ReconcileAfter is the default staleness cutoff for reconciliation.
	ReconcileAfter time.Duration `yaml:"reconcile_after"`

	// DowngradePush is how far a low-quality clip's scheduled_at is pushed.
	DowngradePush time.Duration `yaml:"downgrade_push"`

	// HighScoreThreshold and LowScoreThreshold gate promote/downgrade rules.
	HighScoreThreshold float64 `yaml:"high_score_threshold"`
	LowScoreThreshold  float64 `yaml:"low_score_threshold"`

	// AccumulationThreshold is the pending publish-log count that triggers
	// a routine scheduling pass.
	AccumulationThreshold int `yaml:"accumulation_threshold"`

	// MinCampaignBudgetCents gates the campaign-value scheduling rule.
	MinCampaignBudgetCents int64 `yaml:"min_campaign_budget_cents"`

	// WindowClosingSoon is the lead time for the window-closing rule.
	WindowClosingSoon time.Duration `yaml:"window_closing_soon"`

	// LedgerErrorThreshold is the trailing error count that triggers a
	// reconciliation action.
	LedgerErrorThreshold int `yaml:"ledger_error_threshold"`
}

// DefaultPolicy returns the built-in thresholds
func DefaultPolicy() Policy {
	return Policy{
		CycleInterval:            60 * time.Second,
		QueueSaturationThreshold: 50,
		StaleJobAge:              30 * time.Minute,
		EmergencyPendingAge:      2 * time.Hour,
		HealthyScore:             80,
		DegradedScore:            50,
		LedgerErrorWindow:        time.Hour,
		ReconcileAfter:           10 * time.Minute,
		DowngradePush:            24 * time.Hour,
		HighScoreThreshold:       0.8,
		LowScoreThreshold:        0.3,
		AccumulationThreshold:    10,
		MinCampaignBudgetCents:   100000,
		WindowClosingSoon:        time.Hour,
		LedgerErrorThreshold:     3,
	}
}

// LoadPolicy reads a policy file and overlays it on the defaults. An empty
// path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy file: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid policy: %w", err)
	}

	return policy, nil
}

// Validate rejects threshold combinations the rules cannot work with
func (p Policy) Validate() error {
	if p.CycleInterval < time.Second {
		return fmt.Errorf("cycle_interval must be at least 1s, got %s", p.CycleInterval)
	}
	if p.QueueSaturationThreshold <= 0 {
		return fmt.Errorf("queue_saturation_threshold must be positive, got %d", p.QueueSaturationThreshold)
	}
	if p.HealthyScore <= p.DegradedScore {
		return fmt.Errorf("healthy_score (%d) must be above degraded_score (%d)", p.HealthyScore, p.DegradedScore)
	}
	if p.DegradedScore <= 0 || p.HealthyScore > 100 {
		return fmt.Errorf("score thresholds must lie in (0,100], got healthy=%d degraded=%d", p.HealthyScore, p.DegradedScore)
	}
	if p.LowScoreThreshold >= p.HighScoreThreshold {
		return fmt.Errorf("low_score_threshold (%.2f) must be below high_score_threshold (%.2f)", p.LowScoreThreshold, p.HighScoreThreshold)
	}
	if p.ReconcileAfter < time.Minute {
		return fmt.Errorf("reconcile_after must be at least 1m, got %s", p.ReconcileAfter)
	}
	return nil
}
