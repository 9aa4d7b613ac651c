package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"clipworks/api_orchestrator/pkg/models"
)

// Action types dispatched by the executor
const (
	ActionScheduleClip          = "schedule_clip"
	ActionRetryFailedLog        = "retry_failed_log"
	ActionTriggerReconciliation = "trigger_reconciliation"
	ActionPromoteHighScoreClip  = "promote_high_score_clip"
	ActionDowngradeLowScoreClip = "downgrade_low_score_clip"
	ActionForcePublish          = "force_publish"
	ActionRebalanceQueue        = "rebalance_queue"
)

// Action is one remediation or scheduling decision. Ephemeral per cycle;
// only its outcome is persisted, via the ledger.
type Action struct {
	Type     string                 `json:"type"`
	TargetID string                 `json:"target_id,omitempty"`
	Priority int                    `json:"priority"`
	Reason   string                 `json:"reason"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// rule is one row of the decision table. Declaration order is the
// tie-break among equal priorities and must stay stable.
type rule struct {
	name     string
	priority int
	matches  func(s *SystemSnapshot, p Policy) bool
	build    func(s *SystemSnapshot, p Policy) Action
}

// Decider maps a snapshot to a prioritized action list. Pure: no I/O,
// deterministic for a given snapshot and policy.
type Decider struct {
	policy Policy
	rules  []rule
}

// NewDecider builds the decision table
func NewDecider(policy Policy) *Decider {
	return &Decider{
		policy: policy,
		rules: []rule{
			{
				name:     "queue_saturation",
				priority: 9,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.QueueSaturated
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionRebalanceQueue,
						Priority: 9,
						Reason:   fmt.Sprintf("queue saturated with %d pending jobs", s.PendingJobs()),
					}
				},
			},
			{
				name:     "stuck_jobs",
				priority: 8,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.OldestPendingAge > p.StaleJobAge
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionForcePublish,
						Priority: 8,
						Reason:   fmt.Sprintf("oldest pending job is %s old", s.OldestPendingAge.Round(time.Second)),
					}
				},
			},
			{
				name:     "recent_failures",
				priority: 8,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.FailedPublishes() > 0
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionRetryFailedLog,
						Priority: 8,
						Reason:   fmt.Sprintf("%d failed publish logs", s.FailedPublishes()),
					}
				},
			},
			{
				name:     "high_score_promote",
				priority: 7,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return len(s.ActiveWindows) > 0 && bestScore(s) != nil && bestScore(s).Score >= p.HighScoreThreshold
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					best := bestScore(s)
					return Action{
						Type:     ActionPromoteHighScoreClip,
						TargetID: best.ClipID,
						Priority: 7,
						Reason:   fmt.Sprintf("clip scored %.2f with active publish windows", best.Score),
					}
				},
			},
			{
				name:     "ledger_error_rate",
				priority: 7,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.LedgerErrors >= p.LedgerErrorThreshold
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionTriggerReconciliation,
						Priority: 7,
						Reason:   fmt.Sprintf("%d ledger errors in trailing window", s.LedgerErrors),
					}
				},
			},
			{
				name:     "campaign_value",
				priority: 9,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.PendingPublishes() > 0 && topCampaignBudget(s) >= p.MinCampaignBudgetCents
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionScheduleClip,
						Priority: 9,
						Reason:   fmt.Sprintf("active campaign budget %d cents with pending publishes", topCampaignBudget(s)),
					}
				},
			},
			{
				name:     "window_closing",
				priority: 8,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.PendingPublishes() > 0 && len(s.ClosingWindows) > 0
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionScheduleClip,
						Priority: 8,
						Reason:   fmt.Sprintf("publish windows closing soon: %v", s.ClosingWindows),
						Payload:  map[string]interface{}{"platforms": s.ClosingWindows},
					}
				},
			},
			{
				name:     "accumulation",
				priority: 6,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.PendingPublishes() >= p.AccumulationThreshold
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionScheduleClip,
						Priority: 6,
						Reason:   fmt.Sprintf("%d publishes accumulated in pending", s.PendingPublishes()),
					}
				},
			},
			{
				name:     "low_quality",
				priority: 3,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return worstScore(s) != nil && worstScore(s).Score <= p.LowScoreThreshold
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					worst := worstScore(s)
					return Action{
						Type:     ActionDowngradeLowScoreClip,
						TargetID: worst.ClipID,
						Priority: 3,
						Reason:   fmt.Sprintf("clip scored %.2f, below quality floor", worst.Score),
					}
				},
			},
			{
				name:     "emergency_rebalance",
				priority: 10,
				matches: func(s *SystemSnapshot, p Policy) bool {
					return s.HealthStatus == HealthCritical
				},
				build: func(s *SystemSnapshot, p Policy) Action {
					return Action{
						Type:     ActionRebalanceQueue,
						Priority: 10,
						Reason:   fmt.Sprintf("health critical at score %d", s.HealthScore),
						Payload:  map[string]interface{}{"emergency": true},
					}
				},
			},
		},
	}
}

// Decide evaluates every rule against the snapshot. All matching rules
// fire; the result is sorted by priority descending with declaration
// order preserved among equal priorities.
func (d *Decider) Decide(snapshot *SystemSnapshot) []Action {
	var actions []Action
	for _, r := range d.rules {
		if r.matches(snapshot, d.policy) {
			actions = append(actions, r.build(snapshot, d.policy))
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})

	return actions
}

func bestScore(s *SystemSnapshot) *models.ClipScore {
	var best *models.ClipScore
	for i := range s.RecentScores {
		if best == nil || s.RecentScores[i].Score > best.Score {
			best = &s.RecentScores[i]
		}
	}
	return best
}

func worstScore(s *SystemSnapshot) *models.ClipScore {
	var worst *models.ClipScore
	for i := range s.RecentScores {
		if worst == nil || s.RecentScores[i].Score < worst.Score {
			worst = &s.RecentScores[i]
		}
	}
	return worst
}

func topCampaignBudget(s *SystemSnapshot) int64 {
	var top int64
	for _, c := range s.ActiveCampaigns {
		if c.BudgetCents > top {
			top = c.BudgetCents
		}
	}
	return top
}
