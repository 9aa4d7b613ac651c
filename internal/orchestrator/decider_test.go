package orchestrator

import (
	"sort"
	"testing"
	"time"

	"clipworks/api_orchestrator/pkg/models"
)

func healthySnapshot() *SystemSnapshot {
	s := &SystemSnapshot{
		Timestamp:     time.Now().UTC(),
		JobCounts:     map[string]int{},
		PublishCounts: map[string]int{},
		ActiveWindows: map[string]int{},
		HealthScore:   100,
		HealthStatus:  HealthHealthy,
	}
	return s
}

func TestDecideHealthySnapshotYieldsNoActions(t *testing.T) {
	d := NewDecider(DefaultPolicy())
	actions := d.Decide(healthySnapshot())
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %d: %+v", len(actions), actions)
	}
}

func TestDecideSaturatedQueueEmitsRebalance(t *testing.T) {
	s := healthySnapshot()
	s.JobCounts[models.JobStatusPending] = 60
	s.QueueSaturated = true

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	found := false
	for _, a := range actions {
		if a.Type == ActionRebalanceQueue && a.Priority == 9 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rebalance_queue with priority 9, got %+v", actions)
	}
}

func TestDecideStuckJobsEmitForcePublish(t *testing.T) {
	s := healthySnapshot()
	s.OldestPendingAge = 65 * time.Minute

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Type != ActionForcePublish || actions[0].Priority != 8 {
		t.Errorf("expected force_publish priority 8, got %s priority %d", actions[0].Type, actions[0].Priority)
	}
}

func TestDecideCriticalHealthEmitsEmergencyRebalance(t *testing.T) {
	s := healthySnapshot()
	s.HealthScore = 30
	s.HealthStatus = HealthCritical

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	if len(actions) == 0 {
		t.Fatal("expected actions for critical health")
	}
	// Emergency rebalance must come first at priority 10.
	if actions[0].Type != ActionRebalanceQueue || actions[0].Priority != 10 {
		t.Errorf("expected leading emergency rebalance_queue priority 10, got %s priority %d", actions[0].Type, actions[0].Priority)
	}
	if emergency, ok := actions[0].Payload["emergency"].(bool); !ok || !emergency {
		t.Error("expected emergency payload flag")
	}
}

func TestDecideOutputSortedByPriorityDescending(t *testing.T) {
	s := healthySnapshot()
	s.QueueSaturated = true
	s.JobCounts[models.JobStatusPending] = 70
	s.OldestPendingAge = 2 * time.Hour
	s.PublishCounts[models.PublishStatusFailed] = 4
	s.PublishCounts[models.PublishStatusPending] = 20
	s.ClosingWindows = []string{"tiktok"}
	s.LedgerErrors = 5
	s.HealthScore = 20
	s.HealthStatus = HealthCritical
	s.ActiveWindows = map[string]int{"tiktok": 1}
	s.ActiveCampaigns = []models.Campaign{{ID: "c1", BudgetCents: 500000}}
	s.RecentScores = []models.ClipScore{
		{ClipID: "clip-hi", Score: 0.95},
		{ClipID: "clip-lo", Score: 0.1},
	}

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	if !sort.SliceIsSorted(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	}) {
		t.Fatalf("actions not sorted by priority descending: %+v", actions)
	}

	// Every rule fires in this snapshot.
	if len(actions) != 10 {
		t.Fatalf("expected all 10 rules to fire, got %d", len(actions))
	}
}

func TestDecideStableTieBreakPreservesDeclarationOrder(t *testing.T) {
	s := healthySnapshot()
	// Three priority-8 rules: stuck_jobs, recent_failures, window_closing.
	s.OldestPendingAge = time.Hour
	s.PublishCounts[models.PublishStatusFailed] = 1
	s.PublishCounts[models.PublishStatusPending] = 1
	s.ClosingWindows = []string{"youtube"}

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	var priority8 []string
	for _, a := range actions {
		if a.Priority == 8 {
			priority8 = append(priority8, a.Type)
		}
	}

	want := []string{ActionForcePublish, ActionRetryFailedLog, ActionScheduleClip}
	if len(priority8) != len(want) {
		t.Fatalf("expected %d priority-8 actions, got %d", len(want), len(priority8))
	}
	for i := range want {
		if priority8[i] != want[i] {
			t.Errorf("tie-break order broken at %d: expected %s, got %s", i, want[i], priority8[i])
		}
	}
}

func TestDecideDeterministic(t *testing.T) {
	s := healthySnapshot()
	s.QueueSaturated = true
	s.PublishCounts[models.PublishStatusFailed] = 2

	d := NewDecider(DefaultPolicy())
	first := d.Decide(s)
	second := d.Decide(s)

	if len(first) != len(second) {
		t.Fatalf("non-deterministic action count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type || first[i].Priority != second[i].Priority {
			t.Errorf("non-deterministic action at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDecideHighScorePromoteTargetsBestClip(t *testing.T) {
	s := healthySnapshot()
	s.ActiveWindows = map[string]int{"tiktok": 2}
	s.RecentScores = []models.ClipScore{
		{ClipID: "clip-a", Score: 0.85},
		{ClipID: "clip-b", Score: 0.92},
	}

	d := NewDecider(DefaultPolicy())
	actions := d.Decide(s)

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Type != ActionPromoteHighScoreClip || actions[0].TargetID != "clip-b" {
		t.Errorf("expected promote of clip-b, got %s target %s", actions[0].Type, actions[0].TargetID)
	}
}

func TestDecideNoPromoteWithoutActiveWindow(t *testing.T) {
	s := healthySnapshot()
	s.RecentScores = []models.ClipScore{{ClipID: "clip-a", Score: 0.95}}

	d := NewDecider(DefaultPolicy())
	for _, a := range d.Decide(s) {
		if a.Type == ActionPromoteHighScoreClip {
			t.Fatal("promote must not fire without an active window")
		}
	}
}
