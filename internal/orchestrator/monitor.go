package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

// SnapshotCacheKey is where the latest snapshot is cached for the
// dashboard read model.
const SnapshotCacheKey = "helmsman:snapshot:latest"

const snapshotCacheTTL = 5 * time.Minute

// ErrorCounter reports the trailing ledger error count
type ErrorCounter interface {
	ErrorCountSince(ctx context.Context, window time.Duration) (int, error)
}

// Monitor builds system snapshots from the persistent stores. Read-only.
type Monitor struct {
	db     *sql.DB
	ledger ErrorCounter
	policy Policy
	cache  goredis.UniversalClient
	logger logging.Logger
}

// NewMonitor creates a monitor. cache may be nil when Redis is not
// configured.
func NewMonitor(db *sql.DB, ledger ErrorCounter, policy Policy, cache goredis.UniversalClient, logger logging.Logger) *Monitor {
	return &Monitor{
		db:     db,
		ledger: ledger,
		policy: policy,
		cache:  cache,
		logger: logger,
	}
}

// BuildSnapshot assembles a fresh snapshot. Any read failure fails the
// whole build; callers treat that as a cycle-level error.
func (m *Monitor) BuildSnapshot(ctx context.Context) (*SystemSnapshot, error) {
	snapshot := &SystemSnapshot{
		Timestamp:     time.Now().UTC(),
		JobCounts:     make(map[string]int),
		PublishCounts: make(map[string]int),
		ActiveWindows: make(map[string]int),
	}

	if err := m.loadJobCounts(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	if err := m.loadOldestPendingAge(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("oldest pending job: %w", err)
	}
	if err := m.loadPublishCounts(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("publish counts: %w", err)
	}
	if err := m.loadWindows(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("publish windows: %w", err)
	}
	if err := m.loadCampaigns(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("campaigns: %w", err)
	}
	if err := m.loadRecentScores(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("clip scores: %w", err)
	}

	ledgerErrors, err := m.ledger.ErrorCountSince(ctx, m.policy.LedgerErrorWindow)
	if err != nil {
		return nil, fmt.Errorf("ledger errors: %w", err)
	}
	snapshot.LedgerErrors = ledgerErrors

	snapshot.QueueSaturated = snapshot.PendingJobs() > m.policy.QueueSaturationThreshold
	snapshot.HealthScore = ComputeHealthScore(
		snapshot.QueueSaturated,
		snapshot.OldestPendingAge,
		snapshot.FailedPublishes(),
		snapshot.LedgerErrors,
		m.policy,
	)
	snapshot.HealthStatus = HealthStatusFor(snapshot.HealthScore, m.policy)

	m.cacheSnapshot(ctx, snapshot)

	return snapshot, nil
}

func (m *Monitor) loadJobCounts(ctx context.Context, snapshot *SystemSnapshot) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM helmsman.clip_jobs GROUP BY status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		snapshot.JobCounts[status] = count
	}
	return rows.Err()
}

func (m *Monitor) loadOldestPendingAge(ctx context.Context, snapshot *SystemSnapshot) error {
	var ageSeconds float64
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(created_at))), 0)
		FROM helmsman.clip_jobs WHERE status = 'pending'`).Scan(&ageSeconds)
	if err != nil {
		return err
	}
	snapshot.OldestPendingAge = time.Duration(ageSeconds * float64(time.Second))
	return nil
}

func (m *Monitor) loadPublishCounts(ctx context.Context, snapshot *SystemSnapshot) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM helmsman.publish_logs GROUP BY status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		snapshot.PublishCounts[status] = count
	}
	return rows.Err()
}

func (m *Monitor) loadWindows(ctx context.Context, snapshot *SystemSnapshot) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT platform, COUNT(*),
		       BOOL_OR(ends_at < NOW() + $1::interval)
		FROM helmsman.publish_windows
		WHERE is_active AND starts_at <= NOW() AND ends_at > NOW()
		GROUP BY platform`,
		fmt.Sprintf("%d seconds", int(m.policy.WindowClosingSoon.Seconds())))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var platform string
		var count int
		var closingSoon bool
		if err := rows.Scan(&platform, &count, &closingSoon); err != nil {
			return err
		}
		snapshot.ActiveWindows[platform] = count
		if closingSoon {
			snapshot.ClosingWindows = append(snapshot.ClosingWindows, platform)
		}
	}
	return rows.Err()
}

func (m *Monitor) loadCampaigns(ctx context.Context, snapshot *SystemSnapshot) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, status, budget_cents, starts_at, ends_at
		FROM helmsman.campaigns WHERE status = 'active'
		ORDER BY budget_cents DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.BudgetCents, &c.StartsAt, &c.EndsAt); err != nil {
			return err
		}
		snapshot.ActiveCampaigns = append(snapshot.ActiveCampaigns, c)
	}
	return rows.Err()
}

func (m *Monitor) loadRecentScores(ctx context.Context, snapshot *SystemSnapshot) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT clip_id, score, scored_at FROM helmsman.clip_scores
		WHERE scored_at > NOW() - INTERVAL '1 hour'
		ORDER BY scored_at DESC LIMIT 50`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ClipScore
		if err := rows.Scan(&s.ClipID, &s.Score, &s.ScoredAt); err != nil {
			return err
		}
		snapshot.RecentScores = append(snapshot.RecentScores, s)
	}
	return rows.Err()
}

// cacheSnapshot writes the snapshot for dashboard reads. Best-effort.
func (m *Monitor) cacheSnapshot(ctx context.Context, snapshot *SystemSnapshot) {
	if m.cache == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to marshal snapshot for cache")
		return
	}

	if err := m.cache.Set(ctx, SnapshotCacheKey, data, snapshotCacheTTL).Err(); err != nil {
		m.logger.WithError(err).Warn("Failed to cache snapshot")
	}
}
