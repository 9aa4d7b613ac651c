package models

import "time"

// Publish log statuses. Transitions follow
// pending -> scheduled -> processing -> {retry | success | failed},
// retry -> processing, and {processing, retry} -> {success, failed}
// via the reconciler or the webhook receiver. success and failed are
// terminal except for an explicit manual reset.
const (
	PublishStatusPending    = "pending"
	PublishStatusScheduled  = "scheduled"
	PublishStatusProcessing = "processing"
	PublishStatusRetry      = "retry"
	PublishStatusSuccess    = "success"
	PublishStatusFailed     = "failed"
)

// Clip job statuses
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusRetry      = "retry"
	JobStatusFailed     = "failed"
	JobStatusCompleted  = "completed"
)

// Webhook metadata keys written onto publish_logs.extra_metadata by the
// webhook receiver and read back by the reconciler.
const (
	MetaWebhookReceived      = "webhook_received"
	MetaWebhookStatus        = "webhook_status"
	MetaReconciled           = "reconciled"
	MetaReconciliationReason = "reconciliation_reason"
)

// PublishLog represents one publish attempt against an external platform
type PublishLog struct {
	ID             string     `json:"id" db:"id"`
	ClipID         string     `json:"clip_id" db:"clip_id"`
	Platform       string     `json:"platform" db:"platform"`
	Status         string     `json:"status" db:"status"`
	ExternalPostID string     `json:"external_post_id,omitempty" db:"external_post_id"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	ExtraMetadata  JSONB      `json:"extra_metadata" db:"extra_metadata"`
	RetryCount     int        `json:"retry_count" db:"retry_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Campaign is the subset of campaign state the orchestrator reads
type Campaign struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Status      string     `json:"status" db:"status"`
	BudgetCents int64      `json:"budget_cents" db:"budget_cents"`
	StartsAt    *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty" db:"ends_at"`
}

// PublishWindow is a per-platform scheduling window
type PublishWindow struct {
	ID       string    `json:"id" db:"id"`
	Platform string    `json:"platform" db:"platform"`
	StartsAt time.Time `json:"starts_at" db:"starts_at"`
	EndsAt   time.Time `json:"ends_at" db:"ends_at"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

// ClipScore is one quality score emitted by the scoring pipeline
type ClipScore struct {
	ClipID   string    `json:"clip_id" db:"clip_id"`
	Score    float64   `json:"score" db:"score"`
	ScoredAt time.Time `json:"scored_at" db:"scored_at"`
}
