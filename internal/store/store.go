// Package store persists the job lifecycle: Job rows, the append-only cost
// ledger, and the append-only event trail.
package store

import (
	"context"
	"time"
)

// JobStatus is the job lifecycle state. A crash mid-flight leaves a stuck
// running row; recovery is operational, not automatic.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is the durable record of one submission.
type Job struct {
	ID             string    `json:"job_id"`
	UserID         string    `json:"user_id"`
	TaskType       string    `json:"task_type"`
	Status         JobStatus `json:"status"`
	CostCeilingUSD float64   `json:"cost_ceiling_usd"`
	DedupeKey      string    `json:"dedupe_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobCost is one append-only ledger row per completed provider attempt.
// Multiple rows per job are possible when fallback reached a second provider.
type JobCost struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a write-only diagnostic trail entry, never read by core logic.
type Event struct {
	ID      int64     `json:"id"`
	JobID   string    `json:"job_id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Store defines job persistence. Implementations must make CreateJob's
// dedupe path an atomic read-then-insert-if-absent.
type Store interface {
	// CreateJob inserts the job, or returns the existing job when its
	// dedupe key matches one already stored. reused reports which happened.
	CreateJob(ctx context.Context, job Job) (created Job, reused bool, err error)
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error

	AppendCost(ctx context.Context, c JobCost) error
	ListJobCosts(ctx context.Context, jobID string) ([]JobCost, error)
	ListRecentCosts(ctx context.Context, limit, offset int) ([]JobCost, error)

	AppendEvent(ctx context.Context, e Event) error
	ListJobEvents(ctx context.Context, jobID string) ([]Event, error)

	// Vault persistence
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
