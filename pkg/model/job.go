package model

import "time"

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks a long-running apply operation.
// attempts never exceeds max_attempts; progress_percent is monotonically
// non-decreasing until the job is terminal.
type Job struct {
	ID              string         `json:"id"`
	PlanID          string         `json:"plan_id,omitempty"`
	JobType         string         `json:"job_type"`
	Status          JobStatus      `json:"status"`
	DeviceIDs       []string       `json:"device_ids"`
	Attempts        int            `json:"attempts"`
	MaxAttempts     int            `json:"max_attempts"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	ProgressPercent int            `json:"progress_percent"`
	CurrentDeviceID string         `json:"current_device_id,omitempty"`
	ResultSummary   map[string]any `json:"result_summary,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Snapshot is the pre-mutation image of an affected resource, used as
// the rollback source.
type Snapshot struct {
	ID        string            `json:"id"`
	DeviceID  string            `json:"device_id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      string            `json:"kind"`
	Data      []byte            `json:"data"`
	Meta      map[string]string `json:"meta,omitempty"`
}
