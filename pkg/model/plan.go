package model

import "time"

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanApproved   PlanStatus = "approved"
	PlanExecuting  PlanStatus = "executing"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
	PlanRolledBack PlanStatus = "rolled_back"
	PlanExpired    PlanStatus = "expired"
	PlanCancelled  PlanStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanRolledBack, PlanExpired, PlanCancelled:
		return true
	}
	return false
}

// RiskLevel classifies the blast radius of a plan.
type RiskLevel string

const (
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ChangeOperation names what a plan does to the target resource.
type ChangeOperation string

const (
	OpAdd    ChangeOperation = "add"
	OpModify ChangeOperation = "modify"
	OpRemove ChangeOperation = "remove"
)

// DevicePreview is the per-device preview of a planned change.
type DevicePreview struct {
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name"`
	Environment    Environment    `json:"environment"`
	Operation      string         `json:"operation"`
	PreCheckStatus string         `json:"pre_check_status"`
	Preview        map[string]any `json:"preview"`
}

// Changes is the structured change record of a plan, keyed by operation.
type Changes struct {
	Operation ChangeOperation   `json:"operation"`
	Family    string            `json:"family"`
	Params    map[string]string `json:"params"`
	Previews  []DevicePreview   `json:"previews,omitempty"`
}

// DeviceOutcomeStatus is the per-device state inside a plan apply.
type DeviceOutcomeStatus string

const (
	DevicePendingApply   DeviceOutcomeStatus = "pending"
	DeviceApplying       DeviceOutcomeStatus = "applying"
	DeviceCompleted      DeviceOutcomeStatus = "completed"
	DeviceFailed         DeviceOutcomeStatus = "failed"
	DeviceRolledBack     DeviceOutcomeStatus = "rolled_back"
	DeviceRollbackFailed DeviceOutcomeStatus = "rollback_failed"
	DeviceSkipped        DeviceOutcomeStatus = "skipped"
)

// DeviceOutcome records the terminal or in-flight result for one device.
type DeviceOutcome struct {
	Status     DeviceOutcomeStatus `json:"status"`
	Error      string              `json:"error,omitempty"`
	Rollback   bool                `json:"rollback,omitempty"`
	SnapshotID string              `json:"snapshot_id,omitempty"`
	CreatedIDs []string            `json:"created_ids,omitempty"`
	Attempts   int                 `json:"attempts,omitempty"`
}

// Plan is a proposed set of changes to one or more devices.
// Immutable once terminal.
type Plan struct {
	ID        string     `json:"id"`
	CreatedBy string     `json:"created_by"`
	ToolName  string     `json:"tool_name"`
	Status    PlanStatus `json:"status"`
	DeviceIDs []string   `json:"device_ids"`
	Summary   string     `json:"summary"`
	Changes   Changes    `json:"changes"`
	RiskLevel RiskLevel  `json:"risk_level"`

	ApprovedBy             string     `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty"`
	ApprovalToken          string     `json:"-"`
	ApprovalTokenTimestamp time.Time  `json:"approval_token_timestamp"`
	ApprovalExpiresAt      time.Time  `json:"approval_expires_at"`

	BatchSize                  int  `json:"batch_size"`
	PauseSecondsBetweenBatches int  `json:"pause_seconds_between_batches"`
	RollbackOnFailure          bool `json:"rollback_on_failure"`

	DeviceStatuses  map[string]DeviceOutcome `json:"device_statuses,omitempty"`
	PreCheckResults map[string]string        `json:"pre_check_results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
