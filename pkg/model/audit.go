package model

import "time"

// AuditResult classifies the outcome recorded in an audit event.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditDenied  AuditResult = "denied"
	AuditFailed  AuditResult = "failed"
)

// Audit action names emitted by the core. One event per decision.
const (
	ActionPlanCreated          = "plan.created"
	ActionPlanDenied           = "plan.denied"
	ActionPlanApproved         = "plan.approved"
	ActionPlanExpired          = "plan.expired"
	ActionPlanCancelled        = "plan.cancelled"
	ActionApplyStarted         = "apply.started"
	ActionApplyDeviceSucceeded = "apply.device.succeeded"
	ActionApplyDeviceFailed    = "apply.device.failed"
	ActionApplyDeviceRolled    = "apply.device.rolled_back"
	ActionPlanCompleted        = "plan.completed"
	ActionPlanFailed           = "plan.failed"
	ActionPlanRolledBack       = "plan.rolled_back"
)

// AuditEvent is an append-only record of a decision. Never mutated.
// user_id, approver_id and approval_request_id are additive and nullable
// for backward compatibility with older rows.
type AuditEvent struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	UserSub           string            `json:"user_sub"`
	UserID            string            `json:"user_id,omitempty"`
	UserEmail         string            `json:"user_email,omitempty"`
	UserRole          string            `json:"user_role,omitempty"`
	DeviceID          string            `json:"device_id,omitempty"`
	Environment       string            `json:"environment,omitempty"`
	Action            string            `json:"action"`
	ToolName          string            `json:"tool_name,omitempty"`
	ToolTier          string            `json:"tool_tier,omitempty"`
	PlanID            string            `json:"plan_id,omitempty"`
	JobID             string            `json:"job_id,omitempty"`
	ApproverID        string            `json:"approver_id,omitempty"`
	ApprovalRequestID string            `json:"approval_request_id,omitempty"`
	Result            AuditResult       `json:"result"`
	Meta              map[string]string `json:"meta,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
}
