// Package store provides the persistence layer for devices, credentials,
// plans, jobs, snapshots, audit events and RBAC records.
package store

import (
	"context"
	"time"

	"github.com/netwarden/netwarden/pkg/model"
)

// DeviceFilter narrows ListDevices results. Zero values match everything.
type DeviceFilter struct {
	Environment model.Environment
	Status      model.DeviceStatus
	Tag         string
}

// AuditFilter narrows QueryAudit results.
type AuditFilter struct {
	DeviceID  string
	UserSub   string
	Action    string
	PlanID    string
	Result    model.AuditResult
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Store is the single shared mutable state of the core. Reads are
// consistent with the last committed mutation.
type Store interface {
	// Devices
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	ListDevices(ctx context.Context, filter DeviceFilter) ([]*model.Device, error)
	PutDevice(ctx context.Context, d *model.Device) error

	// Credentials. PutCredential deactivates any previously active
	// credential for the same (device_id, kind) in the same transaction.
	GetActiveCredential(ctx context.Context, deviceID string, kind model.CredentialKind) (*model.Credential, error)
	PutCredential(ctx context.Context, c *model.Credential) error

	// Plans. UpdatePlanStatus performs an optimistic pre-image check and
	// fails with a TransitionError if the stored status is not `from`.
	CreatePlan(ctx context.Context, p *model.Plan) error
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	UpdatePlanStatus(ctx context.Context, id string, from, to model.PlanStatus, approvedBy string, approvedAt *time.Time) error
	SetDeviceOutcome(ctx context.Context, planID, deviceID string, outcome model.DeviceOutcome) error

	// Jobs. UpdateJobProgress never decreases progress_percent.
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJobProgress(ctx context.Context, id string, progress int, currentDeviceID string) error
	FinishJob(ctx context.Context, id string, status model.JobStatus, summary map[string]any, errMsg string) error

	// Snapshots
	PutSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)

	// Audit. Append-only.
	AppendAudit(ctx context.Context, e *model.AuditEvent) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]*model.AuditEvent, error)

	// RBAC
	GetUser(ctx context.Context, sub string) (*model.User, error)
	PutUser(ctx context.Context, u *model.User) error
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
	PutRole(ctx context.Context, r *model.Role) error
	PermissionsForRole(ctx context.Context, roleID string) ([]model.Permission, error)
	GrantPermission(ctx context.Context, roleID string, p model.Permission) error

	Close() error
}
