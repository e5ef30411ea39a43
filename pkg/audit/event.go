// Package audit provides append-only recording of change-control
// decisions.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/model"
)

// NewEvent creates an audit event for an action by a user.
func NewEvent(userSub, action string) *model.AuditEvent {
	return &model.AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		UserSub:   userSub,
		Action:    action,
		Result:    model.AuditSuccess,
	}
}

// Builder wraps an event for fluent construction.
type Builder struct {
	event *model.AuditEvent
}

// Event starts building an audit event.
func Event(userSub, action string) *Builder {
	return &Builder{event: NewEvent(userSub, action)}
}

// User attaches resolved user details.
func (b *Builder) User(u *model.User) *Builder {
	if u != nil {
		b.event.UserID = u.Sub
		b.event.UserEmail = u.Email
		b.event.UserRole = u.RoleName
	}
	return b
}

// Device attaches the target device and its environment.
func (b *Builder) Device(d *model.Device) *Builder {
	if d != nil {
		b.event.DeviceID = d.ID
		b.event.Environment = string(d.Environment)
	}
	return b
}

// DeviceID attaches a device id without environment context.
func (b *Builder) DeviceID(id string) *Builder {
	b.event.DeviceID = id
	return b
}

// Tool attaches the invoked tool and its tier.
func (b *Builder) Tool(name, tier string) *Builder {
	b.event.ToolName = name
	b.event.ToolTier = tier
	return b
}

// Plan attaches the plan id.
func (b *Builder) Plan(planID string) *Builder {
	b.event.PlanID = planID
	return b
}

// Job attaches the job id.
func (b *Builder) Job(jobID string) *Builder {
	b.event.JobID = jobID
	return b
}

// Approver attaches the approving user.
func (b *Builder) Approver(id string) *Builder {
	b.event.ApproverID = id
	return b
}

// Meta attaches one metadata key.
func (b *Builder) Meta(key, value string) *Builder {
	if b.event.Meta == nil {
		b.event.Meta = map[string]string{}
	}
	b.event.Meta[key] = value
	return b
}

// Denied marks the event as a denial with the reason.
func (b *Builder) Denied(err error) *Builder {
	b.event.Result = model.AuditDenied
	if err != nil {
		b.event.ErrorMessage = err.Error()
	}
	return b
}

// Failed marks the event as a failure with the cause.
func (b *Builder) Failed(err error) *Builder {
	b.event.Result = model.AuditFailed
	if err != nil {
		b.event.ErrorMessage = err.Error()
	}
	return b
}

// Build returns the finished event.
func (b *Builder) Build() *model.AuditEvent {
	return b.event
}
