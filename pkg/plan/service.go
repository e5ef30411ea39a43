// Package plan manages the plan lifecycle: creation, approval tokens,
// and the guarded state machine.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/util"
)

// transitions is the legal state machine. Everything else raises
// InvalidPlanTransition.
var transitions = map[model.PlanStatus][]model.PlanStatus{
	model.PlanPending:   {model.PlanApproved, model.PlanExecuting, model.PlanExpired, model.PlanCancelled},
	model.PlanApproved:  {model.PlanExecuting, model.PlanExpired, model.PlanCancelled},
	model.PlanExecuting: {model.PlanCompleted, model.PlanRolledBack, model.PlanFailed, model.PlanCancelled},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to model.PlanStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionAction maps a new status to the audit action it emits.
func transitionAction(to model.PlanStatus) string {
	switch to {
	case model.PlanApproved:
		return model.ActionPlanApproved
	case model.PlanExecuting:
		return model.ActionApplyStarted
	case model.PlanCompleted:
		return model.ActionPlanCompleted
	case model.PlanFailed:
		return model.ActionPlanFailed
	case model.PlanRolledBack:
		return model.ActionPlanRolledBack
	case model.PlanExpired:
		return model.ActionPlanExpired
	case model.PlanCancelled:
		return model.ActionPlanCancelled
	}
	return ""
}

// Service creates, loads and transitions plans.
type Service struct {
	store store.Store
	sink  audit.Sink
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a plan service. ttl is the approval token
// lifetime.
func NewService(s store.Store, sink audit.Sink, ttl time.Duration) *Service {
	return &Service{
		store: s,
		sink:  sink,
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateRequest carries everything needed to persist a new plan.
type CreateRequest struct {
	ToolName          string
	CreatedBy         string
	DeviceIDs         []string
	Summary           string
	Changes           model.Changes
	RiskLevel         model.RiskLevel
	BatchSize         int
	PauseSeconds      int
	RollbackOnFailure bool
	PreCheckResults   map[string]string
}

// Create mints the approval token and persists the plan in pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Plan, error) {
	token, err := MintToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	statuses := make(map[string]model.DeviceOutcome, len(req.DeviceIDs))
	for _, id := range req.DeviceIDs {
		statuses[id] = model.DeviceOutcome{Status: model.DevicePendingApply}
	}

	p := &model.Plan{
		ID:                         uuid.NewString(),
		CreatedBy:                  req.CreatedBy,
		ToolName:                   req.ToolName,
		Status:                     model.PlanPending,
		DeviceIDs:                  req.DeviceIDs,
		Summary:                    req.Summary,
		Changes:                    req.Changes,
		RiskLevel:                  req.RiskLevel,
		ApprovalToken:              token,
		ApprovalTokenTimestamp:     now,
		ApprovalExpiresAt:          now.Add(s.ttl),
		BatchSize:                  req.BatchSize,
		PauseSecondsBetweenBatches: req.PauseSeconds,
		RollbackOnFailure:          req.RollbackOnFailure,
		DeviceStatuses:             statuses,
		PreCheckResults:            req.PreCheckResults,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, err
	}
	util.WithPlan(p.ID).WithField("tool", p.ToolName).Infof("plan created (%s risk, %d devices)",
		p.RiskLevel, len(p.DeviceIDs))
	return p, nil
}

// Get returns the full plan record.
func (s *Service) Get(ctx context.Context, id string) (*model.Plan, error) {
	return s.store.GetPlan(ctx, id)
}

// UpdateStatus validates and applies a state transition, recording
// approved_by/approved_at when the plan is approved, and emits the
// matching audit event. Approving a plan whose token has lapsed moves
// it to expired instead and fails with TokenExpired.
func (s *Service) UpdateStatus(ctx context.Context, id string, to model.PlanStatus, actor string) (*model.Plan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, to) {
		return nil, &util.TransitionError{PlanID: id, From: string(p.Status), To: string(to)}
	}

	var approvedBy string
	var approvedAt *time.Time
	if to == model.PlanApproved {
		expired, err := s.ExpireIfDue(ctx, p, actor)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, fmt.Errorf("plan %s: token expired at %s: %w",
				p.ID, p.ApprovalExpiresAt.Format(time.RFC3339), util.ErrTokenExpired)
		}
		approvedBy = actor
		now := s.now()
		approvedAt = &now
	}

	if err := s.store.UpdatePlanStatus(ctx, id, p.Status, to, approvedBy, approvedAt); err != nil {
		return nil, err
	}

	if action := transitionAction(to); action != "" {
		event := audit.Event(actor, action).Plan(id).Tool(p.ToolName, "").Build()
		if to == model.PlanApproved {
			event.ApproverID = actor
		}
		audit.Record(ctx, s.sink, event)
	}

	util.WithPlan(id).Infof("plan %s -> %s", p.Status, to)
	return s.store.GetPlan(ctx, id)
}

// ValidateToken checks a presented approval token against the stored
// plan using the service clock.
func (s *Service) ValidateToken(p *model.Plan, presented string) error {
	return ValidateApprovalToken(p, presented, s.now())
}

// ExpireIfDue moves a pending or approved plan whose token lapsed to
// expired. Returns true if the plan was expired.
func (s *Service) ExpireIfDue(ctx context.Context, p *model.Plan, actor string) (bool, error) {
	if p.Status != model.PlanPending && p.Status != model.PlanApproved {
		return false, nil
	}
	if !s.now().After(p.ApprovalExpiresAt) {
		return false, nil
	}
	if _, err := s.UpdateStatus(ctx, p.ID, model.PlanExpired, actor); err != nil {
		return false, err
	}
	return true, nil
}
