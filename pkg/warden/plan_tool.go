package warden

import (
	"context"
	"fmt"
	"strings"

	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/auth"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/rules"
)

// PlanRequest is a structured write-tool invocation.
type PlanRequest struct {
	UserSub   string
	ToolName  string
	DeviceIDs []string
	Params    map[string]string

	BatchSize         int
	PauseSeconds      int
	RollbackOnFailure bool
}

// PlanTool validates a proposed change, assesses its risk, persists a
// pending plan and returns the approval token in the result metadata.
// Every denial and failure is audited before it is surfaced; no plan
// row is created on any error.
func (s *Service) PlanTool(ctx context.Context, req PlanRequest) (*ToolResult, error) {
	user, err := s.gate.Authorize(ctx, req.UserSub, req.ToolName, req.DeviceIDs)
	if err != nil {
		s.denyAudit(ctx, user, req.UserSub, req.ToolName, req.DeviceIDs, err)
		return errorResult(err), err
	}

	spec, _ := rules.Get(familyOf(req.ToolName))
	if spec == nil {
		err := fmt.Errorf("unknown tool family in '%s'", req.ToolName)
		return errorResult(err), err
	}
	_, op := splitTool(req.ToolName)

	devices, err := s.registry.GetAll(ctx, req.DeviceIDs)
	if err != nil {
		return errorResult(err), err
	}

	if err := spec.Validate(op, req.Params); err != nil {
		return errorResult(err), err
	}

	toolSpec, _ := auth.LookupTool(req.ToolName)
	if err := checkCapabilities(devices, toolSpec); err != nil {
		s.denyAudit(ctx, user, req.UserSub, req.ToolName, req.DeviceIDs, err)
		return errorResult(err), err
	}
	if err := s.checkEnvironments(devices, req.ToolName); err != nil {
		s.denyAudit(ctx, user, req.UserSub, req.ToolName, req.DeviceIDs, err)
		return errorResult(err), err
	}

	// Plan risk is the worst per-device assessment.
	risk := model.RiskMedium
	previews := make([]model.DevicePreview, 0, len(devices))
	preChecks := make(map[string]string, len(devices))
	for _, d := range devices {
		risk = rules.MaxRisk(risk, spec.Assess(op, req.Params, d.Environment))
		previews = append(previews, spec.Preview(d, op, req.Params))
		preChecks[d.ID] = "passed"
	}

	p, err := s.plans.Create(ctx, plan.CreateRequest{
		ToolName:  req.ToolName,
		CreatedBy: req.UserSub,
		DeviceIDs: req.DeviceIDs,
		Summary:   planSummary(req.ToolName, spec, req.Params, len(devices)),
		Changes: model.Changes{
			Operation: op,
			Family:    spec.Family,
			Params:    req.Params,
			Previews:  previews,
		},
		RiskLevel:         risk,
		BatchSize:         req.BatchSize,
		PauseSeconds:      req.PauseSeconds,
		RollbackOnFailure: req.RollbackOnFailure,
		PreCheckResults:   preChecks,
	})
	if err != nil {
		audit.Record(ctx, s.sink, audit.Event(req.UserSub, model.ActionPlanCreated).
			User(user).Tool(req.ToolName, toolSpec.Tier).Failed(err).Build())
		return errorResult(err), err
	}

	audit.Record(ctx, s.sink, audit.Event(req.UserSub, model.ActionPlanCreated).
		User(user).Tool(req.ToolName, toolSpec.Tier).Plan(p.ID).
		Meta("risk_level", string(risk)).
		Meta("device_count", fmt.Sprintf("%d", len(devices))).
		Build())

	result := textResult("%s", planText(p))
	result.Meta = map[string]any{
		"plan_id":             p.ID,
		"approval_token":      p.ApprovalToken,
		"approval_expires_at": p.ApprovalExpiresAt,
		"risk_level":          string(p.RiskLevel),
		"device_count":        len(devices),
		"devices":             previewMeta(previews),
		"tool_name":           req.ToolName,
	}
	return result, nil
}

func familyOf(toolName string) string {
	family, _ := splitTool(toolName)
	return family
}

func previewMeta(previews []model.DevicePreview) []map[string]any {
	out := make([]map[string]any, 0, len(previews))
	for _, pv := range previews {
		out = append(out, map[string]any{
			"device_id": pv.DeviceID,
			"preview":   pv,
		})
	}
	return out
}

func planSummary(toolName string, spec *rules.Spec, params map[string]string, deviceCount int) string {
	detail := spec.SpecString(params)
	if detail == "" {
		detail = params["target_id"]
	}
	return fmt.Sprintf("%s on %d device(s): %s", toolName, deviceCount, detail)
}

func planText(p *model.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s created (%s risk, %d device(s)).\n", p.ID, p.RiskLevel, len(p.DeviceIDs))
	fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	for _, pv := range p.Changes.Previews {
		fmt.Fprintf(&b, "  - %s [%s] %s: %v\n", pv.Name, pv.Environment, pv.Operation, pv.Preview)
	}
	fmt.Fprintf(&b, "Approve and apply with the returned token before %s.",
		p.ApprovalExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
