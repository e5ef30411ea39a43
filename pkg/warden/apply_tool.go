package warden

import (
	"context"
	"fmt"
	"strings"

	"github.com/netwarden/netwarden/pkg/apply"
	"github.com/netwarden/netwarden/pkg/model"
)

// ApplyRequest presents an approval token for a pending or approved
// plan.
type ApplyRequest struct {
	UserSub       string
	PlanID        string
	ApprovalToken string
}

// ApplyTool executes an approved plan. The result metadata carries the
// per-device outcomes and the plan's terminal status; pre-flight
// failures (token, transition, authorization) leave the plan untouched.
func (s *Service) ApplyTool(ctx context.Context, req ApplyRequest) (*ToolResult, error) {
	p, err := s.plans.Get(ctx, req.PlanID)
	if err != nil {
		return errorResult(err), err
	}

	user, err := s.gate.Authorize(ctx, req.UserSub, "plan.apply", p.DeviceIDs)
	if err != nil {
		s.denyAudit(ctx, user, req.UserSub, "plan.apply", p.DeviceIDs, err)
		return errorResult(err), err
	}

	res, err := s.executor.Run(ctx, req.PlanID, req.ApprovalToken, req.UserSub)
	if err != nil {
		return errorResult(err), err
	}

	deviceResults := make([]map[string]any, 0, len(res.DeviceResults))
	for _, dr := range res.DeviceResults {
		entry := map[string]any{
			"device_id": dr.DeviceID,
			"status":    string(dr.Status),
		}
		if dr.Error != "" {
			entry["error"] = dr.Error
		}
		if dr.Rollback {
			entry["rollback"] = true
		}
		deviceResults = append(deviceResults, entry)
	}

	result := textResult("%s", applyText(res.PlanID, res.FinalStatus, res.SuccessfulCount, res.FailedCount, res.DeviceResults))
	result.IsError = res.FinalStatus != model.PlanCompleted
	result.Meta = map[string]any{
		"plan_id":          res.PlanID,
		"job_id":           res.JobID,
		"successful_count": res.SuccessfulCount,
		"failed_count":     res.FailedCount,
		"final_status":     string(res.FinalStatus),
		"device_results":   deviceResults,
	}
	if len(res.AuditErrors) > 0 {
		result.Meta["audit_errors"] = res.AuditErrors
	}
	return result, nil
}

func applyText(planID string, final model.PlanStatus, ok, failed int, results []apply.DeviceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s finished: %s (%d succeeded, %d failed)\n", planID, final, ok, failed)
	for _, dr := range results {
		line := fmt.Sprintf("  - %s: %s", dr.DeviceID, dr.Status)
		if dr.Error != "" {
			line += " (" + dr.Error + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
