package warden_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/netwarden/netwarden/internal/testutil"
	"github.com/netwarden/netwarden/pkg/apply"
	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/auth"
	"github.com/netwarden/netwarden/pkg/config"
	"github.com/netwarden/netwarden/pkg/device"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/util"
	"github.com/netwarden/netwarden/pkg/warden"
)

type harness struct {
	store  *store.SQLiteStore
	clock  *testutil.Clock
	dialer *testutil.FakeDialer
	svc    *warden.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{}
	cfg.Normalize()

	s := testutil.OpenStore(t)
	clock := testutil.NewClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	sink := audit.NewStoreSink(s)
	plans := plan.NewService(s, sink, 15*time.Minute).WithClock(clock.Now)
	registry := device.NewRegistry(s)
	dialer := testutil.NewFakeDialer()
	exec := apply.NewExecutor(s, plans, registry, dialer, sink, nil, apply.Options{MaxAttempts: 3}).
		WithPause(func(ctx context.Context, d time.Duration) {})

	return &harness{
		store:  s,
		clock:  clock,
		dialer: dialer,
		svc:    warden.New(cfg, registry, auth.NewGate(s), plans, exec, sink),
	}
}

func (h *harness) auditActions(t *testing.T, filter store.AuditFilter) []string {
	t.Helper()
	events, err := h.store.QueryAudit(context.Background(), filter)
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func addRuleRequest(deviceIDs ...string) warden.PlanRequest {
	return warden.PlanRequest{
		UserSub:   "alice",
		ToolName:  "firewall.add",
		DeviceIDs: deviceIDs,
		Params: map[string]string{
			"chain": "forward", "action": "accept",
			"src_address": "10.0.0.0/24", "comment": "allow lan",
		},
		RollbackOnFailure: true,
	}
}

// An operator plans an add-rule change on a lab device, then applies it
// with the returned token. The plan lands medium risk and completed,
// the rule appears on the device, and the audit trail covers the whole
// lifecycle.
func TestPlanAndApplyLabAddRule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")

	res, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01"))
	if err != nil {
		t.Fatalf("PlanTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("plan result is an error: %+v", res)
	}
	if res.Meta["risk_level"] != "medium" {
		t.Errorf("risk_level = %v, want medium", res.Meta["risk_level"])
	}
	planID, _ := res.Meta["plan_id"].(string)
	token, _ := res.Meta["approval_token"].(string)
	if planID == "" || token == "" {
		t.Fatalf("meta missing plan id or token: %v", res.Meta)
	}

	applyRes, err := h.svc.ApplyTool(ctx, warden.ApplyRequest{
		UserSub: "alice", PlanID: planID, ApprovalToken: token,
	})
	if err != nil {
		t.Fatalf("ApplyTool: %v", err)
	}
	if applyRes.IsError || applyRes.Meta["final_status"] != "completed" {
		t.Errorf("apply result = %+v", applyRes.Meta)
	}
	if applyRes.Meta["successful_count"] != 1 {
		t.Errorf("successful_count = %v", applyRes.Meta["successful_count"])
	}

	objs := client.Objects("ip/firewall/filter")
	if len(objs) != 1 || objs[0]["src-address"] != "10.0.0.0/24" {
		t.Errorf("device rules = %v", objs)
	}

	actions := h.auditActions(t, store.AuditFilter{PlanID: planID})
	for _, want := range []string{
		model.ActionPlanCreated,
		model.ActionApplyStarted,
		model.ActionApplyDeviceSucceeded,
		model.ActionPlanCompleted,
	} {
		var found bool
		for _, a := range actions {
			if a == want {
				found = true
			}
		}
		if !found {
			t.Errorf("audit trail missing %s (have %v)", want, actions)
		}
	}
}

// Prod devices reject write families by default. No plan row is
// created, and the denial is audited.
func TestPlanProdWriteDenied(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	testutil.SeedDevice(t, h.store, "dev-prod-01", model.EnvProd, testutil.AllCapabilities())

	res, err := h.svc.PlanTool(ctx, addRuleRequest("dev-prod-01"))
	if !errors.Is(err, util.ErrEnvironmentNotAllowed) {
		t.Fatalf("expected environment denial, got %v", err)
	}
	if !res.IsError {
		t.Error("result should be an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "prod environment") || !strings.Contains(msg, "only allowed in") {
		t.Errorf("denial message = %q", msg)
	}

	actions := h.auditActions(t, store.AuditFilter{UserSub: "alice"})
	if len(actions) != 1 || actions[0] != model.ActionPlanDenied {
		t.Errorf("audit actions = %v, want a single plan.denied", actions)
	}
}

// A device whose firewall capability flag is off rejects firewall plans
// at creation time.
func TestPlanCapabilityDenied(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	caps := testutil.AllCapabilities()
	caps.AllowFirewallWrites = false
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, caps)

	_, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01"))
	if !errors.Is(err, util.ErrCapabilityNotAllowed) {
		t.Fatalf("expected capability denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "firewall write capability") {
		t.Errorf("denial message = %q", err.Error())
	}

	actions := h.auditActions(t, store.AuditFilter{UserSub: "alice"})
	if len(actions) != 1 || actions[0] != model.ActionPlanDenied {
		t.Errorf("audit actions = %v, want a single plan.denied", actions)
	}
}

// Capability flags are read at plan creation only. Revoking a flag
// after the plan exists does not stop the apply.
func TestCapabilityCheckedAtPlanTimeOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	d := testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	h.dialer.Client("dev-lab-01")

	res, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01"))
	if err != nil {
		t.Fatalf("PlanTool: %v", err)
	}

	d.Capabilities.AllowFirewallWrites = false
	if err := h.store.PutDevice(ctx, d); err != nil {
		t.Fatalf("revoking capability: %v", err)
	}

	applyRes, err := h.svc.ApplyTool(ctx, warden.ApplyRequest{
		UserSub:       "alice",
		PlanID:        res.Meta["plan_id"].(string),
		ApprovalToken: res.Meta["approval_token"].(string),
	})
	if err != nil {
		t.Fatalf("ApplyTool: %v", err)
	}
	if applyRes.Meta["final_status"] != "completed" {
		t.Errorf("final_status = %v, want completed", applyRes.Meta["final_status"])
	}
}

// A failed post-mutation health check triggers an automatic rollback;
// the plan ends rolled_back and the rollback is audited.
func TestApplyHealthFailRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.Seed("ip/firewall/filter", map[string]any{"chain": "input", "action": "drop"})
	client.Uptime = ""

	res, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01"))
	if err != nil {
		t.Fatalf("PlanTool: %v", err)
	}
	planID := res.Meta["plan_id"].(string)

	applyRes, err := h.svc.ApplyTool(ctx, warden.ApplyRequest{
		UserSub: "alice", PlanID: planID, ApprovalToken: res.Meta["approval_token"].(string),
	})
	if err != nil {
		t.Fatalf("ApplyTool: %v", err)
	}
	if !applyRes.IsError || applyRes.Meta["final_status"] != "rolled_back" {
		t.Errorf("apply result = %+v", applyRes.Meta)
	}

	if objs := client.Objects("ip/firewall/filter"); len(objs) != 1 {
		t.Errorf("rollback left %d rules, want the original 1", len(objs))
	}

	rolled := h.auditActions(t, store.AuditFilter{PlanID: planID, Action: model.ActionApplyDeviceRolled})
	if len(rolled) != 1 {
		t.Errorf("apply.device.rolled_back events = %d, want 1", len(rolled))
	}
}

// An approval token presented after its TTL fails and leaves the plan
// pending; nothing reaches the device.
func TestApplyExpiredToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	res, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01"))
	if err != nil {
		t.Fatalf("PlanTool: %v", err)
	}
	planID := res.Meta["plan_id"].(string)

	h.clock.Advance(16 * time.Minute)

	_, err = h.svc.ApplyTool(ctx, warden.ApplyRequest{
		UserSub: "alice", PlanID: planID, ApprovalToken: res.Meta["approval_token"].(string),
	})
	if !errors.Is(err, util.ErrTokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}

	p, err := h.svc.Plans().Get(ctx, planID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != model.PlanPending {
		t.Errorf("plan status = %s, want pending", p.Status)
	}
	if calls := h.dialer.Client("dev-lab-01").Calls; len(calls) != 0 {
		t.Errorf("device was touched: %v", calls)
	}
}

// Modify operations always assess high risk and require at least one
// modification field.
func TestModifyAlwaysHighRisk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	res, err := h.svc.PlanTool(ctx, warden.PlanRequest{
		UserSub:   "alice",
		ToolName:  "firewall.modify",
		DeviceIDs: []string{"dev-lab-01"},
		Params:    map[string]string{"target_id": "*1", "action": "drop"},
	})
	if err != nil {
		t.Fatalf("PlanTool: %v", err)
	}
	if res.Meta["risk_level"] != "high" {
		t.Errorf("risk_level = %v, want high", res.Meta["risk_level"])
	}

	_, err = h.svc.PlanTool(ctx, warden.PlanRequest{
		UserSub:   "alice",
		ToolName:  "firewall.modify",
		DeviceIDs: []string{"dev-lab-01"},
		Params:    map[string]string{"target_id": "*1"},
	})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "At least one modification field") {
		t.Errorf("validation message = %q", err.Error())
	}
}

// Parameter validation runs before the capability and environment
// gates: an invalid change on an incapable device surfaces the
// validation error, and no denial is audited.
func TestValidationPrecedesGates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	caps := testutil.AllCapabilities()
	caps.AllowFirewallWrites = false
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, caps)

	req := addRuleRequest("dev-lab-01")
	req.Params["chain"] = "nonsense"
	_, err := h.svc.PlanTool(ctx, req)
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Fatalf("expected ValidationError before the capability gate, got %v", err)
	}

	if actions := h.auditActions(t, store.AuditFilter{UserSub: "alice"}); len(actions) != 0 {
		t.Errorf("validation failures are not denials: %v", actions)
	}
}

// Users without the write permission are denied before any gate runs,
// and the denial is audited.
func TestPlanUnauthorized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	// bob exists but holds no role.
	if err := h.store.PutUser(ctx, &model.User{Sub: "bob", RoleName: "none", IsActive: true}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	req := addRuleRequest("dev-lab-01")
	req.UserSub = "bob"
	_, err := h.svc.PlanTool(ctx, req)
	if !errors.Is(err, util.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	events, _ := h.store.QueryAudit(ctx, store.AuditFilter{UserSub: "bob"})
	if len(events) != 1 || events[0].Action != model.ActionPlanDenied || events[0].Result != model.AuditDenied {
		t.Errorf("audit events = %+v", events)
	}
}

// Advanced operations (modify/remove) additionally require the
// advanced-writes flag.
func TestAdvancedWritesFlag(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedOperator(t, h.store, "alice")
	caps := testutil.AllCapabilities()
	caps.AllowAdvancedWrites = false
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, caps)

	// Plain adds still work.
	if _, err := h.svc.PlanTool(ctx, addRuleRequest("dev-lab-01")); err != nil {
		t.Fatalf("add should pass: %v", err)
	}

	_, err := h.svc.PlanTool(ctx, warden.PlanRequest{
		UserSub:   "alice",
		ToolName:  "firewall.remove",
		DeviceIDs: []string{"dev-lab-01"},
		Params:    map[string]string{"target_id": "*1"},
	})
	if !errors.Is(err, util.ErrCapabilityNotAllowed) {
		t.Fatalf("expected capability denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "advanced write capability") {
		t.Errorf("denial message = %q", err.Error())
	}
}
