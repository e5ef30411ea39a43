package apply_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/netwarden/netwarden/internal/testutil"
	"github.com/netwarden/netwarden/pkg/apply"
	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/device"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/util"
)

const firewallPath = "ip/firewall/filter"

type harness struct {
	store  *store.SQLiteStore
	plans  *plan.Service
	clock  *testutil.Clock
	dialer *testutil.FakeDialer
	exec   *apply.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	sink := audit.NewStoreSink(s)
	plans := plan.NewService(s, sink, 15*time.Minute).WithClock(clock.Now)
	dialer := testutil.NewFakeDialer()
	exec := apply.NewExecutor(s, plans, device.NewRegistry(s), dialer, sink, nil, apply.Options{
		MaxAttempts: 3,
	}).WithPause(func(ctx context.Context, d time.Duration) {})
	return &harness{store: s, plans: plans, clock: clock, dialer: dialer, exec: exec}
}

func (h *harness) addPlan(t *testing.T, rollback bool, deviceIDs ...string) *model.Plan {
	t.Helper()
	p, err := h.plans.Create(context.Background(), plan.CreateRequest{
		ToolName:  "firewall.add",
		CreatedBy: "alice",
		DeviceIDs: deviceIDs,
		Changes: model.Changes{
			Operation: model.OpAdd,
			Family:    "firewall",
			Params: map[string]string{
				"chain": "forward", "action": "accept",
				"src_address": "10.0.0.0/24", "comment": "allow lan",
			},
		},
		RiskLevel:         model.RiskMedium,
		BatchSize:         1,
		RollbackOnFailure: rollback,
	})
	if err != nil {
		t.Fatalf("creating plan: %v", err)
	}
	return p
}

func TestRunHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.Seed(firewallPath, map[string]any{"chain": "input", "action": "drop"})

	p := h.addPlan(t, true, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.FinalStatus != model.PlanCompleted || res.SuccessfulCount != 1 || res.FailedCount != 0 {
		t.Errorf("result = %+v", res)
	}
	if objs := client.Objects(firewallPath); len(objs) != 2 {
		t.Errorf("device has %d rules, want 2", len(objs))
	}
	if !client.Closed {
		t.Error("transport not closed")
	}

	got, _ := h.store.GetPlan(ctx, p.ID)
	if got.Status != model.PlanCompleted {
		t.Errorf("plan status = %s", got.Status)
	}
	outcome := got.DeviceStatuses["dev-lab-01"]
	if outcome.Status != model.DeviceCompleted || len(outcome.CreatedIDs) != 1 {
		t.Errorf("device outcome = %+v", outcome)
	}
	if outcome.SnapshotID == "" {
		t.Fatal("no snapshot recorded")
	}
	snap, err := h.store.GetSnapshot(ctx, outcome.SnapshotID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Kind != firewallPath || snap.Meta["plan_id"] != p.ID {
		t.Errorf("snapshot = %+v", snap)
	}

	job, err := h.store.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != model.JobCompleted || job.ProgressPercent != 100 {
		t.Errorf("job = %+v", job)
	}

	events, err := h.store.QueryAudit(ctx, store.AuditFilter{PlanID: p.ID})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	want := map[string]int{
		model.ActionApplyStarted:         1,
		model.ActionApplyDeviceSucceeded: 1,
		model.ActionPlanCompleted:        1,
	}
	got2 := map[string]int{}
	for _, e := range events {
		got2[e.Action]++
	}
	for action, n := range want {
		if got2[action] != n {
			t.Errorf("audit %s events = %d, want %d (all: %v)", action, got2[action], n, got2)
		}
	}
}

func TestRunHealthFailRollsBackAdd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.Seed(firewallPath, map[string]any{"chain": "input", "action": "drop"})
	client.Uptime = "" // health check sees no system/resource data

	p := h.addPlan(t, true, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.FinalStatus != model.PlanRolledBack {
		t.Errorf("final status = %s, want rolled_back", res.FinalStatus)
	}
	if res.DeviceResults[0].Status != model.DeviceRolledBack || !res.DeviceResults[0].Rollback {
		t.Errorf("device result = %+v", res.DeviceResults[0])
	}

	// The created rule was deleted again: the device holds exactly the
	// pre-apply rule set.
	objs := client.Objects(firewallPath)
	if len(objs) != 1 || objs[0]["chain"] != "input" {
		t.Errorf("post-rollback rules = %v", objs)
	}

	events, _ := h.store.QueryAudit(ctx, store.AuditFilter{PlanID: p.ID, Action: model.ActionApplyDeviceRolled})
	if len(events) != 1 {
		t.Errorf("apply.device.rolled_back events = %d, want 1", len(events))
	}
}

func TestRunModifyRollbackRestoresFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	ids := client.Seed(firewallPath, map[string]any{"chain": "forward", "action": "accept", "comment": "old"})
	client.Uptime = ""

	p, err := h.plans.Create(ctx, plan.CreateRequest{
		ToolName:  "firewall.modify",
		CreatedBy: "alice",
		DeviceIDs: []string{"dev-lab-01"},
		Changes: model.Changes{
			Operation: model.OpModify,
			Family:    "firewall",
			Params:    map[string]string{"target_id": ids[0], "action": "drop", "comment": "new"},
		},
		RiskLevel:         model.RiskHigh,
		RollbackOnFailure: true,
	})
	if err != nil {
		t.Fatalf("creating plan: %v", err)
	}

	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanRolledBack {
		t.Fatalf("final status = %s, want rolled_back", res.FinalStatus)
	}

	objs := client.Objects(firewallPath)
	if len(objs) != 1 {
		t.Fatalf("rules = %v", objs)
	}
	if objs[0]["action"] != "accept" || objs[0]["comment"] != "old" {
		t.Errorf("prior fields not restored: %v", objs[0])
	}
}

func TestRunRemoveRollbackRecreates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	ids := client.Seed(firewallPath,
		map[string]any{"chain": "forward", "action": "accept", "comment": "keep me"},
		map[string]any{"chain": "input", "action": "drop"},
	)
	client.Uptime = ""

	p, err := h.plans.Create(ctx, plan.CreateRequest{
		ToolName:  "firewall.remove",
		CreatedBy: "alice",
		DeviceIDs: []string{"dev-lab-01"},
		Changes: model.Changes{
			Operation: model.OpRemove,
			Family:    "firewall",
			Params:    map[string]string{"target_id": ids[0]},
		},
		RiskLevel:         model.RiskHigh,
		RollbackOnFailure: true,
	})
	if err != nil {
		t.Fatalf("creating plan: %v", err)
	}

	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanRolledBack {
		t.Fatalf("final status = %s, want rolled_back", res.FinalStatus)
	}

	// The deleted rule is re-created with its fields; the device assigns
	// a fresh id.
	objs := client.Objects(firewallPath)
	if len(objs) != 2 {
		t.Fatalf("rules = %v", objs)
	}
	var found bool
	for _, o := range objs {
		if o["comment"] == "keep me" {
			found = true
			if o[".id"] == ids[0] {
				t.Error("re-created rule kept its old id")
			}
		}
	}
	if !found {
		t.Errorf("removed rule not re-created: %v", objs)
	}
}

func TestRunNoRollbackWhenDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.Uptime = ""

	p := h.addPlan(t, false, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanFailed {
		t.Errorf("final status = %s, want failed", res.FinalStatus)
	}
	if res.DeviceResults[0].Status != model.DeviceFailed || res.DeviceResults[0].Rollback {
		t.Errorf("device result = %+v", res.DeviceResults[0])
	}
	// The failed change stays on the device.
	if objs := client.Objects(firewallPath); len(objs) != 1 {
		t.Errorf("rules = %v", objs)
	}
}

func TestRunRollbackFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.Uptime = ""
	client.DeleteErr = errors.New("device rejected delete")

	p := h.addPlan(t, true, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A failed rollback is worse than a clean rollback: the plan lands
	// in failed and the outcome names the snapshot to restore by hand.
	if res.FinalStatus != model.PlanFailed {
		t.Errorf("final status = %s, want failed", res.FinalStatus)
	}
	if res.DeviceResults[0].Status != model.DeviceRollbackFailed {
		t.Errorf("device result = %+v", res.DeviceResults[0])
	}

	got, _ := h.store.GetPlan(ctx, p.ID)
	outcome := got.DeviceStatuses["dev-lab-01"]
	if outcome.Status != model.DeviceRollbackFailed || outcome.SnapshotID == "" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestRunRetriesTransient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	h.dialer.DialErrs = 2 // first two dials fail retryably

	p := h.addPlan(t, true, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanCompleted {
		t.Errorf("final status = %s, want completed", res.FinalStatus)
	}

	got, _ := h.store.GetPlan(ctx, p.ID)
	outcome := got.DeviceStatuses["dev-lab-01"]
	if outcome.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Attempts)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	client := h.dialer.Client("dev-lab-01")
	client.GetErrs = 3 // every snapshot read within the budget fails

	p := h.addPlan(t, true, "dev-lab-01")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanFailed {
		t.Errorf("final status = %s, want failed", res.FinalStatus)
	}

	got, _ := h.store.GetPlan(ctx, p.ID)
	outcome := got.DeviceStatuses["dev-lab-01"]
	if outcome.Status != model.DeviceFailed {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.Attempts > 3 {
		t.Errorf("attempts = %d, exceeds max", outcome.Attempts)
	}
}

func TestRunMultiDeviceIsolatedFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())
	testutil.SeedDevice(t, h.store, "dev-lab-02", model.EnvLab, testutil.AllCapabilities())
	h.dialer.Client("dev-lab-01")
	h.dialer.Client("dev-lab-02").Uptime = ""

	p := h.addPlan(t, true, "dev-lab-01", "dev-lab-02")
	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One device succeeded, one rolled back; a rollback anywhere rolls
	// the plan up to rolled_back.
	if res.FinalStatus != model.PlanRolledBack || res.SuccessfulCount != 1 || res.FailedCount != 1 {
		t.Errorf("result = %+v", res)
	}

	job, _ := h.store.GetJob(ctx, res.JobID)
	if job.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", job.ProgressPercent)
	}
}

func TestRunExpiredToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	p := h.addPlan(t, true, "dev-lab-01")
	h.clock.Advance(16 * time.Minute)

	_, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if !errors.Is(err, util.ErrTokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}

	// The plan is untouched; no job or device activity happened.
	got, _ := h.store.GetPlan(ctx, p.ID)
	if got.Status != model.PlanPending {
		t.Errorf("plan status = %s, want pending", got.Status)
	}
	if calls := h.dialer.Client("dev-lab-01").Calls; len(calls) != 0 {
		t.Errorf("device was touched: %v", calls)
	}
}

func TestRunWrongToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	p := h.addPlan(t, true, "dev-lab-01")
	if _, err := h.exec.Run(ctx, p.ID, "not-the-token", "alice"); !errors.Is(err, util.ErrTokenMismatch) {
		t.Fatalf("expected TokenMismatch, got %v", err)
	}
}

func TestRunCompletedPlanRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	p := h.addPlan(t, true, "dev-lab-01")
	if _, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	_, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("re-applying a completed plan should be an invalid transition, got %v", err)
	}
}

func TestRunApprovedPlanAccepted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.SeedDevice(t, h.store, "dev-lab-01", model.EnvLab, testutil.AllCapabilities())

	p := h.addPlan(t, true, "dev-lab-01")
	if _, err := h.plans.UpdateStatus(ctx, p.ID, model.PlanApproved, "bob"); err != nil {
		t.Fatalf("approving: %v", err)
	}

	res, err := h.exec.Run(ctx, p.ID, p.ApprovalToken, "alice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != model.PlanCompleted {
		t.Errorf("final status = %s", res.FinalStatus)
	}
}
