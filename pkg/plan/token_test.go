package plan

import (
	"errors"
	"testing"
	"time"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

func TestMintTokenUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := MintToken()
		if err != nil {
			t.Fatalf("MintToken: %v", err)
		}
		if len(token) != tokenBytes*2 {
			t.Fatalf("token length = %d, want %d", len(token), tokenBytes*2)
		}
		if seen[token] {
			t.Fatalf("duplicate token minted: %s", token)
		}
		seen[token] = true
	}
}

func tokenPlan(status model.PlanStatus, token string, expiresAt time.Time) *model.Plan {
	return &model.Plan{
		ID:                "plan-1",
		Status:            status,
		ApprovalToken:     token,
		ApprovalExpiresAt: expiresAt,
	}
}

func TestValidateApprovalToken(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(15 * time.Minute)

	tests := []struct {
		name      string
		plan      *model.Plan
		presented string
		at        time.Time
		want      error
	}{
		{"valid pending", tokenPlan(model.PlanPending, "tok", expiry), "tok", now, nil},
		{"valid approved", tokenPlan(model.PlanApproved, "tok", expiry), "tok", now, nil},
		{"mismatch", tokenPlan(model.PlanPending, "tok", expiry), "other", now, util.ErrTokenMismatch},
		{"missing", tokenPlan(model.PlanPending, "", expiry), "tok", now, util.ErrTokenMissing},
		{"not applicable completed", tokenPlan(model.PlanCompleted, "tok", expiry), "tok", now, util.ErrPlanNotApplicable},
		{"not applicable executing", tokenPlan(model.PlanExecuting, "tok", expiry), "tok", now, util.ErrPlanNotApplicable},
		{"1ms before expiry", tokenPlan(model.PlanPending, "tok", expiry), "tok", expiry.Add(-time.Millisecond), nil},
		{"at expiry", tokenPlan(model.PlanPending, "tok", expiry), "tok", expiry, nil},
		{"1ms after expiry", tokenPlan(model.PlanPending, "tok", expiry), "tok", expiry.Add(time.Millisecond), util.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateApprovalToken(tt.plan, tt.presented, tt.at)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
