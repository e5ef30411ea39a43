package plan

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

const tokenBytes = 32

// MintToken generates an opaque approval token.
func MintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating approval token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateApprovalToken checks a presented token against the plan.
// The comparison against the stored token is constant-time.
func ValidateApprovalToken(p *model.Plan, presented string, now time.Time) error {
	if p.Status != model.PlanPending && p.Status != model.PlanApproved {
		return fmt.Errorf("plan %s is %s: %w", p.ID, p.Status, util.ErrPlanNotApplicable)
	}
	if p.ApprovalToken == "" {
		return fmt.Errorf("plan %s: %w", p.ID, util.ErrTokenMissing)
	}
	if subtle.ConstantTimeCompare([]byte(p.ApprovalToken), []byte(presented)) != 1 {
		return fmt.Errorf("plan %s: %w", p.ID, util.ErrTokenMismatch)
	}
	if now.After(p.ApprovalExpiresAt) {
		return fmt.Errorf("plan %s: token expired at %s: %w",
			p.ID, p.ApprovalExpiresAt.Format(time.RFC3339), util.ErrTokenExpired)
	}
	return nil
}
