package health_test

import (
	"context"
	"errors"
	"testing"

	"github.com/netwarden/netwarden/internal/testutil"
	"github.com/netwarden/netwarden/pkg/health"
	"github.com/netwarden/netwarden/pkg/util"
)

func TestCheckerHealthy(t *testing.T) {
	client := testutil.NewFakeClient()
	client.Seed("ip/firewall/filter", map[string]any{"chain": "input", "action": "drop"})

	report, err := health.NewChecker("ip/firewall/filter").Run(context.Background(), "dev-lab-01", client)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Overall != health.StatusOK {
		t.Errorf("overall = %s, want ok", report.Overall)
	}
	if len(report.Results) != 2 {
		t.Errorf("results = %d, want 2", len(report.Results))
	}
}

func TestCheckerNoUptime(t *testing.T) {
	client := testutil.NewFakeClient()
	client.Uptime = ""

	report, err := health.NewChecker("ip/firewall/filter").Run(context.Background(), "dev-lab-01", client)
	if !errors.Is(err, util.ErrHealthCheckFailed) {
		t.Fatalf("expected HealthCheckFailed, got %v", err)
	}
	if report.Overall != health.StatusCritical {
		t.Errorf("overall = %s, want critical", report.Overall)
	}

	var herr *util.HealthError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HealthError, got %T", err)
	}
	if herr.Check != "system-resource" {
		t.Errorf("failing check = %q", herr.Check)
	}
}

func TestCheckerCollectionUnreadable(t *testing.T) {
	client := testutil.NewFakeClient()
	client.GetErrs = 10 // every collection read fails

	_, err := health.NewChecker("ip/firewall/filter").Run(context.Background(), "dev-lab-01", client)
	if !errors.Is(err, util.ErrHealthCheckFailed) {
		t.Fatalf("expected HealthCheckFailed, got %v", err)
	}
}
