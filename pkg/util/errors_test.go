package util

import (
	"errors"
	"strings"
	"testing"
)

func TestTypedErrorsUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"unauthorized", &UnauthorizedError{User: "alice", Tool: "firewall.add", Reason: "inactive"}, ErrUnauthorized},
		{"device not found", &DeviceNotFoundError{DeviceID: "dev-x"}, ErrDeviceNotFound},
		{"capability", &CapabilityError{DeviceID: "dev-x", RequiredCapability: "allow_firewall_writes"}, ErrCapabilityNotAllowed},
		{"environment", &EnvironmentError{DeviceID: "dev-x", DeviceEnvironment: "prod"}, ErrEnvironmentNotAllowed},
		{"transition", &TransitionError{PlanID: "p", From: "completed", To: "executing"}, ErrInvalidTransition},
		{"validation", &ValidationError{Errors: []string{"bad"}}, ErrValidationFailed},
		{"health", &HealthError{DeviceID: "dev-x", Check: "system-resource"}, ErrHealthCheckFailed},
		{"rollback", &RollbackError{DeviceID: "dev-x", SnapshotID: "s"}, ErrRollbackFailed},
		{"persistence", &PersistenceError{Entity: "plan", Op: "create"}, ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
		})
	}
}

func TestCapabilityErrorMessage(t *testing.T) {
	err := &CapabilityError{DeviceID: "dev-lab-01", RequiredCapability: "allow_firewall_writes"}
	if !strings.Contains(err.Error(), "firewall write capability") {
		t.Errorf("message %q should name the firewall write capability", err.Error())
	}
}

func TestEnvironmentErrorMessage(t *testing.T) {
	err := &EnvironmentError{
		DeviceID:            "dev-prod-01",
		DeviceEnvironment:   "prod",
		AllowedEnvironments: []string{"lab", "staging"},
		Operation:           "firewall.add",
	}
	msg := err.Error()
	for _, want := range []string{"prod environment", "only allowed in"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q should contain %q", msg, want)
		}
	}
}

func TestValidationBuilder(t *testing.T) {
	v := &ValidationBuilder{}
	if v.HasErrors() {
		t.Fatal("empty builder should have no errors")
	}
	if v.Build() != nil {
		t.Fatal("empty builder should build nil")
	}

	v.Add(false, "first problem").AddErrorf("second %s", "problem")
	err := v.Build()
	if err == nil {
		t.Fatal("expected error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Errors) != 2 {
		t.Fatalf("expected 2 accumulated errors, got %v", err)
	}
}
