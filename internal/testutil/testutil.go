// Package testutil provides shared fixtures for netwarden tests: an
// in-memory store seeded with devices and RBAC records, a scripted
// device transport, and a settable clock.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
)

// OpenStore returns an empty in-memory store, closed when the test
// finishes.
func OpenStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// AllCapabilities enables every write family plus advanced and
// professional flags.
func AllCapabilities() model.Capabilities {
	return model.Capabilities{
		AllowAdvancedWrites:        true,
		AllowProfessionalWorkflows: true,
		AllowFirewallWrites:        true,
		AllowRoutingWrites:         true,
		AllowWirelessWrites:        true,
		AllowDHCPWrites:            true,
		AllowBridgeWrites:          true,
	}
}

// SeedDevice inserts a healthy device with the given capabilities.
func SeedDevice(t *testing.T, s store.Store, id string, env model.Environment, caps model.Capabilities) *model.Device {
	t.Helper()
	d := &model.Device{
		ID:                id,
		Name:              id,
		ManagementAddress: id + ".example.net",
		Environment:       env,
		Status:            model.DeviceHealthy,
		Capabilities:      caps,
	}
	if err := s.PutDevice(context.Background(), d); err != nil {
		t.Fatalf("seeding device %s: %v", id, err)
	}
	return d
}

// SeedOperator creates a role with wildcard device permissions for
// every write family plus apply and read actions, and an active user
// bound to it.
func SeedOperator(t *testing.T, s store.Store, sub string, scopes ...string) *model.User {
	t.Helper()
	ctx := context.Background()

	role := &model.Role{ID: uuid.NewString(), Name: "operator-" + sub}
	if err := s.PutRole(ctx, role); err != nil {
		t.Fatalf("seeding role: %v", err)
	}
	actions := []string{
		"firewall.write", "routing.write", "wireless.write", "dhcp.write", "bridge.write",
		"firewall.read", "routing.read", "wireless.read", "dhcp.read", "bridge.read",
		"device.read", "plan.apply",
	}
	for _, action := range actions {
		p := model.Permission{
			ID:           uuid.NewString(),
			ResourceType: "device",
			ResourceID:   model.WildcardResource,
			Action:       action,
		}
		if err := s.GrantPermission(ctx, role.ID, p); err != nil {
			t.Fatalf("granting %s: %v", action, err)
		}
	}
	if err := s.GrantPermission(ctx, role.ID, model.Permission{
		ID: uuid.NewString(), ResourceType: "audit", ResourceID: model.WildcardResource, Action: "audit.read",
	}); err != nil {
		t.Fatalf("granting audit.read: %v", err)
	}

	u := &model.User{
		Sub:          sub,
		Email:        sub + "@example.net",
		DisplayName:  sub,
		RoleName:     role.Name,
		DeviceScopes: scopes,
		IsActive:     true,
	}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

// Clock is a settable time source for services that take a now() func.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
