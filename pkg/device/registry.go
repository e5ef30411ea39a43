// Package device provides read access to the managed device inventory.
package device

import (
	"context"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
)

// Registry exposes device records from the store. Capability flags are
// returned verbatim; enforcement lives in the callers.
type Registry struct {
	store store.Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Get returns a device by id, or a DeviceNotFound error.
func (r *Registry) Get(ctx context.Context, id string) (*model.Device, error) {
	return r.store.GetDevice(ctx, id)
}

// GetAll resolves every id, failing on the first unknown device.
func (r *Registry) GetAll(ctx context.Context, ids []string) ([]*model.Device, error) {
	devices := make([]*model.Device, 0, len(ids))
	for _, id := range ids {
		d, err := r.store.GetDevice(ctx, id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// List returns devices matching the filter.
func (r *Registry) List(ctx context.Context, filter store.DeviceFilter) ([]*model.Device, error) {
	return r.store.ListDevices(ctx, filter)
}

// CapabilityForFamily maps a tool family to the device flag that gates it.
// Returns the flag name and its current value.
func CapabilityForFamily(d *model.Device, family string) (string, bool) {
	switch family {
	case "firewall":
		return "allow_firewall_writes", d.Capabilities.AllowFirewallWrites
	case "routing":
		return "allow_routing_writes", d.Capabilities.AllowRoutingWrites
	case "wireless":
		return "allow_wireless_writes", d.Capabilities.AllowWirelessWrites
	case "dhcp":
		return "allow_dhcp_writes", d.Capabilities.AllowDHCPWrites
	case "bridge":
		return "allow_bridge_writes", d.Capabilities.AllowBridgeWrites
	}
	return "", false
}
