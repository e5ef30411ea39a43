// Package model defines the persisted entities of the change-control core.
package model

// Environment classifies where a device runs.
type Environment string

const (
	EnvLab     Environment = "lab"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// DeviceStatus is the operational status of a device record.
type DeviceStatus string

const (
	DeviceHealthy  DeviceStatus = "healthy"
	DeviceDegraded DeviceStatus = "degraded"
	DeviceUnknown  DeviceStatus = "unknown"
	DeviceRetired  DeviceStatus = "retired"
)

// Capabilities are the per-device flags gating write tool families.
// All default to false.
type Capabilities struct {
	AllowAdvancedWrites        bool `json:"allow_advanced_writes"`
	AllowProfessionalWorkflows bool `json:"allow_professional_workflows"`
	AllowFirewallWrites        bool `json:"allow_firewall_writes"`
	AllowRoutingWrites         bool `json:"allow_routing_writes"`
	AllowWirelessWrites        bool `json:"allow_wireless_writes"`
	AllowDHCPWrites            bool `json:"allow_dhcp_writes"`
	AllowBridgeWrites          bool `json:"allow_bridge_writes"`
}

// Device is a managed network device record.
type Device struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ManagementAddress string       `json:"management_address"`
	Environment       Environment  `json:"environment"`
	Status            DeviceStatus `json:"status"`
	Tags              []string     `json:"tags,omitempty"`
	Capabilities      Capabilities `json:"capabilities"`
}

// HasTag reports whether the device carries the given tag.
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsProd reports whether the device runs in production.
func (d *Device) IsProd() bool {
	return d.Environment == EnvProd
}
