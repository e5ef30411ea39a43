// Package auth provides role-based access control for tool invocations.
package auth

import "fmt"

// ToolSpec maps a tool name to the permission it requires and the write
// family it belongs to (empty for read tools).
type ToolSpec struct {
	Name         string
	ResourceType string
	Action       string
	Family       string
	// Advanced marks modify/remove tools that additionally require the
	// device's allow_advanced_writes flag.
	Advanced bool
	Tier     string
}

// Write tool families.
const (
	FamilyFirewall = "firewall"
	FamilyRouting  = "routing"
	FamilyWireless = "wireless"
	FamilyDHCP     = "dhcp"
	FamilyBridge   = "bridge"
)

var registry = map[string]ToolSpec{}

func register(spec ToolSpec) {
	registry[spec.Name] = spec
}

func init() {
	families := []string{FamilyFirewall, FamilyRouting, FamilyWireless, FamilyDHCP, FamilyBridge}
	for _, fam := range families {
		register(ToolSpec{Name: fam + ".add", ResourceType: "device", Action: fam + ".write", Family: fam, Tier: "professional"})
		register(ToolSpec{Name: fam + ".modify", ResourceType: "device", Action: fam + ".write", Family: fam, Advanced: true, Tier: "professional"})
		register(ToolSpec{Name: fam + ".remove", ResourceType: "device", Action: fam + ".write", Family: fam, Advanced: true, Tier: "professional"})
		register(ToolSpec{Name: fam + ".list", ResourceType: "device", Action: fam + ".read", Tier: "standard"})
	}
	register(ToolSpec{Name: "device.show", ResourceType: "device", Action: "device.read", Tier: "standard"})
	register(ToolSpec{Name: "device.list", ResourceType: "device", Action: "device.read", Tier: "standard"})
	register(ToolSpec{Name: "plan.apply", ResourceType: "device", Action: "plan.apply", Tier: "professional"})
	register(ToolSpec{Name: "audit.query", ResourceType: "audit", Action: "audit.read", Tier: "standard"})
}

// LookupTool resolves a tool name to its spec.
func LookupTool(name string) (ToolSpec, error) {
	spec, ok := registry[name]
	if !ok {
		return ToolSpec{}, fmt.Errorf("unknown tool '%s'", name)
	}
	return spec, nil
}

// IsWriteTool reports whether the tool mutates device configuration.
func (t ToolSpec) IsWriteTool() bool {
	return t.Family != "" || t.Name == "plan.apply"
}
