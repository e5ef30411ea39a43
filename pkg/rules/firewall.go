package rules

import (
	"fmt"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

var firewallChains = map[string]bool{
	"input":   true,
	"forward": true,
	"output":  true,
}

var firewallActions = map[string]bool{
	"accept":      true,
	"drop":        true,
	"reject":      true,
	"jump":        true,
	"return":      true,
	"passthrough": true,
	"log":         true,
}

var firewallProtocols = map[string]bool{
	"tcp":       true,
	"udp":       true,
	"icmp":      true,
	"gre":       true,
	"esp":       true,
	"ah":        true,
	"ipip":      true,
	"ipsec-ah":  true,
	"ipsec-esp": true,
}

// firewallModifiable are the rule fields a modify operation may change.
var firewallModifiable = []string{
	"chain", "action", "src_address", "dst_address", "protocol", "dst_port", "comment", "disabled",
}

func init() {
	registerSpec(&Spec{
		Family:   "firewall",
		Path:     "ip/firewall/filter",
		validate: validateFirewall,
		risk:     assessFirewall,
		preview:  previewFirewall,
		bodyKeys: [][2]string{
			{"chain", "chain"},
			{"action", "action"},
			{"src_address", "src-address"},
			{"dst_address", "dst-address"},
			{"protocol", "protocol"},
			{"dst_port", "dst-port"},
			{"comment", "comment"},
		},
	})
}

func validateFirewall(op model.ChangeOperation, params map[string]string) error {
	v := &util.ValidationBuilder{}

	switch op {
	case model.OpAdd:
		if params["chain"] == "" {
			v.AddError("chain is required")
		}
		if params["action"] == "" {
			v.AddError("action is required")
		}
	case model.OpModify:
		if params["target_id"] == "" {
			v.AddError("target rule id is required")
		}
		if !hasAnyField(params, firewallModifiable) {
			v.AddError("At least one modification field must be provided")
		}
	case model.OpRemove:
		if params["target_id"] == "" {
			v.AddError("target rule id is required")
		}
	}

	if chain := params["chain"]; chain != "" && !firewallChains[chain] {
		v.AddErrorf("invalid chain '%s' (must be input, forward or output)", chain)
	}
	if action := params["action"]; action != "" && !firewallActions[action] {
		v.AddErrorf("invalid action '%s'", action)
	}
	if proto := params["protocol"]; proto != "" && !firewallProtocols[proto] {
		v.AddErrorf("invalid protocol '%s'", proto)
	}
	if port := params["dst_port"]; port != "" {
		if err := util.ValidatePortSpec(port); err != nil {
			v.AddError(err.Error())
		}
	}
	if addr := params["src_address"]; addr != "" {
		if err := util.ValidateAddress(addr); err != nil {
			v.AddErrorf("src_address: %v", err)
		}
	}
	if addr := params["dst_address"]; addr != "" {
		if err := util.ValidateAddress(addr); err != nil {
			v.AddErrorf("dst_address: %v", err)
		}
	}

	return v.Build()
}

// assessFirewall flags rules touching the input chain (device-management
// exposure), reject actions, and anything in prod as high risk.
func assessFirewall(op model.ChangeOperation, params map[string]string, env model.Environment) model.RiskLevel {
	if params["chain"] == "input" {
		return model.RiskHigh
	}
	if params["action"] == "reject" {
		return model.RiskHigh
	}
	if env == model.EnvProd {
		return model.RiskHigh
	}
	return model.RiskMedium
}

func previewFirewall(op model.ChangeOperation, params map[string]string) map[string]any {
	spec, _ := Get("firewall")
	p := map[string]any{
		"operation": string(op),
	}
	switch op {
	case model.OpAdd:
		p["rule"] = spec.SpecString(params)
	case model.OpModify:
		p["target_id"] = params["target_id"]
		p["changes"] = spec.SpecString(withoutTarget(params))
	case model.OpRemove:
		p["target_id"] = params["target_id"]
	}
	return p
}

func hasAnyField(params map[string]string, fields []string) bool {
	for _, f := range fields {
		if params[f] != "" {
			return true
		}
	}
	return false
}

func withoutTarget(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k == "target_id" {
			continue
		}
		out[k] = v
	}
	return out
}

// FirewallRuleString renders the canonical key=value form of a rule.
func FirewallRuleString(params map[string]string) string {
	spec, err := Get("firewall")
	if err != nil {
		return ""
	}
	return fmt.Sprintf("add %s", spec.SpecString(params))
}
