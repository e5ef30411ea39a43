package rules

import (
	"strconv"
	"strings"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

func init() {
	registerSpec(&Spec{
		Family:   "routing",
		Path:     "ip/route",
		validate: validateRouting,
		risk:     assessRouting,
		preview:  genericPreview("routing"),
		bodyKeys: [][2]string{
			{"dst_address", "dst-address"},
			{"gateway", "gateway"},
			{"distance", "distance"},
			{"comment", "comment"},
		},
	})
	registerSpec(&Spec{
		Family:   "wireless",
		Path:     "interface/wireless",
		validate: validateWireless,
		risk:     assessByEnv,
		preview:  genericPreview("wireless"),
		bodyKeys: [][2]string{
			{"name", "name"},
			{"ssid", "ssid"},
			{"band", "band"},
			{"disabled", "disabled"},
			{"comment", "comment"},
		},
	})
	registerSpec(&Spec{
		Family:   "dhcp",
		Path:     "ip/dhcp-server",
		validate: validateDHCP,
		risk:     assessByEnv,
		preview:  genericPreview("dhcp"),
		bodyKeys: [][2]string{
			{"name", "name"},
			{"interface", "interface"},
			{"address_pool", "address-pool"},
			{"lease_time", "lease-time"},
			{"comment", "comment"},
		},
	})
	registerSpec(&Spec{
		Family:   "bridge",
		Path:     "interface/bridge/vlan",
		validate: validateBridge,
		risk:     assessByEnv,
		preview:  genericPreview("bridge"),
		bodyKeys: [][2]string{
			{"bridge", "bridge"},
			{"vlan_ids", "vlan-ids"},
			{"tagged", "tagged"},
			{"untagged", "untagged"},
			{"comment", "comment"},
		},
	})
}

func validateRouting(op model.ChangeOperation, params map[string]string) error {
	v := &util.ValidationBuilder{}

	switch op {
	case model.OpAdd:
		if params["dst_address"] == "" {
			v.AddError("dst_address is required")
		}
		if params["gateway"] == "" {
			v.AddError("gateway is required")
		}
	case model.OpModify:
		if params["target_id"] == "" {
			v.AddError("target route id is required")
		}
		if !hasAnyField(params, []string{"dst_address", "gateway", "distance", "comment"}) {
			v.AddError("At least one modification field must be provided")
		}
	case model.OpRemove:
		if params["target_id"] == "" {
			v.AddError("target route id is required")
		}
	}

	if dst := params["dst_address"]; dst != "" && !util.IsValidCIDR(dst) {
		v.AddErrorf("dst_address must be a CIDR prefix, got '%s'", dst)
	}
	if gw := params["gateway"]; gw != "" && !util.IsValidIP(gw) {
		v.AddErrorf("gateway must be an IP address, got '%s'", gw)
	}
	if dist := params["distance"]; dist != "" {
		n, err := strconv.Atoi(dist)
		if err != nil || n < 1 || n > 255 {
			v.AddErrorf("distance must be between 1 and 255, got '%s'", dist)
		}
	}

	return v.Build()
}

// assessRouting treats default routes and prod devices as high risk.
func assessRouting(op model.ChangeOperation, params map[string]string, env model.Environment) model.RiskLevel {
	dst := params["dst_address"]
	if dst == "0.0.0.0/0" || dst == "::/0" {
		return model.RiskHigh
	}
	if env == model.EnvProd {
		return model.RiskHigh
	}
	return model.RiskMedium
}

func validateWireless(op model.ChangeOperation, params map[string]string) error {
	v := &util.ValidationBuilder{}

	switch op {
	case model.OpAdd:
		if params["ssid"] == "" {
			v.AddError("ssid is required")
		}
	case model.OpModify:
		if params["target_id"] == "" {
			v.AddError("target interface id is required")
		}
		if !hasAnyField(params, []string{"ssid", "band", "disabled", "comment"}) {
			v.AddError("At least one modification field must be provided")
		}
	case model.OpRemove:
		if params["target_id"] == "" {
			v.AddError("target interface id is required")
		}
	}

	if ssid := params["ssid"]; ssid != "" && len(ssid) > 32 {
		v.AddErrorf("ssid must be at most 32 characters, got %d", len(ssid))
	}
	if band := params["band"]; band != "" {
		switch band {
		case "2ghz-b/g/n", "2ghz-g/n", "5ghz-a/n", "5ghz-a/n/ac", "5ghz-n/ac":
		default:
			v.AddErrorf("invalid band '%s'", band)
		}
	}
	if d := params["disabled"]; d != "" && d != "true" && d != "false" {
		v.AddErrorf("disabled must be true or false, got '%s'", d)
	}

	return v.Build()
}

func validateDHCP(op model.ChangeOperation, params map[string]string) error {
	v := &util.ValidationBuilder{}

	switch op {
	case model.OpAdd:
		if params["name"] == "" {
			v.AddError("name is required")
		}
		if params["interface"] == "" {
			v.AddError("interface is required")
		}
	case model.OpModify:
		if params["target_id"] == "" {
			v.AddError("target server id is required")
		}
		if !hasAnyField(params, []string{"name", "interface", "address_pool", "lease_time", "comment"}) {
			v.AddError("At least one modification field must be provided")
		}
	case model.OpRemove:
		if params["target_id"] == "" {
			v.AddError("target server id is required")
		}
	}

	if ranges := params["ranges"]; ranges != "" {
		for _, r := range strings.Split(ranges, ",") {
			bounds := strings.SplitN(strings.TrimSpace(r), "-", 2)
			if len(bounds) != 2 || !util.IsValidIP(bounds[0]) || !util.IsValidIP(bounds[1]) {
				v.AddErrorf("invalid address range '%s' (expected start-end)", r)
			}
		}
	}
	if lease := params["lease_time"]; lease != "" {
		if !validLeaseTime(lease) {
			v.AddErrorf("invalid lease_time '%s' (expected e.g. 30m, 1h, 1d)", lease)
		}
	}

	return v.Build()
}

func validBridgeVLANs(spec string) bool {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		bounds := strings.SplitN(part, "-", 2)
		for _, b := range bounds {
			n, err := strconv.Atoi(strings.TrimSpace(b))
			if err != nil || util.ValidateVLANID(n) != nil {
				return false
			}
		}
		if len(bounds) == 2 {
			a, _ := strconv.Atoi(strings.TrimSpace(bounds[0]))
			b, _ := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if a > b {
				return false
			}
		}
	}
	return true
}

func validateBridge(op model.ChangeOperation, params map[string]string) error {
	v := &util.ValidationBuilder{}

	switch op {
	case model.OpAdd:
		if params["bridge"] == "" {
			v.AddError("bridge is required")
		}
		if params["vlan_ids"] == "" {
			v.AddError("vlan_ids is required")
		}
	case model.OpModify:
		if params["target_id"] == "" {
			v.AddError("target entry id is required")
		}
		if !hasAnyField(params, []string{"bridge", "vlan_ids", "tagged", "untagged", "comment"}) {
			v.AddError("At least one modification field must be provided")
		}
	case model.OpRemove:
		if params["target_id"] == "" {
			v.AddError("target entry id is required")
		}
	}

	if vlans := params["vlan_ids"]; vlans != "" && !validBridgeVLANs(vlans) {
		v.AddErrorf("invalid vlan_ids '%s' (ids must be 1-4094)", vlans)
	}

	return v.Build()
}

// assessByEnv is the shared risk rule for families whose only inherent
// signal is the target environment.
func assessByEnv(op model.ChangeOperation, params map[string]string, env model.Environment) model.RiskLevel {
	if env == model.EnvProd {
		return model.RiskHigh
	}
	return model.RiskMedium
}

func genericPreview(family string) func(model.ChangeOperation, map[string]string) map[string]any {
	return func(op model.ChangeOperation, params map[string]string) map[string]any {
		spec, _ := Get(family)
		p := map[string]any{
			"operation": string(op),
		}
		switch op {
		case model.OpAdd:
			p["entry"] = spec.SpecString(params)
		case model.OpModify:
			p["target_id"] = params["target_id"]
			p["changes"] = spec.SpecString(withoutTarget(params))
		case model.OpRemove:
			p["target_id"] = params["target_id"]
		}
		return p
	}
}

func validLeaseTime(s string) bool {
	if s == "" {
		return false
	}
	num := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			num = true
		case c == 's' || c == 'm' || c == 'h' || c == 'd' || c == 'w':
			if !num {
				return false
			}
			num = false
		default:
			return false
		}
	}
	return true
}
