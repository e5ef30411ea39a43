// Package rules validates planned changes, classifies their risk and
// renders per-device previews. One Spec per tool family keeps the
// plan/apply skeleton generic.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/netwarden/netwarden/pkg/model"
)

// Spec parameterizes the shared plan/apply engine for one tool family:
// how to validate parameters, assess risk, build previews, and which
// device collection to snapshot and mutate.
type Spec struct {
	Family string

	// Path is the device collection mutated by this family, also used
	// as the snapshot kind (e.g. "ip/firewall/filter").
	Path string

	validate func(op model.ChangeOperation, params map[string]string) error
	risk     func(op model.ChangeOperation, params map[string]string, env model.Environment) model.RiskLevel
	preview  func(op model.ChangeOperation, params map[string]string) map[string]any

	// bodyKeys maps parameter names to device API field names, in the
	// stable order used for rule specification strings.
	bodyKeys [][2]string
}

var specs = map[string]*Spec{}

func registerSpec(s *Spec) {
	specs[s.Family] = s
}

// Get returns the spec for a tool family.
func Get(family string) (*Spec, error) {
	s, ok := specs[family]
	if !ok {
		return nil, fmt.Errorf("unknown tool family '%s'", family)
	}
	return s, nil
}

// Validate checks the parameters for the given operation. Returns a
// ValidationError listing every problem found.
func (s *Spec) Validate(op model.ChangeOperation, params map[string]string) error {
	return s.validate(op, params)
}

// Assess classifies the risk of the change on a device in env.
func (s *Spec) Assess(op model.ChangeOperation, params map[string]string, env model.Environment) model.RiskLevel {
	// Modify and remove are always high risk regardless of inputs.
	if op == model.OpModify || op == model.OpRemove {
		return model.RiskHigh
	}
	return s.risk(op, params, env)
}

// Preview builds the per-device preview record.
func (s *Spec) Preview(d *model.Device, op model.ChangeOperation, params map[string]string) model.DevicePreview {
	return model.DevicePreview{
		DeviceID:       d.ID,
		Name:           d.Name,
		Environment:    d.Environment,
		Operation:      fmt.Sprintf("%s.%s", s.Family, op),
		PreCheckStatus: "passed",
		Preview:        s.preview(op, params),
	}
}

// Body converts parameters to the device API payload.
func (s *Spec) Body(params map[string]string) map[string]any {
	body := make(map[string]any, len(params))
	for _, kv := range s.bodyKeys {
		if v, ok := params[kv[0]]; ok && v != "" {
			body[kv[1]] = v
		}
	}
	// Parameters without an explicit mapping pass through with
	// underscores converted to dashes.
	for k, v := range params {
		if v == "" || k == "target_id" {
			continue
		}
		if !s.hasKey(k) {
			body[strings.ReplaceAll(k, "_", "-")] = v
		}
	}
	return body
}

func (s *Spec) hasKey(param string) bool {
	for _, kv := range s.bodyKeys {
		if kv[0] == param {
			return true
		}
	}
	return false
}

// SpecString renders the key=value rule specification with keys in the
// family's stable order; unmapped keys follow alphabetically.
func (s *Spec) SpecString(params map[string]string) string {
	var parts []string
	seen := map[string]bool{}
	for _, kv := range s.bodyKeys {
		if v, ok := params[kv[0]]; ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", kv[1], v))
			seen[kv[0]] = true
		}
	}
	var rest []string
	for k, v := range params {
		if v == "" || seen[k] || k == "target_id" {
			continue
		}
		rest = append(rest, fmt.Sprintf("%s=%s", strings.ReplaceAll(k, "_", "-"), v))
	}
	sort.Strings(rest)
	return strings.Join(append(parts, rest...), " ")
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b model.RiskLevel) model.RiskLevel {
	if a == model.RiskHigh || b == model.RiskHigh {
		return model.RiskHigh
	}
	return model.RiskMedium
}
