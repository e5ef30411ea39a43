// Package warden is the facade the tool server calls into: it chains
// authorization, capability and environment gates, validation, risk
// assessment, plan persistence and apply execution, and shapes the tool
// result envelope.
package warden

import (
	"context"
	"strings"

	"github.com/netwarden/netwarden/pkg/apply"
	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/auth"
	"github.com/netwarden/netwarden/pkg/config"
	"github.com/netwarden/netwarden/pkg/device"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/util"
)

// Environments where write families are allowed when prod writes are
// denied by default.
var writeEnvironments = []string{string(model.EnvLab), string(model.EnvStaging)}

// Service wires the change-control core together.
type Service struct {
	cfg      *config.Config
	registry *device.Registry
	gate     *auth.Gate
	plans    *plan.Service
	executor *apply.Executor
	sink     audit.Sink
}

// New creates the facade.
func New(cfg *config.Config, registry *device.Registry, gate *auth.Gate, plans *plan.Service, executor *apply.Executor, sink audit.Sink) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		plans:    plans,
		executor: executor,
		sink:     sink,
	}
}

// Plans exposes the plan service for read paths (CLI status, approval).
func (s *Service) Plans() *plan.Service {
	return s.plans
}

// Registry exposes the device registry for read paths.
func (s *Service) Registry() *device.Registry {
	return s.registry
}

// splitTool breaks "firewall.add" into family and operation.
func splitTool(toolName string) (family string, op model.ChangeOperation) {
	parts := strings.SplitN(toolName, ".", 2)
	if len(parts) != 2 {
		return toolName, ""
	}
	return parts[0], model.ChangeOperation(parts[1])
}

// denyAudit records the denial before it is surfaced to the caller.
func (s *Service) denyAudit(ctx context.Context, user *model.User, userSub, toolName string, deviceIDs []string, cause error) {
	b := audit.Event(userSub, model.ActionPlanDenied).Tool(toolName, toolTier(toolName)).Denied(cause)
	if user != nil {
		b.User(user)
	}
	if len(deviceIDs) == 1 {
		b.DeviceID(deviceIDs[0])
	}
	audit.Record(ctx, s.sink, b.Build())
}

func toolTier(toolName string) string {
	if spec, err := auth.LookupTool(toolName); err == nil {
		return spec.Tier
	}
	return ""
}

// checkCapabilities enforces the per-family flag, the advanced-writes
// flag for modify/remove, and the professional-workflows flag on every
// target device. Enforcement happens at plan creation only; a flag
// revoked later does not stop an already-planned apply.
func checkCapabilities(devices []*model.Device, spec auth.ToolSpec) error {
	for _, d := range devices {
		flag, enabled := device.CapabilityForFamily(d, spec.Family)
		if flag == "" {
			continue
		}
		if !enabled {
			return &util.CapabilityError{
				DeviceID:            d.ID,
				RequiredCapability:  flag,
				CurrentValue:        enabled,
				AllowedEnvironments: writeEnvironments,
			}
		}
		if spec.Advanced && !d.Capabilities.AllowAdvancedWrites {
			return &util.CapabilityError{
				DeviceID:            d.ID,
				RequiredCapability:  "allow_advanced_writes",
				CurrentValue:        d.Capabilities.AllowAdvancedWrites,
				AllowedEnvironments: writeEnvironments,
			}
		}
		if spec.Tier == "professional" && !d.Capabilities.AllowProfessionalWorkflows {
			return &util.CapabilityError{
				DeviceID:            d.ID,
				RequiredCapability:  "allow_professional_workflows",
				CurrentValue:        d.Capabilities.AllowProfessionalWorkflows,
				AllowedEnvironments: writeEnvironments,
			}
		}
	}
	return nil
}

// checkEnvironments blocks write families on prod devices unless the
// configuration explicitly permits them.
func (s *Service) checkEnvironments(devices []*model.Device, toolName string) error {
	if !s.cfg.ProdWriteDenied() {
		return nil
	}
	for _, d := range devices {
		if d.IsProd() {
			return &util.EnvironmentError{
				DeviceID:            d.ID,
				DeviceEnvironment:   string(d.Environment),
				AllowedEnvironments: writeEnvironments,
				Operation:           toolName,
			}
		}
	}
	return nil
}
