package auth

import (
	"context"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/util"
)

// Gate resolves users to roles to permissions and enforces per-user
// device scopes. Denials carry the reason; callers audit before
// surfacing them.
type Gate struct {
	store store.Store
}

// NewGate creates an authorization gate backed by the store.
func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// Authorize verifies that the user may invoke the tool against every
// target device. It returns the resolved user on success.
func (g *Gate) Authorize(ctx context.Context, userSub, toolName string, deviceIDs []string) (*model.User, error) {
	user, err := g.store.GetUser(ctx, userSub)
	if err != nil {
		return nil, &util.UnauthorizedError{User: userSub, Tool: toolName, Reason: "unknown user"}
	}
	if !user.IsActive {
		return user, &util.UnauthorizedError{User: userSub, Tool: toolName, Reason: "user is inactive"}
	}

	spec, err := LookupTool(toolName)
	if err != nil {
		return user, &util.UnauthorizedError{User: userSub, Tool: toolName, Reason: err.Error()}
	}

	role, err := g.store.GetRoleByName(ctx, user.RoleName)
	if err != nil {
		return user, &util.UnauthorizedError{User: userSub, Tool: toolName,
			Reason:            "no role assigned",
			MissingPermission: spec.ResourceType + ":" + spec.Action,
		}
	}
	perms, err := g.store.PermissionsForRole(ctx, role.ID)
	if err != nil {
		return user, err
	}

	// Every target device needs a matching permission row, exact id
	// or wildcard.
	for _, deviceID := range deviceIDs {
		if !hasPermission(perms, spec.ResourceType, deviceID, spec.Action) {
			return user, &util.UnauthorizedError{
				User:              userSub,
				Tool:              toolName,
				Reason:            "role lacks required permission",
				MissingPermission: spec.ResourceType + ":" + spec.Action,
			}
		}
	}
	if len(deviceIDs) == 0 {
		if !hasPermission(perms, spec.ResourceType, model.WildcardResource, spec.Action) {
			return user, &util.UnauthorizedError{
				User:              userSub,
				Tool:              toolName,
				Reason:            "role lacks required permission",
				MissingPermission: spec.ResourceType + ":" + spec.Action,
			}
		}
	}

	// Device scope filtering. Empty scopes means all devices.
	var outOfScope []string
	for _, deviceID := range deviceIDs {
		if !user.InScope(deviceID) {
			outOfScope = append(outOfScope, deviceID)
		}
	}
	if len(outOfScope) > 0 {
		return user, &util.UnauthorizedError{
			User:              userSub,
			Tool:              toolName,
			Reason:            "devices outside user scope",
			OutOfScopeDevices: outOfScope,
		}
	}

	return user, nil
}

func hasPermission(perms []model.Permission, resourceType, resourceID, action string) bool {
	for _, p := range perms {
		if p.Matches(resourceType, resourceID, action) {
			return true
		}
	}
	return false
}
