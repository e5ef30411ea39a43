package model

import "time"

// Role groups permissions under a unique name.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Permission grants an action on a resource. ResourceID "*" matches
// every resource of the type.
type Permission struct {
	ID           string `json:"id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
}

// WildcardResource matches any resource id in a permission row.
const WildcardResource = "*"

// Matches reports whether the permission covers the given resource.
func (p Permission) Matches(resourceType, resourceID, action string) bool {
	if p.ResourceType != resourceType || p.Action != action {
		return false
	}
	return p.ResourceID == WildcardResource || p.ResourceID == resourceID
}

// User is an authenticated operator. Empty DeviceScopes means all devices.
type User struct {
	Sub          string     `json:"sub"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	RoleName     string     `json:"role_name"`
	DeviceScopes []string   `json:"device_scopes,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// InScope reports whether the user may target the device. An empty scope
// list grants access to all devices.
func (u *User) InScope(deviceID string) bool {
	if len(u.DeviceScopes) == 0 {
		return true
	}
	for _, id := range u.DeviceScopes {
		if id == deviceID {
			return true
		}
	}
	return false
}
