package auth

import (
	"fmt"
	"strings"
)

// GuardSelfMutation rejects a principal changing its own role or
// deactivating itself, whatever else the request carries.
func GuardSelfMutation(actor Principal, targetID int64, fields map[string]any) error {
	if actor.ID != targetID {
		return nil
	}
	if _, ok := fields["role"]; ok {
		return fmt.Errorf("%w: cannot change own role", ErrForbidden)
	}
	if v, ok := fields["is_active"]; ok && !truthy(v) {
		return fmt.Errorf("%w: cannot deactivate own account", ErrForbidden)
	}
	return nil
}

// GuardRoleGrant rejects anyone but a superadmin assigning the superadmin role.
func GuardRoleGrant(actor Principal, fields map[string]any) error {
	v, ok := fields["role"]
	if !ok {
		return nil
	}
	s, _ := v.(string)
	if Role(strings.ToLower(strings.TrimSpace(s))) == RoleSuperAdmin && actor.Role != RoleSuperAdmin {
		return fmt.Errorf("%w: only a superadmin may grant %s", ErrForbidden, RoleSuperAdmin)
	}
	return nil
}

// GuardPrivilegedTarget rejects role or status changes to a superadmin
// unless the actor is a superadmin too.
func GuardPrivilegedTarget(actor Principal, target Role, fields map[string]any) error {
	if target != RoleSuperAdmin || actor.Role == RoleSuperAdmin {
		return nil
	}
	_, role := fields["role"]
	_, active := fields["is_active"]
	if role || active {
		return fmt.Errorf("%w: only a superadmin may change a %s's role or status", ErrForbidden, RoleSuperAdmin)
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return false
	}
}
