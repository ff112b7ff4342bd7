package entity

import (
	"schedulers.app/internal/auth"
	"schedulers.app/internal/mutation"
)

var roleNames = func() []string {
	out := make([]string, len(auth.Roles))
	for i, r := range auth.Roles {
		out[i] = string(r)
	}
	return out
}()

var principalFields = mutation.Fields{
	"username":     mutation.UsernameField(),
	"display_name": mutation.RequiredText(120),
	"email":        mutation.EmailField(),
	"phone":        mutation.TextField(40),
	"role":         mutation.EnumField(roleNames...),
	"is_active":    mutation.BoolField(),
}

// PrincipalEntity exposes principal profile updates to the mutation engine.
// Credentials and lockout counters are not mutable here.
type PrincipalEntity struct{}

func (PrincipalEntity) EntityType() string             { return TypePrincipal }
func (PrincipalEntity) Table() string                  { return "principals" }
func (PrincipalEntity) AllowedFields() mutation.Fields { return principalFields }
func (PrincipalEntity) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (PrincipalEntity) StampColumns() (string, string) { return stampAt, stampBy }
func (PrincipalEntity) UniqueFields() []string         { return []string{"username", "email"} }

// GuardMutation blocks self role changes, self deactivation and superadmin
// grants by non-superadmins.
func (PrincipalEntity) GuardMutation(actor auth.Principal, id int64, requested map[string]any) error {
	if err := auth.GuardSelfMutation(actor, id, requested); err != nil {
		return err
	}
	return auth.GuardRoleGrant(actor, requested)
}

func (PrincipalEntity) GuardColumn() string { return "role" }

// GuardTarget keeps a superadmin's role and status out of reach of admins.
func (PrincipalEntity) GuardTarget(actor auth.Principal, current any, requested map[string]any) error {
	role, _ := current.(string)
	return auth.GuardPrivilegedTarget(actor, auth.Role(role), requested)
}
