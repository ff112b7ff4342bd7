package auth

import "fmt"

// Authorize permits an active principal holding one of roles.
func Authorize(p Principal, roles ...Role) error {
	if !p.Active {
		return fmt.Errorf("%w: principal %d is inactive", ErrForbidden, p.ID)
	}
	if !p.HasRole(roles...) {
		return fmt.Errorf("%w: role %s not permitted", ErrForbidden, p.Role)
	}
	return nil
}
