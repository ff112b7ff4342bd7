package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// Role is the coarse authorization level of a principal.
type Role string

const (
	RoleOfficial   Role = "official"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// AdminRoles may edit scheduling data and manage principals.
var AdminRoles = []Role{RoleAdmin, RoleSuperAdmin}

// Roles lists every known role, lowest privilege first.
var Roles = []Role{RoleOfficial, RoleAdmin, RoleSuperAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOfficial, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes s and returns the matching role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Principal is an account that can authenticate.
type Principal struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Verifier       string     `json:"-"`
	DisplayName    string     `json:"display_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	Role           Role       `json:"role"`
	Active         bool       `json:"is_active"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Lockout returns the lockout counters carried by p.
func (p Principal) Lockout() LockoutState {
	return LockoutState{FailedAttempts: p.FailedAttempts, LockedUntil: p.LockedUntil}
}

// HasRole reports whether p holds one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Session is the server-side record of a login. The raw token is never stored.
type Session struct {
	TokenHash   string
	PrincipalID int64
	// Role is a snapshot taken at login; authorization uses the role re-read on validation.
	Role      Role
	CreatedAt time.Time
	Origin    string
}

// ExpiresAt returns when s stops being valid under ttl.
func (s Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// NewPrincipal is the input to Service.CreatePrincipal.
type NewPrincipal struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	Token     string
	Session   Session
	Principal Principal
}

// NormalizeIdentifier lower-cases and trims a username or email.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

const (
	maxUsernameLength = 64
	maxEmailLength    = 254
)

// ValidateUsername normalizes s and rejects empty, long or spaced usernames.
func ValidateUsername(s string) (string, error) {
	username := NormalizeIdentifier(s)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(username) > maxUsernameLength || strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: username must be at most %d characters without spaces", ErrInvalidInput, maxUsernameLength)
	}
	return username, nil
}

// ValidateEmail normalizes s and requires a bare address, no display name.
func ValidateEmail(s string) (string, error) {
	email := NormalizeIdentifier(s)
	if email == "" || len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return email, nil
}
