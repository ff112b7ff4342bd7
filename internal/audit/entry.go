package audit

import (
	"context"
	"time"
)

// Actions written by the identity and mutation flows.
const (
	ActionLoginSuccess     = "login_success"
	ActionLoginFailed      = "login_failed"
	ActionLoginLocked      = "login_locked"
	ActionAccountLocked    = "account_locked"
	ActionLogout           = "logout"
	ActionAuthDenied       = "auth_denied"
	ActionAccessForbidden  = "access_forbidden"
	ActionCreatePrincipal  = "create_principal"
	ActionBootstrapAccount = "bootstrap_superadmin"
	ActionPasswordUpgraded = "password_rehashed"
)

// UpdateAction is the action recorded for a generic mutation of entity.
func UpdateAction(entity string) string {
	return "update_" + entity
}

// Entry is one append-only audit record. Empty strings are stored as NULL.
type Entry struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActorID      *int64    `json:"actor_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Actor returns a pointer suitable for Entry.ActorID.
func Actor(id int64) *int64 {
	return &id
}

// Store appends entries. Implementations must never update or delete.
type Store interface {
	AppendAudit(ctx context.Context, e *Entry) error
}
