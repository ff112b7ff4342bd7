package auth

import (
	"context"
	"time"
)

// CredentialStore persists principals and their lockout counters.
type CredentialStore interface {
	// FindByIdentifier matches username or email case-insensitively.
	FindByIdentifier(ctx context.Context, identifier string) (*Principal, error)
	FindByID(ctx context.Context, id int64) (*Principal, error)
	// RecordSuccess zeroes the failure counter, clears the lock and sets the
	// last login. A non-empty verifier replaces the stored one.
	RecordSuccess(ctx context.Context, id int64, at time.Time, verifier string) error
	// RecordFailure applies fn to the current lockout state atomically and
	// persists the result.
	RecordFailure(ctx context.Context, id int64, fn func(LockoutState) LockoutState) (LockoutState, error)
	CreatePrincipal(ctx context.Context, p *Principal) error
	CountByRole(ctx context.Context, role Role) (int, error)
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	FindSession(ctx context.Context, tokenHash string) (*Session, error)
	// DeleteSession removes the session and returns it; ErrNotFound if absent.
	DeleteSession(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
