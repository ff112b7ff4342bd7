package auth

import "context"

// Identity is the caller as established by session validation.
type Identity struct {
	Principal Principal
	// Token is the raw session token, kept so long-lived requests can
	// re-check the session.
	Token string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext reports the identity attached by WithIdentity. An
// identity without a principal ID counts as absent.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.Principal.ID == 0 {
		return Identity{}, false
	}
	return id, true
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.Principal, ok
}
