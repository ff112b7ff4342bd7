package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrConflict           = errors.New("auth: conflict")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrServiceUnavailable = errors.New("auth: service unavailable")

	// Session failures are reported to callers as ErrUnauthenticated.
	ErrSessionExpired = errors.New("auth: session expired")
	ErrSessionInvalid = errors.New("auth: session invalid")
)
