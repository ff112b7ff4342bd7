package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
)

// withSession admits requests carrying a valid session cookie and stores the
// freshly loaded principal in the context. Every rejection looks the same to
// the client.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, reason := a.sessionToken(r)
		if reason != "" {
			a.deny(w, r, reason)
			return
		}
		principal, err := a.auth.ValidateSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				a.deny(w, r, err.Error())
				return
			}
			a.writeDomainError(w, r, err)
			return
		}
		ctx := auth.WithIdentity(r.Context(), auth.Identity{Principal: principal, Token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken returns the raw token from the cookie, or a denial reason.
func (a *API) sessionToken(r *http.Request) (string, string) {
	c, err := r.Cookie(a.cookieName)
	if err != nil || c.Value == "" {
		return "", "missing session cookie"
	}
	token, err := a.cookies.Open(c.Value)
	if err != nil {
		return "", err.Error()
	}
	return token, ""
}

func (a *API) deny(w http.ResponseWriter, r *http.Request, reason string) {
	a.recorder.Record(r.Context(), audit.Entry{
		Action:       audit.ActionAuthDenied,
		ResourceType: "route",
		ResourceID:   r.Method + " " + r.URL.Path,
		Detail:       reason,
	})
	if _, err := r.Cookie(a.cookieName); err == nil {
		a.clearCookie(w)
	}
	writeError(w, r, http.StatusUnauthorized, "authentication required")
}

// requireRoles checks the session principal against roles and answers 403 on
// mismatch. Callers must run behind withSession.
func (a *API) requireRoles(w http.ResponseWriter, r *http.Request, roles ...auth.Role) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	if err := auth.Authorize(p, roles...); err != nil {
		a.recorder.Record(r.Context(), audit.Entry{
			ActorID:      audit.Actor(p.ID),
			Action:       audit.ActionAccessForbidden,
			ResourceType: "route",
			ResourceID:   r.Method + " " + r.URL.Path,
			Detail:       "role=" + p.Role.String(),
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Principal{}, false
	}
	return p, true
}

func (a *API) setSessionCookie(w http.ResponseWriter, value string, sess auth.Session) {
	ttl := a.auth.Sessions().TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  sess.ExpiresAt(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func principalPath(id int64) string {
	return "/v1/principals/" + strconv.FormatInt(id, 10)
}
