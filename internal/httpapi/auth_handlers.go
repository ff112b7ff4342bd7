package httpapi

import (
	"net/http"
	"strings"
	"time"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Principal auth.Principal `json:"principal"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	res, err := a.auth.Authenticate(r.Context(), req.Username, req.Password, audit.OriginFromContext(r.Context()))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	value, err := a.cookies.Seal(res.Token, res.Session.CreatedAt)
	if err != nil {
		a.logger.Error("seal session cookie", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	a.setSessionCookie(w, value, res.Session)
	writeJSON(w, http.StatusOK, loginResponse{
		Principal: res.Principal,
		ExpiresAt: res.Session.ExpiresAt(a.auth.Sessions().TTL()).UTC(),
	})
}

// handleLogout always clears the cookie. Tokens that no longer resolve are
// not an error.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, reason := a.sessionToken(r); reason == "" {
		if err := a.auth.Logout(r.Context(), token); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
	}
	a.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
