package httpapi

import (
	"net/http"
	"strconv"

	"schedulers.app/internal/auth"
	"schedulers.app/internal/entity"
)

type mutateResponse struct {
	Entity  string   `json:"entity"`
	ID      int64    `json:"id"`
	Updated []string `json:"updated"`
}

// handleMutate serves PATCH /v1/{collection}/{id}. Role checks happen inside
// the engine so that every entity applies its own editor roles and guards.
func (a *API) handleMutate(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	entityType, ok := entity.TypeForCollection(r.PathValue("collection"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, &fields, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cs, err := a.engine.Mutate(r.Context(), entityType, id, p, fields)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutateResponse{Entity: cs.Entity, ID: cs.ID, Updated: cs.Fields()})
}

func (a *API) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRoles(w, r, auth.AdminRoles...)
	if !ok {
		return
	}
	var req auth.NewPrincipal
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.auth.CreatePrincipal(r.Context(), actor, req)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", principalPath(p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleListGames(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "listings unavailable")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	games, err := a.reader.ListGames(r.Context(), limit)
	if err != nil {
		a.logger.Error("list games", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if games == nil {
		games = []entity.Game{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (a *API) handleListOfficials(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "listings unavailable")
		return
	}
	officials, err := a.reader.ListOfficials(r.Context())
	if err != nil {
		a.logger.Error("list officials", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if officials == nil {
		officials = []entity.Official{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"officials": officials})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRoles(w, r, auth.AdminRoles...); !ok {
		return
	}
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "listings unavailable")
		return
	}
	stats, err := a.reader.DashboardStats(r.Context(), a.now())
	if err != nil {
		a.logger.Error("dashboard stats", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
