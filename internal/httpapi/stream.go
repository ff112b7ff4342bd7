package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"schedulers.app/internal/auth"
)

const streamHeartbeat = 15 * time.Second

// handleActivityStream serves persisted audit entries as Server-Sent Events.
// The session is re-checked on every heartbeat and the stream ends once it
// no longer validates.
func (a *API) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRoles(w, r, auth.AdminRoles...); !ok {
		return
	}
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.feed.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		a.logger.Warn("activity stream flush unsupported", "error", err)
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: activity\nid: " + e.ID + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-heartbeat.C:
			if !a.sessionStillValid(r.Context()) {
				_, _ = w.Write([]byte("event: end\ndata: session ended\n\n"))
				_ = rc.Flush()
				return
			}
			_, _ = w.Write([]byte(": ping\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// sessionStillValid reports false only for a definite rejection; storage
// errors keep the stream open until the next heartbeat.
func (a *API) sessionStillValid(ctx context.Context) bool {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || id.Token == "" {
		return true
	}
	if _, err := a.auth.ValidateSession(ctx, id.Token); err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return false
		}
		a.logger.Warn("activity stream session check failed", "error", err)
	}
	return true
}
