package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultSessionTTL = time.Hour
	sessionTokenBytes = 32
)

// SessionManager issues and checks opaque session tokens. Sessions expire a
// fixed TTL after creation and are never renewed by activity.
type SessionManager struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
	rand  io.Reader
}

// NewSessionManager returns a manager over store. A non-positive ttl means DefaultSessionTTL.
func NewSessionManager(store SessionStore, ttl time.Duration, now func() time.Time) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, ttl: ttl, now: now, rand: rand.Reader}
}

// TTL returns the session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Create persists a new session for p and returns the raw token.
func (m *SessionManager) Create(ctx context.Context, p Principal, origin string) (string, Session, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := io.ReadFull(m.rand, raw); err != nil {
		return "", Session{}, fmt.Errorf("%w: read token entropy: %v", ErrServiceUnavailable, err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sess := Session{
		TokenHash:   HashToken(token),
		PrincipalID: p.ID,
		Role:        p.Role,
		CreatedAt:   m.now().UTC(),
		Origin:      origin,
	}
	if err := m.store.CreateSession(ctx, &sess); err != nil {
		return "", Session{}, fmt.Errorf("%w: create session: %v", ErrServiceUnavailable, err)
	}
	return token, sess, nil
}

// Validate returns the session for token while it is inside its validity
// window. Expired sessions are removed on sight.
func (m *SessionManager) Validate(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrSessionInvalid
	}
	hash := HashToken(token)
	sess, err := m.store.FindSession(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrSessionInvalid
		}
		return Session{}, fmt.Errorf("%w: find session: %v", ErrServiceUnavailable, err)
	}
	now := m.now()
	if now.Before(sess.CreatedAt) {
		return Session{}, ErrSessionInvalid
	}
	if !now.Before(sess.ExpiresAt(m.ttl)) {
		if _, err := m.store.DeleteSession(ctx, hash); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Default().Warn("expired session cleanup failed", "error", err)
		}
		return Session{}, ErrSessionExpired
	}
	return *sess, nil
}

// Destroy deletes the session behind token and returns it. Unknown tokens
// yield ErrSessionInvalid.
func (m *SessionManager) Destroy(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrSessionInvalid
	}
	sess, err := m.store.DeleteSession(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrSessionInvalid
		}
		return Session{}, fmt.Errorf("%w: delete session: %v", ErrServiceUnavailable, err)
	}
	return *sess, nil
}

// Purge deletes every session whose window has closed.
func (m *SessionManager) Purge(ctx context.Context) (int64, error) {
	return m.store.DeleteSessionsBefore(ctx, m.now().Add(-m.ttl))
}

// RunPurger calls Purge every interval until ctx is done.
func (m *SessionManager) RunPurger(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Purge(ctx)
			if err != nil {
				logger.Warn("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}

// HashToken is the storage key for a raw session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
