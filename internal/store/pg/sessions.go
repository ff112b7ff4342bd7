package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"schedulers.app/internal/auth"
)

var _ auth.SessionStore = (*Store)(nil)

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (token_hash, principal_id, role, origin, created_at)
		values ($1, $2, $3, $4, $5)
	`, sess.TokenHash, sess.PrincipalID, string(sess.Role), nullIfEmpty(sess.Origin), sess.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *Store) FindSession(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		sess   auth.Session
		role   string
		origin sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select token_hash, principal_id, role, origin, created_at
		from sessions
		where token_hash = $1
	`, tokenHash).Scan(&sess.TokenHash, &sess.PrincipalID, &role, &origin, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Role = auth.Role(role)
	sess.Origin = origin.String
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		sess   auth.Session
		role   string
		origin sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		delete from sessions
		where token_hash = $1
		returning token_hash, principal_id, role, origin, created_at
	`, tokenHash).Scan(&sess.TokenHash, &sess.PrincipalID, &role, &origin, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Role = auth.Role(role)
	sess.Origin = origin.String
	return &sess, nil
}

func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where created_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
