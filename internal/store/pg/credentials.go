package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"schedulers.app/internal/auth"
)

var _ auth.CredentialStore = (*Store)(nil)

const principalColumns = `id, username, password_verifier, display_name, email, phone, role, is_active,
	failed_login_attempts, locked_until, last_login, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (*auth.Principal, error) {
	var (
		p           auth.Principal
		role        string
		phone       sql.NullString
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		updatedAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Verifier, &p.DisplayName, &p.Email, &phone, &role, &p.Active,
		&p.FailedAttempts, &lockedUntil, &lastLogin, &p.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Role = auth.Role(role)
	p.Phone = phone.String
	p.LockedUntil = timePtr(lockedUntil)
	p.LastLogin = timePtr(lastLogin)
	p.UpdatedAt = timePtr(updatedAt)
	return &p, nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*auth.Principal, error) {
	identifier = auth.NormalizeIdentifier(identifier)
	row := s.db.QueryRowContext(ctx, `select `+principalColumns+`
		from principals
		where lower(username) = $1 or lower(email) = $1
		order by (lower(username) = $1) desc
		limit 1`, identifier)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) FindByID(ctx context.Context, id int64) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where id = $1`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) RecordSuccess(ctx context.Context, id int64, at time.Time, verifier string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals
		set failed_login_attempts = 0,
			locked_until = null,
			last_login = $2,
			password_verifier = coalesce($3, password_verifier)
		where id = $1
	`, id, at, nullIfEmpty(verifier))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// RecordFailure locks the principal row for the read-modify-write so that
// concurrent failures are counted exactly once each.
func (s *Store) RecordFailure(ctx context.Context, id int64, fn func(auth.LockoutState) auth.LockoutState) (auth.LockoutState, error) {
	var next auth.LockoutState
	err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		var (
			cur         auth.LockoutState
			lockedUntil sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `
			select failed_login_attempts, locked_until
			from principals
			where id = $1
			for update
		`, id).Scan(&cur.FailedAttempts, &lockedUntil)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur.LockedUntil = timePtr(lockedUntil)

		next = fn(cur)
		var until sql.NullTime
		if next.LockedUntil != nil {
			until = sql.NullTime{Time: *next.LockedUntil, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			update principals set failed_login_attempts = $2, locked_until = $3 where id = $1
		`, id, next.FailedAttempts, until)
		return err
	})
	if err != nil {
		return auth.LockoutState{}, err
	}
	return next, nil
}

// CreatePrincipal pre-checks identifier collisions and maps the unique
// index violation of a concurrent insert to auth.ErrConflict.
func (s *Store) CreatePrincipal(ctx context.Context, p *auth.Principal) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			select exists(select 1 from principals where lower(username) = lower($1) or lower(email) = lower($2))
		`, p.Username, p.Email).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return auth.ErrConflict
		}
		err := tx.QueryRowContext(ctx, `
			insert into principals (username, password_verifier, display_name, email, phone, role, is_active, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
			returning id
		`, p.Username, p.Verifier, p.DisplayName, p.Email, nullIfEmpty(p.Phone), string(p.Role), p.Active, p.CreatedAt).Scan(&p.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return auth.ErrConflict
			}
			return err
		}
		return nil
	})
}

func (s *Store) CountByRole(ctx context.Context, role auth.Role) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from principals where role = $1`, string(role)).Scan(&n)
	return n, err
}
