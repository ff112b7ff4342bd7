package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/obs"
)

const (
	minPasswordLength = 8
	dummyPassword     = "schedulers-timing-equalizer"
)

// Service authenticates principals and manages their sessions.
type Service struct {
	store    CredentialStore
	sessions *SessionManager
	hasher   PasswordHasher
	lockout  LockoutPolicy
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	dummyOnce     sync.Once
	dummyVerifier string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher replaces the default PBKDF2 hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: nil password hasher")
		}
		s.hasher = h
		return nil
	}
}

// WithLockoutPolicy overrides the five-failure, thirty-minute default.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		s.lockout = p.normalized()
		return nil
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(r *audit.Recorder) ServiceOption {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store CredentialStore, sessions *SessionManager, opts ...ServiceOption) (*Service, error) {
	if store == nil || sessions == nil {
		return nil, errors.New("auth: credential store and session manager are required")
	}
	svc := &Service{
		store:    store,
		sessions: sessions,
		hasher:   NewPBKDF2Hasher(DefaultPBKDF2Iterations),
		lockout:  DefaultLockoutPolicy(),
		logger:   obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.logger = svc.logger.With("component", "auth")
	return svc, nil
}

// Sessions exposes the session manager (cookie TTL, purge loop).
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Authenticate checks identifier and secret and opens a session on success.
// Unknown identifiers, inactive accounts and wrong passwords all yield
// ErrInvalidCredentials. A locked account yields ErrAccountLocked without
// the password being verified.
func (s *Service) Authenticate(ctx context.Context, identifier, secret, origin string) (LoginResult, error) {
	ctx = audit.WithOrigin(ctx, origin)
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || secret == "" {
		obs.ObserveLogin("invalid")
		return LoginResult{}, ErrInvalidCredentials
	}

	p, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Matches(s.dummy(), secret)
			s.loginFailed(ctx, nil, identifier, "unknown identifier")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, s.unavailable("find principal", err)
	}

	now := s.now()
	if !p.Active {
		s.hasher.Matches(s.dummy(), secret)
		s.loginFailed(ctx, &p.ID, identifier, "inactive")
		return LoginResult{}, ErrInvalidCredentials
	}

	if s.lockout.Status(p.Lockout(), now) == LockLocked {
		obs.ObserveLogin("locked")
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      audit.Actor(p.ID),
			Action:       audit.ActionLoginLocked,
			ResourceType: "principal",
			ResourceID:   strconv.FormatInt(p.ID, 10),
			Detail:       "locked until " + p.LockedUntil.UTC().Format(time.RFC3339),
		})
		return LoginResult{}, ErrAccountLocked
	}

	if !s.hasher.Matches(p.Verifier, secret) {
		return LoginResult{}, s.handleMismatch(ctx, p, now)
	}

	var rehashed string
	if s.hasher.NeedsRehash(p.Verifier) {
		v, err := s.hasher.Derive(secret)
		if err != nil {
			s.logger.Warn("password rehash failed", "principal_id", p.ID, "error", err)
		} else {
			rehashed = v
		}
	}
	if err := s.store.RecordSuccess(ctx, p.ID, now.UTC(), rehashed); err != nil {
		return LoginResult{}, s.unavailable("record login success", err)
	}
	if rehashed != "" {
		p.Verifier = rehashed
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      audit.Actor(p.ID),
			Action:       audit.ActionPasswordUpgraded,
			ResourceType: "principal",
			ResourceID:   strconv.FormatInt(p.ID, 10),
		})
	}
	last := now.UTC()
	p.FailedAttempts, p.LockedUntil, p.LastLogin = 0, nil, &last

	token, sess, err := s.sessions.Create(ctx, *p, origin)
	if err != nil {
		return LoginResult{}, s.unavailable("create session", err)
	}
	obs.ObserveLogin("success")
	obs.ObserveSessionCreated()
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      audit.Actor(p.ID),
		Action:       audit.ActionLoginSuccess,
		ResourceType: "principal",
		ResourceID:   strconv.FormatInt(p.ID, 10),
	})
	return LoginResult{Token: token, Session: sess, Principal: *p}, nil
}

func (s *Service) handleMismatch(ctx context.Context, p *Principal, now time.Time) error {
	var justLocked bool
	next, err := s.store.RecordFailure(ctx, p.ID, func(st LockoutState) LockoutState {
		n := s.lockout.Fail(st, now)
		justLocked = s.lockout.Status(st, now) == LockOpen && s.lockout.Status(n, now) == LockLocked
		return n
	})
	if err != nil {
		return s.unavailable("record login failure", err)
	}
	s.loginFailed(ctx, &p.ID, p.Username, fmt.Sprintf("attempt %d", next.FailedAttempts))

	if justLocked {
		obs.ObserveLockout()
		s.logger.Warn("account locked", "principal_id", p.ID, "until", next.LockedUntil)
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      audit.Actor(p.ID),
			Action:       audit.ActionAccountLocked,
			ResourceType: "principal",
			ResourceID:   strconv.FormatInt(p.ID, 10),
			Detail:       fmt.Sprintf("%d failed attempts", next.FailedAttempts),
		})
	}
	return ErrInvalidCredentials
}

func (s *Service) loginFailed(ctx context.Context, actor *int64, identifier, reason string) {
	obs.ObserveLogin("invalid")
	e := audit.Entry{
		ActorID: actor,
		Action:  audit.ActionLoginFailed,
		Detail:  "identifier=" + identifier + " reason=" + reason,
	}
	if actor != nil {
		e.ResourceType, e.ResourceID = "principal", strconv.FormatInt(*actor, 10)
	}
	s.recorder.Record(ctx, e)
}

// dummy returns a verifier used to equalize timing when no principal matched.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		v, err := s.hasher.Derive(dummyPassword)
		if err != nil {
			s.logger.Error("derive dummy verifier", "error", err)
			return
		}
		s.dummyVerifier = v
	})
	return s.dummyVerifier
}

// ValidateSession resolves token to its principal, re-reading the current
// role and active flag. Every failure is ErrUnauthenticated except storage
// outages, which are ErrServiceUnavailable.
func (s *Service) ValidateSession(ctx context.Context, token string) (Principal, error) {
	sess, err := s.sessions.Validate(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionExpired):
		obs.ObserveSessionRejected("expired")
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	case errors.Is(err, ErrSessionInvalid):
		obs.ObserveSessionRejected("invalid")
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	default:
		s.logger.Error("session lookup failed", "error", err)
		return Principal{}, err
	}

	p, err := s.store.FindByID(ctx, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveSessionRejected("inactive")
			s.dropSession(ctx, token)
			return Principal{}, fmt.Errorf("%w: principal %d no longer exists", ErrUnauthenticated, sess.PrincipalID)
		}
		return Principal{}, s.unavailable("load session principal", err)
	}
	if !p.Active {
		obs.ObserveSessionRejected("inactive")
		s.dropSession(ctx, token)
		return Principal{}, fmt.Errorf("%w: principal %d is inactive", ErrUnauthenticated, p.ID)
	}
	if p.Role != sess.Role {
		s.logger.Info("role changed since login", "principal_id", p.ID, "login_role", sess.Role, "role", p.Role)
	}
	return *p, nil
}

func (s *Service) dropSession(ctx context.Context, token string) {
	if _, err := s.sessions.Destroy(ctx, token); err != nil && !errors.Is(err, ErrSessionInvalid) {
		s.logger.Warn("session cleanup failed", "error", err)
	}
}

// Logout destroys the session. Unknown or already expired tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.Destroy(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionInvalid) {
			return nil
		}
		return s.unavailable("destroy session", err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      audit.Actor(sess.PrincipalID),
		Action:       audit.ActionLogout,
		ResourceType: "principal",
		ResourceID:   strconv.FormatInt(sess.PrincipalID, 10),
	})
	return nil
}

// CreatePrincipal registers a new account on behalf of an administrator.
// Only a superadmin may create another superadmin.
func (s *Service) CreatePrincipal(ctx context.Context, actor Principal, in NewPrincipal) (Principal, error) {
	if err := Authorize(actor, AdminRoles...); err != nil {
		return Principal{}, err
	}
	p, err := s.validateNewPrincipal(in)
	if err != nil {
		return Principal{}, err
	}
	if p.Role == RoleSuperAdmin && actor.Role != RoleSuperAdmin {
		return Principal{}, fmt.Errorf("%w: only a superadmin may grant %s", ErrForbidden, RoleSuperAdmin)
	}
	if err := s.insert(ctx, &p, in.Password); err != nil {
		return Principal{}, err
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      audit.Actor(actor.ID),
		Action:       audit.ActionCreatePrincipal,
		ResourceType: "principal",
		ResourceID:   strconv.FormatInt(p.ID, 10),
		Detail:       "username=" + p.Username + " role=" + string(p.Role),
	})
	return p, nil
}

// Bootstrap creates the initial superadmin when none exists. It reports
// whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, in NewPrincipal) (bool, error) {
	n, err := s.store.CountByRole(ctx, RoleSuperAdmin)
	if err != nil {
		return false, s.unavailable("count superadmins", err)
	}
	if n > 0 {
		return false, nil
	}
	in.Role = string(RoleSuperAdmin)
	p, err := s.validateNewPrincipal(in)
	if err != nil {
		return false, err
	}
	if err := s.insert(ctx, &p, in.Password); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	s.logger.Warn("bootstrap superadmin created; change its password", "username", p.Username)
	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionBootstrapAccount,
		ResourceType: "principal",
		ResourceID:   strconv.FormatInt(p.ID, 10),
		Origin:       "system",
	})
	return true, nil
}

func (s *Service) insert(ctx context.Context, p *Principal, password string) error {
	verifier, err := s.hasher.Derive(password)
	if err != nil {
		return s.unavailable("derive verifier", err)
	}
	p.Verifier = verifier
	p.Active = true
	p.CreatedAt = s.now().UTC()
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return s.unavailable("create principal", err)
	}
	return nil
}

func (s *Service) validateNewPrincipal(in NewPrincipal) (Principal, error) {
	username, err := ValidateUsername(in.Username)
	if err != nil {
		return Principal{}, err
	}
	if len(in.Password) < minPasswordLength {
		return Principal{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = username
	}
	email, err := ValidateEmail(in.Email)
	if err != nil {
		return Principal{}, err
	}
	role := RoleOfficial
	if strings.TrimSpace(in.Role) != "" {
		r, err := ParseRole(in.Role)
		if err != nil {
			return Principal{}, err
		}
		role = r
	}
	return Principal{
		Username:    username,
		DisplayName: display,
		Email:       email,
		Phone:       strings.TrimSpace(in.Phone),
		Role:        role,
	}, nil
}

func (s *Service) unavailable(op string, err error) error {
	s.logger.Error(op+" failed", "error", err)
	if errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, op, err)
}
