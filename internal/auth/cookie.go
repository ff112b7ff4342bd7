package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	cookieIssuer = "schedulers.app/session"
	minCookieKey = 32
	cookieLeeway = 5 * time.Second
)

// CookieCodec wraps a session token in a signed HS256 envelope so that forged
// cookies are rejected without touching the session store.
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCookieCodec requires a secret of at least 32 bytes.
func NewCookieCodec(secret []byte, ttl time.Duration, now func() time.Time) (*CookieCodec, error) {
	if len(secret) < minCookieKey {
		return nil, fmt.Errorf("auth: cookie secret must be at least %d bytes", minCookieKey)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CookieCodec{secret: append([]byte(nil), secret...), ttl: ttl, now: now}, nil
}

// Seal returns the cookie value carrying token, issued at issuedAt.
func (c *CookieCodec) Seal(token string, issuedAt time.Time) (string, error) {
	if token == "" {
		return "", errors.New("auth: empty session token")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    cookieIssuer,
		ID:        token,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session cookie: %w", err)
	}
	return signed, nil
}

// Open verifies value and returns the embedded session token.
func (c *CookieCodec) Open(value string) (string, error) {
	if value == "" {
		return "", ErrSessionInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cookieLeeway),
		jwt.WithTimeFunc(c.now),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", ErrSessionInvalid
	}
	if claims.ID == "" {
		return "", ErrSessionInvalid
	}
	return claims.ID, nil
}
