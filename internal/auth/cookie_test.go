package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testCookieSecret = []byte("0123456789abcdef0123456789abcdef")

func TestCookieSealOpen(t *testing.T) {
	clock := newFakeClock()
	c, err := NewCookieCodec(testCookieSecret, time.Hour, clock.Now)
	if err != nil {
		t.Fatalf("NewCookieCodec: %v", err)
	}
	value, err := c.Seal("opaque-token", clock.Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	token, err := c.Open(value)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if token != "opaque-token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestCookieRejectsTampering(t *testing.T) {
	clock := newFakeClock()
	c, _ := NewCookieCodec(testCookieSecret, time.Hour, clock.Now)
	value, _ := c.Seal("opaque-token", clock.Now())

	other, _ := NewCookieCodec([]byte(strings.Repeat("x", 32)), time.Hour, clock.Now)
	forged, _ := other.Seal("opaque-token", clock.Now())

	for name, v := range map[string]string{
		"empty":       "",
		"garbage":     "not.a.jwt",
		"truncated":   value[:len(value)-3],
		"foreign key": forged,
	} {
		if _, err := c.Open(v); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("%s: expected ErrSessionInvalid, got %v", name, err)
		}
	}
}

func TestCookieExpires(t *testing.T) {
	clock := newFakeClock()
	c, _ := NewCookieCodec(testCookieSecret, time.Hour, clock.Now)
	value, _ := c.Seal("opaque-token", clock.Now())

	clock.Advance(time.Hour + time.Minute)
	if _, err := c.Open(value); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestCookieRequiresLongSecret(t *testing.T) {
	if _, err := NewCookieCodec([]byte("short"), time.Hour, nil); err == nil {
		t.Fatal("expected error for short secret")
	}
}
