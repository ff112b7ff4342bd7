package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultPBKDF2Iterations = 210_000
	MinPBKDF2Iterations     = 100_000

	pbkdf2Scheme     = "pbkdf2_sha256"
	pbkdf2SaltLength = 16
	pbkdf2KeyLength  = 32
	// Upper bound on iterations read back from storage.
	pbkdf2MaxIterations = 10_000_000
)

// PasswordHasher derives and checks password verifiers.
type PasswordHasher interface {
	Derive(password string) (string, error)
	Matches(verifier, password string) bool
	NeedsRehash(verifier string) bool
}

// PBKDF2Hasher produces pbkdf2_sha256$<iter>$<salt>$<key> verifiers with a
// random per-principal salt. It also accepts unsalted SHA-256 hex digests left
// over from the previous system and reports them as needing a rehash.
type PBKDF2Hasher struct {
	iterations int
	rand       io.Reader
}

// NewPBKDF2Hasher returns a hasher using iterations rounds, raised to the minimum if lower.
func NewPBKDF2Hasher(iterations int) *PBKDF2Hasher {
	if iterations < MinPBKDF2Iterations {
		iterations = MinPBKDF2Iterations
	}
	return &PBKDF2Hasher{iterations: iterations, rand: rand.Reader}
}

// Iterations returns the work factor used for new verifiers.
func (h *PBKDF2Hasher) Iterations() int { return h.iterations }

func (h *PBKDF2Hasher) Derive(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	salt := make([]byte, pbkdf2SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, h.iterations, pbkdf2KeyLength, sha256.New)
	return strings.Join([]string{
		pbkdf2Scheme,
		strconv.Itoa(h.iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// Matches reports whether password produces verifier. Malformed verifiers never match.
func (h *PBKDF2Hasher) Matches(verifier, password string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if isLegacySHA256(verifier) {
		sum := sha256.Sum256([]byte(password))
		want := strings.ToLower(verifier)
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(want)) == 1
	}
	iterations, salt, key, err := parsePBKDF2(verifier)
	if err != nil {
		return false
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, len(key), sha256.New)
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// NeedsRehash is true for legacy digests, unparseable verifiers and verifiers
// derived with fewer iterations than h uses now.
func (h *PBKDF2Hasher) NeedsRehash(verifier string) bool {
	if isLegacySHA256(verifier) {
		return true
	}
	iterations, _, _, err := parsePBKDF2(verifier)
	if err != nil {
		return true
	}
	return iterations < h.iterations
}

func parsePBKDF2(verifier string) (int, []byte, []byte, error) {
	parts := strings.Split(verifier, "$")
	if len(parts) != 4 || parts[0] != pbkdf2Scheme {
		return 0, nil, nil, fmt.Errorf("unrecognized verifier format")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 || iterations > pbkdf2MaxIterations {
		return 0, nil, nil, fmt.Errorf("invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid key")
	}
	return iterations, salt, key, nil
}

func isLegacySHA256(verifier string) bool {
	if len(verifier) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(verifier)
	return err == nil
}
