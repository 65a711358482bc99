// Package password handles credential hashing, strength policy, and the
// opaque single-use tokens behind email verification and password reset.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor
	DefaultCost = 12

	// bcrypt ignores input beyond 72 bytes; we truncate explicitly so the
	// behavior is visible rather than implicit
	maxPasswordBytes = 72

	minPasswordLength = 8

	// single-use tokens carry 32 bytes of entropy
	tokenBytes = 32
)

var (
	// ErrPasswordTooShort is returned for passwords under 8 characters
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordNoLetter is returned for passwords without a letter
	ErrPasswordNoLetter = errors.New("password must contain at least one letter")
	// ErrPasswordNoDigit is returned for passwords without a digit
	ErrPasswordNoDigit = errors.New("password must contain at least one digit")
	// ErrMismatch is returned when a password does not match its hash
	ErrMismatch = errors.New("password does not match")
)

// Hasher hashes and verifies passwords with bcrypt
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher with the given bcrypt cost. Costs outside the
// valid bcrypt range fall back to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash hashes a password with bcrypt
func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Compare checks a password against a stored hash. Returns ErrMismatch on
// non-matching passwords; other errors indicate a corrupt hash.
func (h *Hasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), truncate(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("comparing password: %w", err)
	}
	return nil
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

// ValidateStrength enforces the password policy: minimum 8 characters with
// at least one letter and one digit.
func ValidateStrength(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return ErrPasswordNoLetter
	}
	if !hasDigit {
		return ErrPasswordNoDigit
	}
	return nil
}

// GenerateToken creates an opaque single-use token. The plaintext goes to the
// user; only the SHA-256 of it is ever stored.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest used as the storage key for a
// single-use token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
