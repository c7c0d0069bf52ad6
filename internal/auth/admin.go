// Package auth provides admin credential checking and the admin session
// registry for keygate.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a submitted admin password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialChecker compares submitted admin passwords against the single
// configured secret, either a plaintext secret or a bcrypt hash.
type CredentialChecker struct {
	secretDigest [sha256.Size]byte
	bcryptHash   []byte
}

// NewCredentialChecker creates a checker. A non-empty passwordHash (bcrypt)
// takes precedence over the plaintext password.
func NewCredentialChecker(password, passwordHash string) (*CredentialChecker, error) {
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("parse admin password hash: %w", err)
		}
		return &CredentialChecker{bcryptHash: []byte(passwordHash)}, nil
	}
	if password == "" {
		return nil, errors.New("admin password must not be empty")
	}
	return &CredentialChecker{secretDigest: sha256.Sum256([]byte(password))}, nil
}

// Check reports whether submitted matches the configured secret. Plaintext
// secrets are compared as fixed-length digests in constant time, so neither
// content nor length leaks through timing.
func (c *CredentialChecker) Check(submitted string) bool {
	if c.bcryptHash != nil {
		return bcrypt.CompareHashAndPassword(c.bcryptHash, []byte(submitted)) == nil
	}
	digest := sha256.Sum256([]byte(submitted))
	return subtle.ConstantTimeCompare(digest[:], c.secretDigest[:]) == 1
}

// HashPassword creates a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
