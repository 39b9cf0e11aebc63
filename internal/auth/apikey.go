// Package auth provides the credential primitives used by the identity service:
// API key generation, key digests for lookup, and bcrypt password hashing.
// See internal/middleware/auth.go for the request-time check that uses them.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// APIKeyHeader carries the key on every authenticated request.
	APIKeyHeader = "X-API-Key"
)

// ErrEmptyPassword is returned by HashPassword for an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns: full key (returned to the owner), SHA-256 digest (the lookup index),
// display prefix.
//
// A digest rather than bcrypt is stored for lookup: the key carries 256 bits of
// entropy, so a fast hash is not brute-forceable and keeps authentication O(1).
func GenerateAPIKey(prefix string) (key string, digest string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	displayPrefixStr := fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefixStr = fullKey[:DisplayPrefixLength]
	}

	return fullKey, DigestAPIKey(fullKey), displayPrefixStr, nil
}

// DigestAPIKey returns the hex SHA-256 digest used to index a key.
func DigestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKey checks if a provided key matches the stored digest in constant time.
func ValidateAPIKey(providedKey, storedDigest string) bool {
	return subtle.ConstantTimeCompare([]byte(DigestAPIKey(providedKey)), []byte(storedDigest)) == 1
}

// ExtractAPIKey normalises the X-API-Key header value. A "Bearer " prefix is
// tolerated for clients that reuse an Authorization-style value.
func ExtractAPIKey(header string) (string, error) {
	key := strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(key, "Bearer"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
		key = strings.TrimSpace(rest)
	}
	if key == "" {
		return "", errors.New("API key is empty")
	}
	return key, nil
}

// HashPassword hashes a password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
