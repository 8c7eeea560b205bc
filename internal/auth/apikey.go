package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minAPIKeyLength = 8

// ValidateAPIKey checks minimal key requirements before hashing.
func ValidateAPIKey(key string) error {
	if len(strings.TrimSpace(key)) < minAPIKeyLength {
		return fmt.Errorf("api key must be at least %d characters", minAPIKeyLength)
	}
	return nil
}

// HashAPIKey hashes one plaintext API key for persistent storage.
func HashAPIKey(key string) (string, error) {
	if err := ValidateAPIKey(key); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyAPIKey verifies a presented key against either a bcrypt hash or a
// plaintext key. The hash wins when both are configured.
func VerifyAPIKey(candidate, plaintext, hash string) bool {
	if strings.TrimSpace(hash) != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
	}
	if strings.TrimSpace(plaintext) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(plaintext)) == 1
}

// NewUploadToken mints one single-use upload token.
func NewUploadToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashUploadToken derives the persisted form of an upload token. Only the
// hash is stored; a leaked database row does not expose usable tokens.
func HashUploadToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
