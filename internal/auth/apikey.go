// Package auth verifies inbound gateway API keys against a bcrypt hash.
// Only the hash is configured; the plaintext key never touches disk.
package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/andremlopes/storebridge/internal/domain"
)

type KeyVerifier struct {
	hash string
}

// NewKeyVerifier builds a verifier from a bcrypt hash. An empty hash
// disables inbound auth entirely.
func NewKeyVerifier(hash string) *KeyVerifier {
	return &KeyVerifier{hash: hash}
}

func (v *KeyVerifier) Enabled() bool {
	return v.hash != ""
}

func (v *KeyVerifier) Verify(key string) error {
	if !v.Enabled() {
		return nil
	}
	if key == "" {
		return domain.ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(key)); err != nil {
		return domain.ErrInvalidAPIKey
	}
	return nil
}

// HashKey produces the bcrypt hash to configure for a new key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ExtractAPIKey pulls the key from the Authorization bearer header or the
// X-API-Key header.
func ExtractAPIKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
