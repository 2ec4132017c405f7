package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
)

// GenerateAPIKey returns a random URL-safe API key
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(keyBytes), nil
}

// HashAPIKey hashes key for storage in the config. cost 0 uses bcrypt's default.
func HashAPIKey(key string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// APIKeyChecker validates bearer tokens against one stored bcrypt hash
type APIKeyChecker struct {
	hash []byte
}

// NewAPIKeyChecker rejects anything that is not a bcrypt hash
func NewAPIKeyChecker(hash string) (*APIKeyChecker, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid API key hash: %w", err)
	}
	return &APIKeyChecker{hash: []byte(hash)}, nil
}

// Validate checks a presented key
func (c *APIKeyChecker) Validate(key string) error {
	if key == "" {
		return ErrMissingToken
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(key)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// TokenFromRequest reads "Authorization: Bearer <key>" or X-API-Key
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

// Middleware rejects requests without a valid key. Paths in open are
// served without one.
func (c *APIKeyChecker) Middleware(open ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(open))
	for _, p := range open {
		exempt[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if err := c.Validate(TokenFromRequest(r)); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="shotread"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
