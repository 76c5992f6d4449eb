// Package auth issues API keys and authenticates requests that carry them.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

// KeyPrefix starts every raw key so leaked keys are recognizable.
const KeyPrefix = "vr_"

// keyBodyLen is the number of base64 characters after the prefix.
const keyBodyLen = 40

// KeyStore is the subset of the database the middleware needs.
type KeyStore interface {
	ValidateAPIKey(ctx context.Context, keyHash string) (*db.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, keyID int64) error
}

// Identity is the caller behind a validated key.
type Identity struct {
	KeyID int64
	Owner string
}

type contextKey struct{}

// GenerateAPIKey returns a new raw key (shown to the user once) and the hash
// to store.
func GenerateAPIKey() (rawKey, keyHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	rawKey = KeyPrefix + base64.URLEncoding.EncodeToString(buf)[:keyBodyLen]
	return rawKey, HashAPIKey(rawKey), nil
}

// HashAPIKey returns the hex SHA-256 of a raw key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid API key and stores the
// caller's Identity in the request context.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "Missing Authorization header")
				return
			}
			rawKey, ok := bearerToken(header)
			if !ok {
				unauthorized(w, "Invalid Authorization header format")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), HashAPIKey(rawKey))
			if err != nil {
				if !errors.Is(err, db.ErrAPIKeyNotFound) {
					logger.Ctx(r.Context()).Error("API key validation failed", "error", err)
				}
				unauthorized(w, "Invalid API key")
				return
			}

			// Last-used bookkeeping must not delay or fail the request.
			go func(keyID int64) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := store.UpdateAPIKeyLastUsed(ctx, keyID); err != nil {
					logger.Warn("Failed to update API key last used", "error", err, "key_id", keyID)
				}
			}(key.ID)

			ctx := WithIdentity(r.Context(), Identity{KeyID: key.ID, Owner: key.Owner})
			ctx = logger.With(ctx, "owner", key.Owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="vibe-review"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
