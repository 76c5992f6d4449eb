package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

// KeyFunc derives the limiter key of a request. An empty key falls back to
// the client address.
type KeyFunc func(*http.Request) string

// ClientIP keys by the remote address host. Behind a proxy, run chi's
// RealIP middleware first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Owner keys by the authenticated owner.
func Owner(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return "owner:" + id.Owner
	}
	return ""
}

// Middleware rejects requests over the limit with 429.
func Middleware(limiter Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				key = ClientIP(r)
			}
			if !limiter.Allow(r.Context(), key) {
				logger.Ctx(r.Context()).Warn("rate limit exceeded", "key", key)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded. Please try again later."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
