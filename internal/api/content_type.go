package api

import (
	"mime"
	"net/http"

	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

// validateContentType requires a JSON body on POST, PUT and PATCH requests.
func validateContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		log := logger.Ctx(r.Context())
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			log.Info("request missing Content-Type header", "method", r.Method, "path", r.URL.Path)
			respondError(w, http.StatusUnsupportedMediaType, "Content-Type header required")
			return
		}

		// "application/json; charset=utf-8" is fine.
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			log.Info("request with invalid Content-Type", "method", r.Method, "path", r.URL.Path, "content_type", contentType)
			respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}

		next.ServeHTTP(w, r)
	})
}
