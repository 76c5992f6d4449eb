// Package api serves the vibe-review REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/ratelimit"
	"github.com/ijg0341/vibe-review-sub000/internal/storage"
)

// Body limits per endpoint.
const (
	MaxUploadBodyBytes   = 50 * 1024 * 1024
	MaxClassifyBodyBytes = 10 * 1024 * 1024
)

// Store is the database surface the handlers use.
type Store interface {
	auth.KeyStore
	Ping(ctx context.Context) error
	ListFiles(ctx context.Context, owner string, limit int) ([]db.TranscriptFile, error)
	GetFileForOwner(ctx context.Context, fileID, owner string) (*db.TranscriptFile, error)
	ListRecords(ctx context.Context, fileID string, f db.RecordFilter) ([]db.StoredRecord, error)
	CategoryCounts(ctx context.Context, fileID string) (map[string]int, error)
	SubagentCounts(ctx context.Context, fileID string) (map[string]int, error)
	GetStats(ctx context.Context, fileID string) (*db.TranscriptStats, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// ChunkDeleter removes the stored raw lines of a file.
type ChunkDeleter interface {
	DeleteFileChunks(ctx context.Context, externalID, fileName string) (int, error)
}

// Config holds the HTTP-facing settings of the server.
type Config struct {
	// AllowedOrigins are the browser origins allowed to call the API.
	AllowedOrigins []string
	// UploadLimiter and ClassifyLimiter may be nil to disable limiting.
	UploadLimiter   ratelimit.Limiter
	ClassifyLimiter ratelimit.Limiter
}

// Server holds dependencies for API handlers.
type Server struct {
	store  Store
	chunks ChunkDeleter
	ingest *ingest.Service
	cfg    Config
}

// NewServer creates a new API server.
func NewServer(store Store, chunks ChunkDeleter, svc *ingest.Service, cfg Config) *Server {
	return &Server{store: store, chunks: chunks, ingest: svc, cfg: cfg}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(SpanEnricher)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(newCompressor().Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/subagents", s.handleSubagents)

		// Unauthenticated engine access.
		r.Group(func(r chi.Router) {
			r.Use(csrfWhenNoBearer(crossOriginProtect(s.newCrossOriginProtection())))
			r.Use(limit(s.cfg.ClassifyLimiter, ratelimit.ClientIP))
			r.Use(decompressMiddleware())
			r.Use(validateContentType)
			r.Post("/classify", withMaxBody(MaxClassifyBodyBytes, s.handleClassify))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.store))

			r.Get("/transcripts", s.handleListTranscripts)
			r.Get("/transcripts/{fileID}", s.handleGetTranscript)
			r.Get("/transcripts/{fileID}/records", s.handleListRecords)
			r.Get("/transcripts/{fileID}/counts", s.handleCounts)
			r.Get("/transcripts/{fileID}/view", s.handleView)
			r.Get("/transcripts/{fileID}/raw", s.handleRaw)
			r.Delete("/transcripts/{fileID}", s.handleDeleteTranscript)

			r.Group(func(r chi.Router) {
				r.Use(limit(s.cfg.UploadLimiter, ratelimit.Owner))
				r.Use(decompressMiddleware())
				r.Use(validateContentType)
				r.Post("/transcripts/upload", withMaxBody(MaxUploadBodyBytes, s.handleUpload))
			})
		})
	})

	return r
}

func (s *Server) newCrossOriginProtection() *csrf.Protection {
	p := csrf.New()
	for _, origin := range s.cfg.AllowedOrigins {
		if err := p.AddTrustedOrigin(origin); err != nil {
			logger.Warn("ignoring invalid allowed origin", "origin", origin, "error", err)
		}
	}
	return p
}

// crossOriginProtect rejects cross-site browser requests with a JSON error.
func crossOriginProtect(p *csrf.Protection) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := p.Check(r); err != nil {
				logger.Ctx(r.Context()).Info("cross-origin request rejected", "error", err)
				respondError(w, http.StatusForbidden, "Cross-origin request rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// csrfWhenNoBearer applies mw unless the request carries a Bearer token.
func csrfWhenNoBearer(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func limit(l ratelimit.Limiter, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(l, key)
}

// withMaxBody caps the request body of h at n bytes.
func withMaxBody(n int64, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		logger.Ctx(r.Context()).Error("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "vibe-review",
		"version": "v1",
	})
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error JSON response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func isMaxBytes(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// respondServiceError maps domain errors onto HTTP statuses. Unexpected
// errors are logged and reported without detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isMaxBytes(err):
		respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, ingest.ErrEmptyUpload),
		errors.Is(err, ingest.ErrInvalidFileName),
		errors.Is(err, ingest.ErrInvalidExternalID),
		errors.Is(err, ingest.ErrLineBreakInLine):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrFileNotFound), errors.Is(err, storage.ErrObjectNotFound):
		respondError(w, http.StatusNotFound, "Transcript not found")
	case errors.Is(err, db.ErrForbidden):
		respondError(w, http.StatusForbidden, "Transcript belongs to another owner")
	case errors.Is(err, storage.ErrNetworkError):
		logger.Ctx(r.Context()).Error("storage unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		logger.Ctx(r.Context()).Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
