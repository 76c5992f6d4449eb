package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

// Maximum length for error messages in logs
const maxErrorMessageLength = 200

const maxUserAgentLength = 100

// AccessLog logs one structured line per request with its URI, client IP,
// status, size and duration. 4xx responses add their error message; 5xx
// bodies are never logged. logger.Middleware must run first: the line takes
// method, path and request ID from the request-scoped logger.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // if WriteHeader is never called
		}
		next.ServeHTTP(lrw, r)

		attrs := []any{
			"uri", sanitizeLogValue(r.URL.RequestURI()),
			"client_ip", r.RemoteAddr,
			"status", lrw.statusCode,
			"bytes", lrw.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			attrs = append(attrs, "proto", sanitizeLogValue(proto))
		}
		if lrw.statusCode >= 400 && lrw.statusCode < 500 && len(lrw.body) > 0 {
			if msg := extractErrorMessage(lrw.body); msg != "" {
				attrs = append(attrs, "err", msg)
			}
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			attrs = append(attrs, "ua", truncateRunes(sanitizeLogValue(ua), maxUserAgentLength))
		}

		level := slog.LevelInfo
		if lrw.statusCode >= 500 {
			level = slog.LevelError
		}
		logger.Ctx(r.Context()).Log(r.Context(), level, "request", attrs...)
	})
}

// sanitizeLogValue replaces control characters with spaces so a value
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 32 || r == 127 {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}

// extractErrorMessage returns the "error" field of a JSON body, or the
// trimmed body itself, sanitized and truncated.
func extractErrorMessage(body []byte) string {
	var msg string
	var jsonErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &jsonErr); err == nil && jsonErr.Error != "" {
		msg = jsonErr.Error
	} else {
		msg = strings.TrimSpace(string(body))
	}
	return truncateRunes(sanitizeLogValue(msg), maxErrorMessageLength)
}

// loggingResponseWriter captures status, size and the start of 4xx bodies.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	body         []byte
	wroteHeader  bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if !lrw.wroteHeader {
		lrw.statusCode = code
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	if lrw.statusCode >= 400 && lrw.statusCode < 500 {
		// Room for the JSON wrapper around a full-length message.
		maxCapture := maxErrorMessageLength + 50
		if remaining := maxCapture - len(lrw.body); remaining > 0 {
			if len(b) < remaining {
				remaining = len(b)
			}
			lrw.body = append(lrw.body, b[:remaining]...)
		}
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += n
	return n, err
}

// Flush implements http.Flusher.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
