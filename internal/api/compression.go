package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressibleTypes are the response types worth compressing.
var compressibleTypes = []string{
	"application/json",
	"text/plain",
	"application/x-ndjson",
}

// compressionLevel is valid for both gzip (1-9) and brotli (0-11).
const compressionLevel = 5

// newCompressor returns the response compressor. Brotli is preferred over
// gzip when the client accepts both.
func newCompressor() *middleware.Compressor {
	c := middleware.NewCompressor(compressionLevel, compressibleTypes...)
	// SetEncoder gives the most recently set encoder the highest priority.
	c.SetEncoder("gzip", func(w io.Writer, level int) io.Writer {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil
		}
		return gw
	})
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return c
}

// decompressMiddleware decodes request bodies by Content-Encoding. zstd and
// gzip are supported; a missing header passes the body through.
func decompressMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.TrimSpace(r.Header.Get("Content-Encoding"))

			if encoding == "" || strings.EqualFold(encoding, "identity") {
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case strings.EqualFold(encoding, "zstd"):
				decoder, err := zstd.NewReader(r.Body)
				if err != nil {
					respondError(w, http.StatusBadRequest, "Failed to create zstd decoder")
					return
				}
				defer decoder.Close()
				r.Body = io.NopCloser(decoder)

			case strings.EqualFold(encoding, "gzip"):
				decoder, err := gzip.NewReader(r.Body)
				if err != nil {
					respondError(w, http.StatusBadRequest, "Invalid gzip body")
					return
				}
				defer decoder.Close()
				r.Body = decoder

			default:
				respondError(w, http.StatusUnsupportedMediaType,
					"Unsupported Content-Encoding: "+encoding)
				return
			}

			// Downstream handlers see the decoded body.
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1

			next.ServeHTTP(w, r)
		})
	}
}
