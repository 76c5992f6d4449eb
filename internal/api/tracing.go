package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CLIUserAgentProduct is the product token the vibe-review CLI sends.
const CLIUserAgentProduct = "vibe-review-cli"

// CLIInfo is what the CLI reports about itself in its User-Agent.
type CLIInfo struct {
	Version string
	OS      string
	Arch    string
}

// ParseCLIUserAgent parses "vibe-review-cli/<version> (<os>; <arch>)". It
// returns nil for any other agent.
func ParseCLIUserAgent(ua string) *CLIInfo {
	rest, ok := strings.CutPrefix(ua, CLIUserAgentProduct+"/")
	if !ok {
		return nil
	}
	version, comment, _ := strings.Cut(rest, " ")
	if version == "" {
		return nil
	}
	info := &CLIInfo{Version: version}

	comment = strings.TrimSpace(comment)
	if inner, ok := strings.CutPrefix(comment, "("); ok {
		if inner, ok = strings.CutSuffix(inner, ")"); ok {
			osName, arch, _ := strings.Cut(inner, ";")
			info.OS = strings.TrimSpace(osName)
			info.Arch = strings.TrimSpace(arch)
		}
	}
	return info
}

// SpanEnricher adds CLI version, OS and architecture to the current span
// when the request comes from the vibe-review CLI.
func SpanEnricher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cli := ParseCLIUserAgent(r.Header.Get("User-Agent")); cli != nil {
			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(
				attribute.String("cli.version", cli.Version),
				attribute.String("cli.os", cli.OS),
				attribute.String("cli.arch", cli.Arch),
			)
		}
		next.ServeHTTP(w, r)
	})
}
