package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseCLIUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want *CLIInfo
	}{
		{"vibe-review-cli/1.2.0 (darwin; arm64)", &CLIInfo{Version: "1.2.0", OS: "darwin", Arch: "arm64"}},
		{"vibe-review-cli/dev", &CLIInfo{Version: "dev"}},
		{"vibe-review-cli/0.1.0 (linux;amd64)", &CLIInfo{Version: "0.1.0", OS: "linux", Arch: "amd64"}},
		{"vibe-review-cli/", nil},
		{"curl/8.4.0", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := ParseCLIUserAgent(tt.ua)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseCLIUserAgent(%q) = %+v, want nil", tt.ua, got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("ParseCLIUserAgent(%q) = %+v, want %+v", tt.ua, got, tt.want)
		}
	}
}

func TestSpanEnricher(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	req.Header.Set("User-Agent", "vibe-review-cli/1.2.0 (linux; amd64)")

	SpanEnricher(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans", len(ended))
	}
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["cli.version"] != "1.2.0" || attrs["cli.os"] != "linux" || attrs["cli.arch"] != "amd64" {
		t.Errorf("span attributes = %v", attrs)
	}
}
