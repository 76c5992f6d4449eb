package testutil

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
)

// APIKeyWithRawToken holds both the database key and the raw token.
// The raw token is needed for Authorization headers.
type APIKeyWithRawToken struct {
	*db.APIKey
	RawToken string
}

// CreateTestAPIKey creates an API key for owner and returns it with its raw
// token.
func CreateTestAPIKey(t *testing.T, env *TestEnvironment, owner, name string) *APIKeyWithRawToken {
	t.Helper()

	rawKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("failed to generate API key: %v", err)
	}
	key, err := env.DB.CreateAPIKey(env.Ctx, keyHash, name, owner)
	if err != nil {
		t.Fatalf("failed to create test API key: %v", err)
	}
	return &APIKeyWithRawToken{APIKey: key, RawToken: rawKey}
}

// ParseJSONResponse decodes JSON response body into v
func ParseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v. Body: %s", err, w.Body.String())
	}
}

// AssertStatus checks HTTP status code matches expected
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if w.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// TranscriptLines returns a session of n lines alternating user prompts and
// assistant replies, one second apart, starting at 2025-01-01T10:00:00Z.
func TranscriptLines(n int) []string {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		if i%2 == 0 {
			lines = append(lines, fmt.Sprintf(
				`{"type":"user","isSidechain":false,"uuid":"u%d","timestamp":%q,"message":{"role":"user","content":"prompt %d"}}`,
				i+1, ts, i+1))
			continue
		}
		lines = append(lines, fmt.Sprintf(
			`{"type":"assistant","isSidechain":false,"uuid":"a%d","timestamp":%q,"message":{"id":"msg_%d","model":"claude-sonnet-4","usage":{"input_tokens":100,"output_tokens":50},"content":[{"type":"text","text":"reply %d"}]}}`,
			i+1, ts, i+1, i+1))
	}
	return lines
}
