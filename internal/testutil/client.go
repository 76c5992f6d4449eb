package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/api"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
)

// TestClient calls a TestServer as one API key holder. Transport errors
// fail the test, so callers only look at responses.
type TestClient struct {
	t      *testing.T
	http   *http.Client
	base   string
	apiKey string
}

// NewTestClient returns an anonymous client for ts.
func NewTestClient(t *testing.T, ts *TestServer) *TestClient {
	return &TestClient{t: t, http: &http.Client{Timeout: 10 * time.Second}, base: ts.URL}
}

// As returns a copy sending apiKey as a Bearer token.
func (c *TestClient) As(apiKey string) *TestClient {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// Do sends method path with body JSON-encoded when non-nil.
func (c *TestClient) Do(method, path string, body any) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encode %s %s body: %v", method, path, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		c.t.Fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *TestClient) Get(path string) *http.Response {
	c.t.Helper()
	return c.Do(http.MethodGet, path, nil)
}

func (c *TestClient) Delete(path string) *http.Response {
	c.t.Helper()
	return c.Do(http.MethodDelete, path, nil)
}

// Upload posts lines as externalID/fileName and decodes the result after
// checking the status.
func (c *TestClient) Upload(externalID, fileName string, lines []string, wantStatus int) ingest.UploadResult {
	c.t.Helper()
	resp := c.Do(http.MethodPost, "/api/v1/transcripts/upload", api.UploadRequest{
		ExternalID: externalID,
		FileName:   fileName,
		Lines:      lines,
	})
	RequireStatus(c.t, resp, wantStatus)
	var res ingest.UploadResult
	if wantStatus < 300 {
		ParseJSON(c.t, resp, &res)
	} else {
		resp.Body.Close()
	}
	return res
}

// ParseJSON decodes resp's body into v and closes it.
func ParseJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode response: %v. Body: %s", err, body)
	}
}

// RequireStatus stops the test unless resp has the expected status. The
// body is left unread on success.
func RequireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode == expected {
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	t.Fatalf("status = %d, want %d. Body: %s", resp.StatusCode, expected, body)
}
