// Package client talks to the vibe-review server on behalf of the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

const (
	// compressionThreshold is the minimum payload size to compress.
	compressionThreshold = 1024

	userAgentProduct = "vibe-review-cli"
)

// ErrUnauthorized is returned when the server returns 401 or 403.
// This typically means the API key is invalid or was revoked.
var ErrUnauthorized = errors.New("unauthorized")

// Version is reported in the User-Agent. Set by the CLI at startup.
var Version = "dev"

// StatusError is a non-2xx response other than 401/403.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a configured HTTP client for the vibe-review API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	encoder    *zstd.Encoder
}

// New returns a client for baseURL. apiKey may be empty for unauthenticated
// endpoints.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	// Only fails on invalid options.
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		encoder:    encoder,
	}
}

// UserAgent is "vibe-review-cli/<version> (<os>; <arch>)".
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", userAgentProduct, Version, runtime.GOOS, runtime.GOARCH)
}

// DoJSON sends reqBody as JSON and decodes a 2xx response into respBody.
// Payloads of 1KB or more are compressed with zstd.
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	var contentEncoding string

	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		if len(payload) >= compressionThreshold {
			compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
			bodyReader = bytes.NewReader(compressed)
			contentEncoding = "zstd"
		} else {
			bodyReader = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
		if contentEncoding != "" {
			req.Header.Set("Content-Encoding", contentEncoding)
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if respBody != nil {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from body, falling back to the raw
// text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// UploadRequest is the body of POST /api/v1/transcripts/upload.
type UploadRequest struct {
	ExternalID string   `json:"external_id"`
	FileName   string   `json:"file_name"`
	Lines      []string `json:"lines"`
}

// UploadResponse is the server's account of an upload.
type UploadResponse struct {
	FileID            string                      `json:"file_id"`
	Created           bool                        `json:"created"`
	TotalProcessed    int                         `json:"total_processed"`
	NewCount          int                         `json:"new_count"`
	ExistingLineCount int                         `json:"existing_line_count"`
	Categories        map[transcript.Category]int `json:"categories"`
}

// Upload sends the whole file; the server only stores lines past its
// checkpoint.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	var resp UploadResponse
	if err := c.DoJSON(ctx, http.MethodPost, "/api/v1/transcripts/upload", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subagents returns the server's subagent vocabulary.
func (c *Client) Subagents(ctx context.Context) ([]transcript.SubagentMeta, error) {
	var resp struct {
		Subagents []transcript.SubagentMeta `json:"subagents"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/api/v1/subagents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subagents, nil
}
