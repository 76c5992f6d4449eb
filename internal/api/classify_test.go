package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type classifyResponse struct {
	TotalProcessed int `json:"total_processed"`
	NewCount       int `json:"new_count"`
	Records        []struct {
		Sequence      int    `json:"sequence"`
		Category      string `json:"category"`
		IsSidechain   bool   `json:"is_sidechain"`
		SubagentLabel string `json:"subagent_label"`
	} `json:"records"`
	Categories map[string]int `json:"categories"`
}

func classifyBody(t *testing.T, req ClassifyRequest) string {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestClassify(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := env.do(t, "POST", "/api/v1/classify", "", classifyBody(t, ClassifyRequest{Lines: session(), ExistingLineCount: 5}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[classifyResponse](t, rr.Body.Bytes())
	if got.TotalProcessed != 8 || got.NewCount != 3 || len(got.Records) != 3 {
		t.Fatalf("response = %+v", got)
	}
	// Record 6 is still attributed to the subagent started before the
	// checkpoint.
	first := got.Records[0]
	if first.Sequence != 6 || !first.IsSidechain || first.SubagentLabel != "code-reviewer" || first.Category != "assistant_text" {
		t.Errorf("first new record = %+v", first)
	}
	if got.Categories["tool_result"] != 1 || got.Categories["thinking"] != 0 {
		t.Errorf("categories = %v", got.Categories)
	}
}

func TestClassify_CheckpointPastEnd(t *testing.T) {
	env := newTestEnv(t, Config{})
	rr := env.do(t, "POST", "/api/v1/classify", "", classifyBody(t, ClassifyRequest{Lines: session()[:2], ExistingLineCount: 10}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, `"records":[]`) || !strings.Contains(body, `"new_count":0`) {
		t.Errorf("body = %s", body)
	}
}

func TestClassify_Content(t *testing.T) {
	env := newTestEnv(t, Config{})
	content := strings.Join(session(), "\n") + "\n"
	rr := env.do(t, "POST", "/api/v1/classify", "", classifyBody(t, ClassifyRequest{Content: content}))
	got := decode[classifyResponse](t, rr.Body.Bytes())
	if got.NewCount != 8 {
		t.Errorf("new_count = %d, want 8", got.NewCount)
	}
}

func TestClassify_BadRequests(t *testing.T) {
	env := newTestEnv(t, Config{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed JSON", `{"lines":`, http.StatusBadRequest},
		{"negative checkpoint", `{"lines":["{}"],"existing_line_count":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, "POST", "/api/v1/classify", "", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestClassify_CompressedRequest(t *testing.T) {
	env := newTestEnv(t, Config{})
	plain := []byte(classifyBody(t, ClassifyRequest{Lines: session()}))

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zstdBody := enc.EncodeAll(plain, nil)
	enc.Close()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(plain)
	gw.Close()

	tests := []struct {
		encoding string
		body     []byte
		want     int
	}{
		{"zstd", zstdBody, http.StatusOK},
		{"gzip", gz.Bytes(), http.StatusOK},
		{"identity", plain, http.StatusOK},
		{"deflate", plain, http.StatusUnsupportedMediaType},
		{"gzip", plain, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			req := newRequest("POST", "/api/v1/classify", string(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Content-Encoding", tt.encoding)
			rr := serve(env.handler, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want == http.StatusOK {
				if got := decode[classifyResponse](t, rr.Body.Bytes()); got.NewCount != 8 {
					t.Errorf("new_count = %d, want 8", got.NewCount)
				}
			}
		})
	}
}

func TestSubagents(t *testing.T) {
	env := newTestEnv(t, Config{})
	rr := env.do(t, "GET", "/api/v1/subagents", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	type entry struct {
		Label       string `json:"label"`
		DisplayName string `json:"display_name"`
	}
	got := decode[struct {
		Subagents []entry `json:"subagents"`
	}](t, rr.Body.Bytes())
	found := false
	for _, e := range got.Subagents {
		if e.Label == "code-reviewer" && e.DisplayName == "Code Reviewer" {
			found = true
		}
	}
	if !found {
		t.Errorf("code-reviewer missing from %+v", got.Subagents)
	}
}
