package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// MaxClassifyLines bounds the lines of one classify call.
const MaxClassifyLines = 100_000

// ClassifyRequest is the body of POST /api/v1/classify. Either Lines or
// Content (raw JSONL) is set.
type ClassifyRequest struct {
	Lines             []string `json:"lines"`
	Content           string   `json:"content,omitempty"`
	ExistingLineCount int      `json:"existing_line_count"`
}

// ClassifyResponse carries the records past the checkpoint.
type ClassifyResponse struct {
	TotalProcessed int                         `json:"total_processed"`
	NewCount       int                         `json:"new_count"`
	Records        []transcript.Record         `json:"records"`
	Categories     map[transcript.Category]int `json:"categories"`
}

// requestLines returns lines, or content split into lines when lines is
// empty.
func requestLines(lines []string, content string) ([]string, error) {
	if len(lines) > 0 || content == "" {
		return lines, nil
	}
	return transcript.SplitLines(strings.NewReader(content))
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isMaxBytes(err) {
			respondServiceError(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	lines, err := requestLines(req.Lines, req.Content)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid content")
		return
	}
	if len(lines) > MaxClassifyLines {
		respondError(w, http.StatusRequestEntityTooLarge, "Too many lines")
		return
	}
	if req.ExistingLineCount < 0 {
		respondError(w, http.StatusBadRequest, "existing_line_count must not be negative")
		return
	}

	cp := transcript.Checkpoint{ExistingLineCount: req.ExistingLineCount}
	res := s.ingest.Processor().ProcessLines(lines, cp)
	records := res.NewRecords()
	if records == nil {
		records = []transcript.Record{}
	}
	respondJSON(w, http.StatusOK, ClassifyResponse{
		TotalProcessed: res.TotalProcessed,
		NewCount:       res.NewCount,
		Records:        records,
		Categories:     transcript.CountByCategory(records),
	})
}

func (s *Server) handleSubagents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"subagents": s.ingest.Processor().Detector().KnownSubagents(),
	})
}
