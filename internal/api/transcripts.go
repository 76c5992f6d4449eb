package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// UploadRequest is the body of POST /api/v1/transcripts/upload. Lines (or
// Content, raw JSONL) is the whole file as the client sees it.
type UploadRequest struct {
	ExternalID string   `json:"external_id"`
	FileName   string   `json:"file_name"`
	Lines      []string `json:"lines"`
	Content    string   `json:"content,omitempty"`
}

// TranscriptDetail is the response of GET /api/v1/transcripts/{fileID}.
// Stats is nil until the worker has computed them once.
type TranscriptDetail struct {
	File       *db.TranscriptFile  `json:"file"`
	Stats      *db.TranscriptStats `json:"stats"`
	StatsStale bool                `json:"stats_stale"`
}

// CountsResponse is the response of GET /api/v1/transcripts/{fileID}/counts.
type CountsResponse struct {
	Categories map[string]int `json:"categories"`
	Subagents  map[string]int `json:"subagents"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req UploadRequest
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

	res, err := s.ingest.Upload(r.Context(), ingest.UploadRequest{
		ExternalID: req.ExternalID,
		FileName:   req.FileName,
		Owner:      id.Owner,
		Lines:      lines,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, res)
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := s.store.ListFiles(r.Context(), id.Owner, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if files == nil {
		files = []db.TranscriptFile{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"transcripts": files})
}

// loadFile resolves the {fileID} URL parameter for the caller. Files of
// other owners are reported as missing.
func (s *Server) loadFile(w http.ResponseWriter, r *http.Request) (*db.TranscriptFile, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	file, err := s.store.GetFileForOwner(r.Context(), chi.URLParam(r, "fileID"), id.Owner)
	if errors.Is(err, db.ErrForbidden) {
		err = db.ErrFileNotFound
	}
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	return file, true
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	detail := TranscriptDetail{File: file, StatsStale: true}
	stats, err := s.store.GetStats(r.Context(), file.ID)
	switch {
	case errors.Is(err, db.ErrStatsNotFound):
	case err != nil:
		respondServiceError(w, r, err)
		return
	default:
		detail.Stats = stats
		detail.StatsStale = stats.ComputedLines < file.ExistingLineCount
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := intParam(q, "after")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dbFilter := db.RecordFilter{
		SubagentLabels: filter.SubagentLabels,
		Sidechain:      filter.Sidechain,
		AfterSequence:  after,
		Limit:          limit,
	}
	for _, c := range filter.Categories {
		dbFilter.Categories = append(dbFilter.Categories, string(c))
	}

	records, err := s.store.ListRecords(r.Context(), file.ID, dbFilter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []db.StoredRecord{}
	}
	resp := map[string]any{"records": records}
	effective := limit
	if effective <= 0 {
		effective = db.DefaultRecordLimit
	}
	if effective > db.MaxRecordLimit {
		effective = db.MaxRecordLimit
	}
	if len(records) == effective {
		resp["next_after"] = records[len(records)-1].SequenceNumber
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	categories, err := s.store.CategoryCounts(r.Context(), file.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	subagents, err := s.store.SubagentCounts(r.Context(), file.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if categories == nil {
		categories = make(map[string]int)
	}
	for _, c := range transcript.AllCategories() {
		if _, ok := categories[string(c)]; !ok {
			categories[string(c)] = 0
		}
	}
	respondJSON(w, http.StatusOK, CountsResponse{Categories: categories, Subagents: subagents})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown time zone %q", tz))
			return
		}
	}

	view, err := s.ingest.View(r.Context(), file, ingest.ViewOptions{Filter: filter, Location: loc})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	lines, err := s.ingest.RawLines(r.Context(), file)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		w.Write([]byte(line))
		w.Write([]byte{'\n'})
	}
}

// handleDeleteTranscript removes the chunks first: if that fails the rows
// remain and the client can retry.
func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadFile(w, r)
	if !ok {
		return
	}
	removed, err := s.chunks.DeleteFileChunks(r.Context(), file.ExternalID, file.FileName)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := s.store.DeleteFile(r.Context(), file.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	logger.Ctx(r.Context()).Info("transcript deleted", "file_id", file.ID, "chunks_removed", removed)
	w.WriteHeader(http.StatusNoContent)
}

// parseFilter reads the category, subagent and sidechain query parameters.
// Repeated parameters and comma-separated values are both accepted.
func parseFilter(q url.Values) (transcript.Filter, error) {
	var f transcript.Filter
	for _, v := range splitParam(q["category"]) {
		c, ok := transcript.ParseCategory(v)
		if !ok {
			return f, fmt.Errorf("unknown category %q", v)
		}
		f.Categories = append(f.Categories, c)
	}
	f.SubagentLabels = splitParam(q["subagent"])
	if v := q.Get("sidechain"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid sidechain value %q", v)
		}
		f.Sidechain = &b
	}
	return f, nil
}

func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s value %q", name, v)
	}
	return n, nil
}
