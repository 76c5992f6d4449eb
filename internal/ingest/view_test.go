package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

func uploadSession(t *testing.T, svc *Service, lines []string) {
	t.Helper()
	req := UploadRequest{ExternalID: "sess-1", FileName: "main.jsonl", Owner: "alice", Lines: lines}
	if _, err := svc.Upload(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestView(t *testing.T) {
	svc, files, _ := newTestService(t)
	uploadSession(t, svc, session()[:4])
	uploadSession(t, svc, session())
	file := files.get("sess-1", "main.jsonl")

	view, err := svc.View(context.Background(), file, ViewOptions{})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if view.TotalRecords != 8 || len(view.Records) != 8 {
		t.Fatalf("view has %d/%d records, want 8", len(view.Records), view.TotalRecords)
	}
	if view.SubagentCounts["code-reviewer"] != 4 {
		t.Errorf("subagent counts = %v", view.SubagentCounts)
	}
	for _, c := range transcript.AllCategories() {
		if _, ok := view.CategoryCounts[c]; !ok {
			t.Errorf("category %s missing from counts", c)
		}
	}
	if !view.TotalCostUSD.IsPositive() {
		t.Errorf("expected a positive cost, got %s", view.TotalCostUSD)
	}

	first := view.Records[0]
	if first.DisplayTime != "10:00:00" || first.SincePrevious != "" {
		t.Errorf("first record time=%q since=%q", first.DisplayTime, first.SincePrevious)
	}
	if got := view.Records[1].Tokens; got != "in 1,000 · out 500" {
		t.Errorf("tokens = %q", got)
	}
	if got := view.Records[7].SincePrevious; got != "2m 5s" {
		t.Errorf("since previous = %q, want 2m 5s", got)
	}
	sub := view.Records[2].Subagent
	if sub == nil || sub.Label != "code-reviewer" || sub.DisplayName != "Code Reviewer" {
		t.Errorf("subagent meta = %+v", sub)
	}
	if view.Records[0].Subagent != nil {
		t.Error("main chain record should not carry subagent metadata")
	}
}

func TestView_FilterAndLocation(t *testing.T) {
	svc, files, _ := newTestService(t)
	uploadSession(t, svc, session())
	file := files.get("sess-1", "main.jsonl")

	loc := time.FixedZone("KST", 9*60*60)
	sidechain := true
	view, err := svc.View(context.Background(), file, ViewOptions{
		Filter:   transcript.Filter{Categories: []transcript.Category{transcript.CategoryToolUse}, Sidechain: &sidechain},
		Location: loc,
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(view.Records) != 1 || view.Records[0].Sequence != 4 {
		t.Fatalf("filtered records = %+v", view.Records)
	}
	r := view.Records[0]
	if r.DisplayTime != "19:00:05" {
		t.Errorf("display time = %q, want 19:00:05", r.DisplayTime)
	}
	// Durations are measured against the previous record of the file, not
	// the previous shown record.
	if r.SincePrevious != "2.0s" {
		t.Errorf("since previous = %q, want 2.0s", r.SincePrevious)
	}
	if view.TotalRecords != 8 {
		t.Errorf("TotalRecords = %d, want 8", view.TotalRecords)
	}
}

func TestRawLines_CutAtCheckpoint(t *testing.T) {
	svc, files, chunks := newTestService(t)
	uploadSession(t, svc, session()[:3])

	// A chunk whose save never completed.
	if _, err := chunks.UploadChunk(context.Background(), "sess-1", "main.jsonl", 4, 5, []byte(session()[3]+"\n"+session()[4]+"\n")); err != nil {
		t.Fatal(err)
	}

	file := files.get("sess-1", "main.jsonl")
	lines, err := svc.RawLines(context.Background(), file)
	if err != nil {
		t.Fatalf("RawLines: %v", err)
	}
	if len(lines) != 3 {
		t.Errorf("got %d lines, want 3", len(lines))
	}
	if lines[2] != session()[2] {
		t.Errorf("line 3 = %q", lines[2])
	}
}

func TestRecomputeStats(t *testing.T) {
	svc, files, _ := newTestService(t)
	uploadSession(t, svc, session())
	file := files.get("sess-1", "main.jsonl")

	stats, err := svc.RecomputeStats(context.Background(), file)
	if err != nil {
		t.Fatalf("RecomputeStats: %v", err)
	}
	if stats.FileID != file.ID || stats.ComputedLines != 8 {
		t.Errorf("stats = %+v", stats)
	}
	want := map[string]int{
		"user_text":      2,
		"tool_use":       2,
		"tool_result":    2,
		"assistant_text": 2,
		"thinking":       0,
		"other":          0,
	}
	for k, v := range want {
		if stats.CategoryCounts[k] != v {
			t.Errorf("category %s = %d, want %d", k, stats.CategoryCounts[k], v)
		}
	}
	if stats.SubagentCounts["code-reviewer"] != 4 {
		t.Errorf("subagent counts = %v", stats.SubagentCounts)
	}
	if !stats.EstimatedCostUSD.IsPositive() {
		t.Errorf("cost = %s", stats.EstimatedCostUSD)
	}
}

func TestSplitRaw(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a\n", 1},
		{"a\nb\n", 2},
		{"a\nb", 2},
	}
	for _, tt := range tests {
		if got := len(splitRaw([]byte(tt.in))); got != tt.want {
			t.Errorf("splitRaw(%q) = %d lines, want %d", tt.in, got, tt.want)
		}
	}
}
