package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// ViewOptions selects and localizes the records of a view.
type ViewOptions struct {
	Filter transcript.Filter
	// Location is used for display times; nil means UTC.
	Location *time.Location
}

// DisplayRecord is a record plus the presentation fields a reviewer sees.
type DisplayRecord struct {
	transcript.Record
	DisplayTime string `json:"time"`
	// Tokens is the formatted usage summary, empty without usage.
	Tokens string `json:"tokens,omitempty"`
	// SincePrevious is the time since the preceding record of the file,
	// regardless of filtering.
	SincePrevious string                   `json:"since_previous,omitempty"`
	Subagent      *transcript.SubagentMeta `json:"subagent,omitempty"`
	CostUSD       decimal.Decimal          `json:"cost_usd"`
}

// View is the reconstructed, filtered content of a file.
type View struct {
	File           *db.TranscriptFile          `json:"file"`
	TotalRecords   int                         `json:"total_records"`
	Records        []DisplayRecord             `json:"records"`
	CategoryCounts map[transcript.Category]int `json:"category_counts"`
	SubagentCounts map[string]int              `json:"subagent_counts"`
	TotalCostUSD   decimal.Decimal             `json:"total_cost_usd"`
}

// RawLines returns the committed raw lines of file: the stored chunks merged
// and cut at the checkpoint, so lines of an upload whose save failed are not
// shown.
func (s *Service) RawLines(ctx context.Context, file *db.TranscriptFile) ([]string, error) {
	data, err := s.chunks.DownloadAndMergeChunks(ctx, file.ExternalID, file.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	lines := splitRaw(data)
	if len(lines) > file.ExistingLineCount {
		lines = lines[:file.ExistingLineCount]
	}
	return lines, nil
}

// splitRaw splits merged chunk data into lines. Merged data always ends
// each line with '\n' and never contains blank lines.
func splitRaw(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

// View rebuilds the records of file from storage with an empty checkpoint
// and returns those passing opts.Filter.
func (s *Service) View(ctx context.Context, file *db.TranscriptFile, opts ViewOptions) (*View, error) {
	ctx, span := tracer.Start(ctx, "ingest.view",
		trace.WithAttributes(attribute.String("file.id", file.ID)))
	defer span.End()

	lines, err := s.RawLines(ctx, file)
	if err != nil {
		s.fail(span, err)
		return nil, err
	}
	res := s.processor.ProcessLines(lines, transcript.Checkpoint{})

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	detector := s.processor.Detector()

	view := &View{
		File:           file,
		TotalRecords:   res.TotalProcessed,
		Records:        make([]DisplayRecord, 0, len(res.Records)),
		CategoryCounts: transcript.CountByCategory(res.Records),
		SubagentCounts: transcript.CountBySubagent(res.Records),
		TotalCostUSD:   transcript.EstimateCost(res.Records),
	}

	for i := range res.Records {
		r := &res.Records[i]
		if !opts.Filter.Match(r) {
			continue
		}
		d := DisplayRecord{
			Record:      *r,
			DisplayTime: transcript.FormatTimestampIn(r.Timestamp, loc),
			Tokens:      transcript.FormatTokenUsage(r.Usage),
			CostUSD:     transcript.RecordCost(r),
		}
		if i > 0 {
			if dur, ok := transcript.CalculateDuration(res.Records[i-1].Timestamp, r.Timestamp); ok {
				d.SincePrevious = dur
			}
		}
		if r.IsSidechain && r.SubagentLabel != "" {
			meta := detector.Lookup(r.SubagentLabel)
			d.Subagent = &meta
		}
		view.Records = append(view.Records, d)
	}

	span.SetAttributes(
		attribute.Int("view.total", view.TotalRecords),
		attribute.Int("view.shown", len(view.Records)),
	)
	return view, nil
}

// RecomputeStats derives the aggregate stats of file from its committed
// lines.
func (s *Service) RecomputeStats(ctx context.Context, file *db.TranscriptFile) (db.TranscriptStats, error) {
	ctx, span := tracer.Start(ctx, "ingest.recompute_stats",
		trace.WithAttributes(attribute.String("file.id", file.ID)))
	defer span.End()

	lines, err := s.RawLines(ctx, file)
	if err != nil {
		s.fail(span, err)
		return db.TranscriptStats{}, err
	}
	res := s.processor.ProcessLines(lines, transcript.Checkpoint{})

	categories := make(map[string]int)
	for cat, n := range transcript.CountByCategory(res.Records) {
		categories[string(cat)] = n
	}

	if res.TotalProcessed < file.ExistingLineCount {
		// Stats are still stamped with the checkpoint so the worker does
		// not pick the file up again on every poll.
		logger.Ctx(ctx).Warn("stored chunks are missing lines",
			"file_id", file.ID, "lines", res.TotalProcessed, "existing_line_count", file.ExistingLineCount)
	}

	stats := db.TranscriptStats{
		FileID:           file.ID,
		ComputedLines:    file.ExistingLineCount,
		CategoryCounts:   categories,
		SubagentCounts:   transcript.CountBySubagent(res.Records),
		EstimatedCostUSD: transcript.EstimateCost(res.Records),
	}
	span.SetAttributes(attribute.Int("stats.computed_lines", stats.ComputedLines))
	return stats, nil
}
