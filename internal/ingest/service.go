// Package ingest runs uploaded transcript files through the classification
// engine and owns the persistence of their processing checkpoints.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

var tracer = otel.Tracer("vibe-review/ingest")

// FileStore persists files, checkpoints and classified records.
type FileStore interface {
	FindOrCreateFile(ctx context.Context, externalID, fileName, owner string) (*db.TranscriptFile, bool, error)
	SaveIngest(ctx context.Context, p db.IngestParams) (*db.TranscriptFile, error)
}

// ChunkStore keeps the raw lines.
type ChunkStore interface {
	UploadChunk(ctx context.Context, externalID, fileName string, firstLine, lastLine int, data []byte) (string, error)
	DownloadAndMergeChunks(ctx context.Context, externalID, fileName string) ([]byte, error)
}

// Service runs uploads and rebuilds views from stored chunks.
type Service struct {
	files     FileStore
	chunks    ChunkStore
	processor *transcript.Processor
	metrics   *metrics
}

// Option customizes a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	processor *transcript.Processor
	meter     metric.Meter
}

// WithProcessor replaces the default processor, e.g. one built from a rules
// file.
func WithProcessor(p *transcript.Processor) Option {
	return func(o *serviceOptions) { o.processor = p }
}

// WithMeter records metrics on meter instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(o *serviceOptions) { o.meter = m }
}

// NewService returns a Service backed by files and chunks.
func NewService(files FileStore, chunks ChunkStore, opts ...Option) (*Service, error) {
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.processor == nil {
		o.processor = transcript.NewProcessor(nil)
	}
	if o.meter == nil {
		o.meter = defaultMeter()
	}
	m, err := newMetrics(o.meter)
	if err != nil {
		return nil, err
	}
	return &Service{files: files, chunks: chunks, processor: o.processor, metrics: m}, nil
}

// Processor returns the processor the service classifies with.
func (s *Service) Processor() *transcript.Processor {
	return s.processor
}

// UploadRequest is one upload of a whole transcript file. Lines is the full
// file as the client currently sees it, not just the appended part, so that
// subagent detection has the records preceding the new ones.
type UploadRequest struct {
	ExternalID string
	FileName   string
	Owner      string
	Lines      []string
}

// UploadResult reports what an upload did.
type UploadResult struct {
	FileID            string                      `json:"file_id"`
	Created           bool                        `json:"created"`
	TotalProcessed    int                         `json:"total_processed"`
	NewCount          int                         `json:"new_count"`
	ExistingLineCount int                         `json:"existing_line_count"`
	Categories        map[transcript.Category]int `json:"categories"`
	ChunkKey          string                      `json:"chunk_key,omitempty"`
}

// validateName reports whether name can be used as one storage key segment.
func validateName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// Upload classifies req.Lines, stores the lines past the file's checkpoint
// as one chunk, persists their records and advances the checkpoint. An
// upload with nothing new past the checkpoint stores nothing.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "ingest.upload",
		trace.WithAttributes(
			attribute.String("file.external_id", req.ExternalID),
			attribute.String("file.name", req.FileName),
			attribute.Int("upload.lines", len(req.Lines)),
		))
	defer span.End()

	if len(req.Lines) == 0 {
		return nil, ErrEmptyUpload
	}
	if !validateName(req.FileName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFileName, req.FileName)
	}
	if !validateName(req.ExternalID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExternalID, req.ExternalID)
	}
	// Chunks are newline-joined: an embedded break would store more lines
	// than the checkpoint counts.
	for i, line := range req.Lines {
		if strings.ContainsAny(line, "\r\n") {
			return nil, fmt.Errorf("%w: line %d", ErrLineBreakInLine, i+1)
		}
	}

	file, created, err := s.files.FindOrCreateFile(ctx, req.ExternalID, req.FileName, req.Owner)
	if err != nil {
		s.fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("file.id", file.ID))
	ctx = logger.With(ctx, "file_id", file.ID)

	cp := transcript.Checkpoint{ExistingLineCount: file.ExistingLineCount}
	res := s.processor.ProcessLines(req.Lines, cp)
	span.SetAttributes(
		attribute.Int("upload.total_processed", res.TotalProcessed),
		attribute.Int("upload.new_count", res.NewCount),
	)

	result := &UploadResult{
		FileID:            file.ID,
		Created:           created,
		TotalProcessed:    res.TotalProcessed,
		NewCount:          res.NewCount,
		ExistingLineCount: file.ExistingLineCount,
		Categories:        transcript.CountByCategory(res.NewRecords()),
	}

	if res.NewCount == 0 {
		if res.TotalProcessed < file.ExistingLineCount {
			logger.Ctx(ctx).Warn("upload shorter than checkpoint",
				"lines", res.TotalProcessed, "existing_line_count", file.ExistingLineCount)
		}
		s.metrics.recordUpload(ctx, res, "unchanged")
		return result, nil
	}

	first := res.TotalProcessed - res.NewCount + 1
	last := res.TotalProcessed
	data := strings.Join(req.Lines[first-1:], "\n") + "\n"

	// The chunk goes first: if saving fails, the retry rewrites the same
	// key and the merge keeps the later copy.
	key, err := s.chunks.UploadChunk(ctx, req.ExternalID, req.FileName, first, last, []byte(data))
	if err != nil {
		s.metrics.recordUpload(ctx, res, "error")
		s.fail(span, err)
		return nil, fmt.Errorf("failed to store chunk: %w", err)
	}

	next := cp.Advance(res)
	saved, err := s.files.SaveIngest(ctx, db.IngestParams{
		FileID:        file.ID,
		Records:       toStoredRecords(res.NewRecords()),
		LineCount:     next.ExistingLineCount,
		ChunkUploaded: true,
	})
	if err != nil {
		s.metrics.recordUpload(ctx, res, "error")
		s.fail(span, err)
		return nil, fmt.Errorf("failed to save ingest: %w", err)
	}

	result.ExistingLineCount = saved.ExistingLineCount
	result.ChunkKey = key
	s.metrics.recordUpload(ctx, res, "stored")
	logger.Ctx(ctx).Info("transcript upload stored",
		"first_line", first, "last_line", last, "existing_line_count", saved.ExistingLineCount)
	return result, nil
}

func (s *Service) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// toStoredRecords projects records onto their queryable columns.
func toStoredRecords(records []transcript.Record) []db.StoredRecord {
	out := make([]db.StoredRecord, 0, len(records))
	for i := range records {
		r := &records[i]
		sr := db.StoredRecord{
			SequenceNumber: r.Sequence,
			Role:           string(r.Role),
			Category:       string(r.Category),
			IsSidechain:    r.IsSidechain,
			ToolNames:      r.ToolNames(),
		}
		if r.SubagentLabel != "" {
			label := r.SubagentLabel
			sr.SubagentLabel = &label
		}
		if r.Timestamp != "" {
			raw := r.Timestamp
			sr.TimestampRaw = &raw
		}
		if t, ok := r.Time(); ok {
			t = t.UTC()
			sr.MessageAt = &t
		}
		if r.Usage != nil {
			sr.InputTokens = r.Usage.InputTokens
			sr.OutputTokens = r.Usage.OutputTokens
			sr.CacheReadTokens = r.Usage.CacheReadInputTokens
		}
		out = append(out, sr)
	}
	return out
}
