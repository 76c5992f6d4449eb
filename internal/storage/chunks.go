package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

// Chunk is a downloaded chunk with the line range parsed from its key.
type Chunk struct {
	Key       string
	FirstLine int
	LastLine  int
	Data      []byte
}

// MaxMergeLines caps the line index MergeChunks will allocate, so a corrupt
// key cannot exhaust memory.
const MaxMergeLines = 10_000_000

// largeMergeLines is the size above which a merge is logged.
const largeMergeLines = 1_000_000

const maxParallelDownloads = 10

// ParseChunkKey extracts the line range from a chunk key of the form
// .../chunk_00000001_00000100.jsonl.
func ParseChunkKey(key string) (firstLine, lastLine int, ok bool) {
	name := path.Base(key)
	rest, found := strings.CutPrefix(name, "chunk_")
	if !found {
		return 0, 0, false
	}
	rest, found = strings.CutSuffix(rest, ".jsonl")
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	first, err := strconv.Atoi(a)
	if err != nil || first < 1 {
		return 0, 0, false
	}
	last, err := strconv.Atoi(b)
	if err != nil || last < first {
		return 0, 0, false
	}
	return first, last, true
}

// DownloadChunks fetches the given chunk keys concurrently and returns them
// in key order. Keys that do not parse are skipped.
func (s *S3Storage) DownloadChunks(ctx context.Context, keys []string) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "storage.download_chunks",
		trace.WithAttributes(attribute.Int("keys.count", len(keys))))
	defer span.End()

	chunks := make([]Chunk, 0, len(keys))
	for _, key := range keys {
		first, last, ok := ParseChunkKey(key)
		if !ok {
			span.AddEvent("skipped_unparseable_key", trace.WithAttributes(attribute.String("key", key)))
			continue
		}
		chunks = append(chunks, Chunk{Key: key, FirstLine: first, LastLine: last})
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i := range chunks {
		g.Go(func() error {
			data, err := s.Download(gctx, chunks[i].Key)
			if err != nil {
				return err
			}
			chunks[i].Data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("chunks.count", len(chunks)),
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return chunks, nil
}

// DownloadAndMergeChunks returns the merged raw lines of a file, or nil when
// the file has no chunks.
func (s *S3Storage) DownloadAndMergeChunks(ctx context.Context, externalID, fileName string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "storage.download_and_merge_chunks",
		trace.WithAttributes(
			attribute.String("file.external_id", externalID),
			attribute.String("file.name", fileName),
		))
	defer span.End()

	keys, err := s.ListChunks(ctx, externalID, fileName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	chunks, err := s.DownloadChunks(ctx, keys)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	merged, err := MergeChunks(chunks)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("chunks.count", len(chunks)),
		attribute.Int("merged.bytes", len(merged)),
	)
	return merged, nil
}

// MergeChunks lays every chunk's lines out by absolute line number and
// concatenates the result. Where chunks overlap the later chunk wins; lines
// no chunk covers are skipped. Every output line ends with '\n'.
func MergeChunks(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	maxLine := 0
	for _, c := range chunks {
		maxLine = max(maxLine, c.LastLine)
	}
	if maxLine > MaxMergeLines {
		return nil, fmt.Errorf("maxLine %d exceeds safety limit %d", maxLine, MaxMergeLines)
	}
	if maxLine > largeMergeLines {
		logger.Warn("large chunk merge", "max_line", maxLine, "chunk_count", len(chunks))
	}

	lines := make([][]byte, maxLine)
	for _, c := range chunks {
		for i, line := range splitLines(c.Data) {
			n := c.FirstLine + i
			if n < 1 || n > maxLine {
				continue
			}
			if prev := lines[n-1]; prev != nil && !bytes.Equal(prev, line) {
				logger.Warn("chunk overlap with differing content",
					"line_num", n, "chunk", c.Key, "old_len", len(prev), "new_len", len(line))
			}
			lines[n-1] = line
		}
	}

	var out bytes.Buffer
	for _, line := range lines {
		if line == nil {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

// ChunksOverlap reports whether any two chunks share a line.
func ChunksOverlap(chunks []Chunk) bool {
	for i := range chunks {
		for j := i + 1; j < len(chunks); j++ {
			if chunks[i].FirstLine <= chunks[j].LastLine && chunks[j].FirstLine <= chunks[i].LastLine {
				return true
			}
		}
	}
	return false
}

// splitLines splits data on '\n' without keeping the separators. A trailing
// newline does not produce an empty last line.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	lines := bytes.Split(data, []byte{'\n'})
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}
