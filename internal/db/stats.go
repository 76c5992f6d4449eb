package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FindStaleStats returns files whose stats are missing or were computed over
// fewer lines than the current checkpoint, oldest update first.
func (db *DB) FindStaleStats(ctx context.Context, limit int) ([]TranscriptFile, error) {
	ctx, span := tracer.Start(ctx, "db.find_stale_stats",
		trace.WithAttributes(attribute.Int("stats.limit", limit)))
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT f.id, f.external_id, f.file_name, f.owner, f.existing_line_count, f.chunk_count,
		       f.first_message_at, f.last_message_at, f.created_at, f.updated_at
		FROM transcript_files f
		LEFT JOIN transcript_stats s ON s.file_id = f.id
		WHERE f.existing_line_count > 0
		  AND (s.file_id IS NULL OR s.computed_lines < f.existing_line_count)
		ORDER BY f.updated_at
		LIMIT $1`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to find stale stats: %w", err)
	}
	defer rows.Close()

	var files []TranscriptFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale files: %w", err)
	}

	span.SetAttributes(attribute.Int("stats.stale", len(files)))
	return files, nil
}

// UpsertStats stores stats for a file. Stats computed over fewer lines than
// what is already stored are ignored, so a slow worker cannot roll them back.
func (db *DB) UpsertStats(ctx context.Context, s TranscriptStats) error {
	ctx, span := tracer.Start(ctx, "db.upsert_stats",
		trace.WithAttributes(
			attribute.String("file.id", s.FileID),
			attribute.Int("stats.computed_lines", s.ComputedLines),
		))
	defer span.End()

	categories, err := json.Marshal(nonNilCounts(s.CategoryCounts))
	if err != nil {
		return fmt.Errorf("failed to marshal category counts: %w", err)
	}
	subagents, err := json.Marshal(nonNilCounts(s.SubagentCounts))
	if err != nil {
		return fmt.Errorf("failed to marshal subagent counts: %w", err)
	}

	query := `
		INSERT INTO transcript_stats (file_id, computed_lines, category_counts, subagent_counts, estimated_cost_usd, computed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (file_id) DO UPDATE SET
			computed_lines = EXCLUDED.computed_lines,
			category_counts = EXCLUDED.category_counts,
			subagent_counts = EXCLUDED.subagent_counts,
			estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			computed_at = NOW()
		WHERE transcript_stats.computed_lines <= EXCLUDED.computed_lines`

	_, err = db.conn.ExecContext(ctx, query, s.FileID, s.ComputedLines, string(categories), string(subagents), s.EstimatedCostUSD.String())
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("failed to upsert stats: %w", err)
	}
	return nil
}

// GetStats returns the stored stats of a file or ErrStatsNotFound.
func (db *DB) GetStats(ctx context.Context, fileID string) (*TranscriptStats, error) {
	ctx, span := tracer.Start(ctx, "db.get_stats",
		trace.WithAttributes(attribute.String("file.id", fileID)))
	defer span.End()

	var (
		s          TranscriptStats
		categories []byte
		subagents  []byte
		cost       string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT file_id, computed_lines, category_counts, subagent_counts, estimated_cost_usd::text, computed_at
		FROM transcript_stats WHERE file_id = $1`, fileID).
		Scan(&s.FileID, &s.ComputedLines, &categories, &subagents, &cost, &s.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if err := json.Unmarshal(categories, &s.CategoryCounts); err != nil {
		return nil, fmt.Errorf("failed to decode category counts: %w", err)
	}
	if err := json.Unmarshal(subagents, &s.SubagentCounts); err != nil {
		return nil, fmt.Errorf("failed to decode subagent counts: %w", err)
	}
	if err := s.EstimatedCostUSD.Scan(cost); err != nil {
		return nil, fmt.Errorf("failed to decode cost: %w", err)
	}
	return &s, nil
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
