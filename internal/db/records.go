package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// paramBuilder tracks $N indices for dynamic SQL parameter construction.
type paramBuilder struct {
	args    []any
	nextIdx int
}

func newParamBuilder(first any) *paramBuilder {
	return &paramBuilder{args: []any{first}, nextIdx: 2}
}

// add appends a value and returns its $N placeholder.
func (pb *paramBuilder) add(val any) string {
	placeholder := fmt.Sprintf("$%d", pb.nextIdx)
	pb.args = append(pb.args, val)
	pb.nextIdx++
	return placeholder
}

// addArray appends a string slice as pq.Array and returns its $N placeholder.
func (pb *paramBuilder) addArray(vals []string) string {
	return pb.add(pq.Array(vals))
}

// SaveIngest persists the outcome of one upload in a single transaction:
// new records are inserted (replayed sequence numbers are ignored), the
// checkpoint only moves forward, the chunk count grows and the message time
// bounds widen. The file row is locked for the duration, which serializes
// concurrent uploads of the same file.
func (db *DB) SaveIngest(ctx context.Context, p IngestParams) (*TranscriptFile, error) {
	ctx, span := tracer.Start(ctx, "db.save_ingest",
		trace.WithAttributes(
			attribute.String("file.id", p.FileID),
			attribute.Int("ingest.records", len(p.Records)),
			attribute.Int("ingest.line_count", p.LineCount),
		))
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT existing_line_count FROM transcript_files WHERE id = $1 FOR UPDATE`, p.FileID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to lock file: %w", err)
	}
	span.SetAttributes(attribute.Int("ingest.previous_line_count", current))

	var first, last *time.Time
	if len(p.Records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transcript_records (
				file_id, sequence_number, role, category, is_sidechain, subagent_label,
				timestamp_raw, message_at, tool_names, input_tokens, output_tokens, cache_read_tokens
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (file_id, sequence_number) DO NOTHING
		`)
		if err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("failed to prepare record insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range p.Records {
			toolNames := r.ToolNames
			if toolNames == nil {
				toolNames = []string{}
			}
			_, err := stmt.ExecContext(ctx,
				p.FileID, r.SequenceNumber, r.Role, r.Category, r.IsSidechain, r.SubagentLabel,
				r.TimestampRaw, r.MessageAt, pq.Array(toolNames), r.InputTokens, r.OutputTokens, r.CacheReadTokens,
			)
			if err != nil {
				spanError(span, err)
				return nil, fmt.Errorf("failed to insert record %d: %w", r.SequenceNumber, err)
			}
			if r.MessageAt != nil {
				if first == nil || r.MessageAt.Before(*first) {
					first = r.MessageAt
				}
				if last == nil || r.MessageAt.After(*last) {
					last = r.MessageAt
				}
			}
		}
	}

	chunkDelta := 0
	if p.ChunkUploaded {
		chunkDelta = 1
	}

	// LEAST/GREATEST ignore NULLs, so unset bounds are filled in.
	file, err := scanFile(tx.QueryRowContext(ctx, `
		UPDATE transcript_files
		SET existing_line_count = GREATEST(existing_line_count, $2),
		    chunk_count = chunk_count + $3,
		    first_message_at = LEAST(first_message_at, $4::timestamptz),
		    last_message_at = GREATEST(last_message_at, $5::timestamptz),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+fileColumns,
		p.FileID, p.LineCount, chunkDelta, first, last,
	))
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to update file checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}
	return file, nil
}

// ListRecords returns a page of a file's records in sequence order.
func (db *DB) ListRecords(ctx context.Context, fileID string, f RecordFilter) ([]StoredRecord, error) {
	ctx, span := tracer.Start(ctx, "db.list_records",
		trace.WithAttributes(
			attribute.String("file.id", fileID),
			attribute.Int("records.after", f.AfterSequence),
		))
	defer span.End()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	if limit > MaxRecordLimit {
		limit = MaxRecordLimit
	}

	pb := newParamBuilder(fileID)
	where := []string{"file_id = $1"}
	where = append(where, "sequence_number > "+pb.add(f.AfterSequence))
	if len(f.Categories) > 0 {
		where = append(where, "category = ANY("+pb.addArray(f.Categories)+")")
	}
	if len(f.SubagentLabels) > 0 {
		where = append(where, "subagent_label = ANY("+pb.addArray(f.SubagentLabels)+")")
	}
	if f.Sidechain != nil {
		where = append(where, "is_sidechain = "+pb.add(*f.Sidechain))
	}
	limitPlaceholder := pb.add(limit)

	query := `
		SELECT sequence_number, role, category, is_sidechain, subagent_label,
		       timestamp_raw, message_at, tool_names, input_tokens, output_tokens, cache_read_tokens
		FROM transcript_records
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY sequence_number
		LIMIT ` + limitPlaceholder

	rows, err := db.conn.QueryContext(ctx, query, pb.args...)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]StoredRecord, 0)
	for rows.Next() {
		var r StoredRecord
		if err := rows.Scan(
			&r.SequenceNumber,
			&r.Role,
			&r.Category,
			&r.IsSidechain,
			&r.SubagentLabel,
			&r.TimestampRaw,
			&r.MessageAt,
			pq.Array(&r.ToolNames),
			&r.InputTokens,
			&r.OutputTokens,
			&r.CacheReadTokens,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}

// CategoryCounts returns the number of stored records per category.
func (db *DB) CategoryCounts(ctx context.Context, fileID string) (map[string]int, error) {
	return db.countBy(ctx, "db.category_counts", fileID,
		`SELECT category, COUNT(*) FROM transcript_records WHERE file_id = $1 GROUP BY category`)
}

// SubagentCounts returns the number of stored sidechain records per label.
func (db *DB) SubagentCounts(ctx context.Context, fileID string) (map[string]int, error) {
	return db.countBy(ctx, "db.subagent_counts", fileID,
		`SELECT subagent_label, COUNT(*) FROM transcript_records
		 WHERE file_id = $1 AND is_sidechain AND subagent_label IS NOT NULL
		 GROUP BY subagent_label`)
}

func (db *DB) countBy(ctx context.Context, spanName, fileID, query string) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("file.id", fileID)))
	defer span.End()

	rows, err := db.conn.QueryContext(ctx, query, fileID)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}
