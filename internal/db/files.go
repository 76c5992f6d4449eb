package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const fileColumns = `id, external_id, file_name, owner, existing_line_count, chunk_count,
	first_message_at, last_message_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*TranscriptFile, error) {
	var f TranscriptFile
	err := row.Scan(
		&f.ID,
		&f.ExternalID,
		&f.FileName,
		&f.Owner,
		&f.ExistingLineCount,
		&f.ChunkCount,
		&f.FirstMessageAt,
		&f.LastMessageAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FindOrCreateFile returns the file identified by (externalID, fileName),
// creating it with an empty checkpoint if needed. created reports whether
// this call inserted the row. A file that exists under another owner yields
// ErrForbidden.
// Uses catch-and-retry to handle races between concurrent first uploads.
func (db *DB) FindOrCreateFile(ctx context.Context, externalID, fileName, owner string) (file *TranscriptFile, created bool, err error) {
	ctx, span := tracer.Start(ctx, "db.find_or_create_file",
		trace.WithAttributes(
			attribute.String("file.external_id", externalID),
			attribute.String("file.name", fileName),
		))
	defer span.End()

	selectQuery := `SELECT ` + fileColumns + ` FROM transcript_files WHERE external_id = $1 AND file_name = $2`

	file, err = scanFile(db.conn.QueryRowContext(ctx, selectQuery, externalID, fileName))
	if err == nil {
		span.SetAttributes(attribute.Bool("file.created", false))
		if file.Owner != owner {
			return nil, false, ErrForbidden
		}
		return file, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		spanError(span, err)
		return nil, false, fmt.Errorf("failed to find file: %w", err)
	}

	insertQuery := `
		INSERT INTO transcript_files (id, external_id, file_name, owner)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + fileColumns
	file, err = scanFile(db.conn.QueryRowContext(ctx, insertQuery, uuid.New().String(), externalID, fileName, owner))
	if err == nil {
		span.SetAttributes(attribute.Bool("file.created", true))
		return file, true, nil
	}

	if isUniqueViolation(err) {
		// Another request created it first.
		span.SetAttributes(attribute.Bool("file.race_condition", true))
		file, err = scanFile(db.conn.QueryRowContext(ctx, selectQuery, externalID, fileName))
		if err != nil {
			spanError(span, err)
			return nil, false, fmt.Errorf("failed to find file after conflict: %w", err)
		}
		if file.Owner != owner {
			return nil, false, ErrForbidden
		}
		return file, false, nil
	}

	spanError(span, err)
	return nil, false, fmt.Errorf("failed to create file: %w", err)
}

// GetFile returns a file by ID.
func (db *DB) GetFile(ctx context.Context, fileID string) (*TranscriptFile, error) {
	ctx, span := tracer.Start(ctx, "db.get_file",
		trace.WithAttributes(attribute.String("file.id", fileID)))
	defer span.End()

	if _, err := uuid.Parse(fileID); err != nil {
		return nil, ErrFileNotFound
	}

	query := `SELECT ` + fileColumns + ` FROM transcript_files WHERE id = $1`
	file, err := scanFile(db.conn.QueryRowContext(ctx, query, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// GetFileForOwner returns the file if owner may read it: ErrFileNotFound
// when it does not exist, ErrForbidden when it belongs to someone else.
func (db *DB) GetFileForOwner(ctx context.Context, fileID, owner string) (*TranscriptFile, error) {
	file, err := db.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.Owner != owner {
		return nil, ErrForbidden
	}
	return file, nil
}

// ListFiles returns the owner's files, most recently updated first.
func (db *DB) ListFiles(ctx context.Context, owner string, limit int) ([]TranscriptFile, error) {
	ctx, span := tracer.Start(ctx, "db.list_files",
		trace.WithAttributes(attribute.String("file.owner", owner)))
	defer span.End()

	if limit <= 0 || limit > MaxRecordLimit {
		limit = DefaultRecordLimit
	}

	query := `SELECT ` + fileColumns + ` FROM transcript_files
		WHERE owner = $1
		ORDER BY updated_at DESC, id
		LIMIT $2`
	rows, err := db.conn.QueryContext(ctx, query, owner, limit)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := make([]TranscriptFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(attribute.Int("files.count", len(files)))
	return files, nil
}

// DeleteFile removes a file together with its records and stats.
func (db *DB) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "db.delete_file",
		trace.WithAttributes(attribute.String("file.id", fileID)))
	defer span.End()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM transcript_files WHERE id = $1`, fileID)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}
