// Package localstate keeps the CLI's per-file upload checkpoints in a local
// SQLite database.
package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a path has no checkpoint.
var ErrNotFound = errors.New("no checkpoint for path")

// Checkpoint is what the CLI remembers about one uploaded file.
type Checkpoint struct {
	// Path is the absolute path of the local file.
	Path       string
	ExternalID string
	FileName   string
	// FileID is the server's ID, empty until an upload succeeded.
	FileID string
	// LineCount is the server's checkpoint after the last upload.
	LineCount  int
	SizeBytes  int64
	UploadedAt time.Time
}

// Store wraps the SQLite database connection
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the state database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// One writer; the CLI never needs more.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		path TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_id TEXT NOT NULL DEFAULT '',
		line_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		uploaded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_uploaded ON checkpoints(uploaded_at);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get returns the checkpoint of path or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*Checkpoint, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT path, external_id, file_name, file_id, line_count, size_bytes, uploaded_at
		FROM checkpoints WHERE path = ?`, path)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return cp, nil
}

// Put stores cp, replacing any earlier checkpoint of the same path. The line
// count never moves backwards.
func (s *Store) Put(ctx context.Context, cp Checkpoint) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (path, external_id, file_name, file_id, line_count, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			external_id = excluded.external_id,
			file_name = excluded.file_name,
			file_id = excluded.file_id,
			line_count = MAX(checkpoints.line_count, excluded.line_count),
			size_bytes = excluded.size_bytes,
			uploaded_at = excluded.uploaded_at`,
		cp.Path, cp.ExternalID, cp.FileName, cp.FileID, cp.LineCount, cp.SizeBytes, cp.UploadedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// List returns every checkpoint, most recently uploaded first.
func (s *Store) List(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT path, external_id, file_name, file_id, line_count, size_bytes, uploaded_at
		FROM checkpoints ORDER BY uploaded_at DESC, path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// Delete forgets path. Deleting an unknown path is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM checkpoints WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var uploaded int64
	if err := row.Scan(&cp.Path, &cp.ExternalID, &cp.FileName, &cp.FileID, &cp.LineCount, &cp.SizeBytes, &uploaded); err != nil {
		return nil, err
	}
	cp.UploadedAt = time.Unix(uploaded, 0)
	return &cp, nil
}
