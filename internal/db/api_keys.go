package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ValidateAPIKey returns the key stored under keyHash, or ErrAPIKeyNotFound.
func (db *DB) ValidateAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	ctx, span := tracer.Start(ctx, "db.validate_api_key")
	defer span.End()

	query := `SELECT id, name, owner, created_at, last_used_at FROM api_keys WHERE key_hash = $1`

	var k APIKey
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(&k.ID, &k.Name, &k.Owner, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Not recorded as a span error: bad keys are expected traffic.
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	span.SetAttributes(attribute.Int64("key.id", k.ID))
	return &k, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp for an API key
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, keyID int64) error {
	ctx, span := tracer.Start(ctx, "db.update_api_key_last_used",
		trace.WithAttributes(attribute.Int64("key.id", keyID)))
	defer span.End()

	_, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("failed to update API key last used: %w", err)
	}
	return nil
}

// CreateAPIKey stores a new key hash for owner. Names are unique per owner.
func (db *DB) CreateAPIKey(ctx context.Context, keyHash, name, owner string) (*APIKey, error) {
	ctx, span := tracer.Start(ctx, "db.create_api_key",
		trace.WithAttributes(attribute.String("key.owner", owner)))
	defer span.End()

	query := `INSERT INTO api_keys (key_hash, name, owner) VALUES ($1, $2, $3) RETURNING id, created_at`

	k := APIKey{Name: name, Owner: owner}
	err := db.conn.QueryRowContext(ctx, query, keyHash, name, owner).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAPIKeyNameExists
		}
		spanError(span, err)
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	span.SetAttributes(attribute.Int64("key.id", k.ID))
	return &k, nil
}

// ListAPIKeys returns the owner's keys (without hashes), newest first.
func (db *DB) ListAPIKeys(ctx context.Context, owner string) ([]APIKey, error) {
	ctx, span := tracer.Start(ctx, "db.list_api_keys",
		trace.WithAttributes(attribute.String("key.owner", owner)))
	defer span.End()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, owner, created_at, last_used_at FROM api_keys WHERE owner = $1 ORDER BY created_at DESC, id DESC`, owner)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.Owner, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}
	return keys, nil
}
