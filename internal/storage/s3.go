// Package storage keeps the raw JSONL lines of uploaded transcripts in an
// S3-compatible bucket, one object per upload ("chunk").
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vibe-review/storage")

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrNetworkError   = errors.New("network error")
	// ErrTooManyChunks is returned when a file has more than MaxChunksPerFile chunks.
	ErrTooManyChunks = errors.New("file has too many chunks")
)

// MaxChunksPerFile bounds how many chunk keys are listed for one file.
const MaxChunksPerFile = 30000

// S3Config holds S3/MinIO connection settings.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	// CreateBucket creates a missing bucket instead of failing. Meant for
	// local development and tests.
	CreateBucket bool
}

// S3Storage reads and writes transcript chunks.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage connects to the bucket described by config and checks that it
// exists.
func NewS3Storage(ctx context.Context, config S3Config) (*S3Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if !config.CreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist", config.BucketName)
		}
		if err := client.MakeBucket(ctx, config.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", config.BucketName, err)
		}
	}

	return &S3Storage{client: client, bucket: config.BucketName}, nil
}

// filePrefix is the key prefix under which every chunk of one file lives.
func filePrefix(externalID, fileName string) string {
	return fmt.Sprintf("transcripts/%s/%s/", externalID, fileName)
}

// ChunkKey returns the object key of the chunk holding lines firstLine..lastLine
// (1-based, inclusive). Zero padding makes lexicographic order line order.
func ChunkKey(externalID, fileName string, firstLine, lastLine int) string {
	return fmt.Sprintf("%schunk_%08d_%08d.jsonl", filePrefix(externalID, fileName), firstLine, lastLine)
}

// Download reads one object.
func (s *S3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "storage.download",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		recordSpanError(span, err)
		return nil, classifyStorageError(err, "download")
	}
	defer object.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(object)
	if err != nil {
		recordSpanError(span, err)
		return nil, classifyStorageError(err, "download")
	}

	span.SetAttributes(attribute.Int("object.size", len(data)))
	return data, nil
}

// UploadChunk stores lines firstLine..lastLine of a file and returns the key.
func (s *S3Storage) UploadChunk(ctx context.Context, externalID, fileName string, firstLine, lastLine int, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.upload_chunk",
		trace.WithAttributes(
			attribute.String("file.external_id", externalID),
			attribute.String("file.name", fileName),
			attribute.Int("chunk.first_line", firstLine),
			attribute.Int("chunk.last_line", lastLine),
			attribute.Int("object.size", len(data)),
		))
	defer span.End()

	if firstLine < 1 || lastLine < firstLine {
		return "", fmt.Errorf("invalid chunk range %d-%d", firstLine, lastLine)
	}

	key := ChunkKey(externalID, fileName, firstLine, lastLine)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		recordSpanError(span, err)
		return "", classifyStorageError(err, "upload chunk")
	}
	return key, nil
}

// ListChunks returns the chunk keys of a file in line order. It fails with
// ErrTooManyChunks past MaxChunksPerFile.
func (s *S3Storage) ListChunks(ctx context.Context, externalID, fileName string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "storage.list_chunks",
		trace.WithAttributes(
			attribute.String("file.external_id", externalID),
			attribute.String("file.name", fileName),
		))
	defer span.End()

	keys, err := s.listKeys(ctx, filePrefix(externalID, fileName), MaxChunksPerFile)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("chunks.count", len(keys)))
	return keys, nil
}

// listKeys lists every key under prefix. A limit of zero means no limit.
func (s *S3Storage) listKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyStorageError(obj.Err, "list chunks")
		}
		keys = append(keys, obj.Key)
		if limit > 0 && len(keys) > limit {
			return nil, fmt.Errorf("list chunks: %w (limit: %d)", ErrTooManyChunks, limit)
		}
	}
	return keys, nil
}

// DeleteFileChunks removes every chunk of a file and returns how many were
// removed. Deleting a file without chunks is not an error.
func (s *S3Storage) DeleteFileChunks(ctx context.Context, externalID, fileName string) (int, error) {
	ctx, span := tracer.Start(ctx, "storage.delete_file_chunks",
		trace.WithAttributes(
			attribute.String("file.external_id", externalID),
			attribute.String("file.name", fileName),
		))
	defer span.End()

	keys, err := s.listKeys(ctx, filePrefix(externalID, fileName), 0)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// RemoveObjects only reports failures; the channel closes when done.
	var firstErr error
	failed := 0
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete chunk %s: %w", rerr.ObjectName, classifyStorageError(rerr.Err, "delete chunk"))
		}
	}
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	deleted := len(keys) - failed
	span.SetAttributes(attribute.Int("chunks.deleted", deleted))
	if firstErr != nil {
		recordSpanError(span, firstErr)
		return deleted, firstErr
	}
	return deleted, nil
}

// classifyStorageError maps a minio error onto the package sentinels.
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	if containsAny(err.Error(), "connection", "timeout", "network", "dial", "refused") {
		return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
