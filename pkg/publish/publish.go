// Package publish uploads finished exports to a blob bucket (file://, s3://
// or gs://) so they can be picked up by other systems.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local directory driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// XLSXContentType is the media type of xlsx workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Store writes export files to a bucket under a key prefix.
type Store struct {
	bucket *blob.Bucket
	prefix string
	url    string
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	if bucketURL == "" {
		return nil, fmt.Errorf("publish: bucket url is required")
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return &Store{
		bucket: bucket,
		prefix: strings.TrimPrefix(prefix, "/"),
		url:    bucketURL,
	}, nil
}

// Key returns the object key of a file uploaded for runID.
func (s *Store) Key(runID, localPath string) string {
	return path.Join(s.prefix, runID, filepath.Base(localPath))
}

// Upload copies the file at localPath to the bucket and returns its key.
func (s *Store) Upload(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	key := s.Key(runID, localPath)
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: XLSXContentType,
		Metadata:    map[string]string{"run_id": runID},
	})
	if err != nil {
		return "", fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}

	log.Info().
		Str("bucket", s.url).
		Str("key", key).
		Int64("bytes", n).
		Str("run_id", runID).
		Msg("Export published")

	return key, nil
}

// Exists checks if key exists in the bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Close releases the bucket connection.
func (s *Store) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
