package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/facekiosk/internal/config"
)

// SnapshotPrefix is the key prefix under which locked-face thumbnails are stored.
const SnapshotPrefix = "snapshots/"

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// SnapshotKey builds the object key for a face thumbnail captured at lock time.
func SnapshotKey(sessionID string, faceID int, at time.Time) string {
	return fmt.Sprintf("%s%s/%d_%d.jpg", SnapshotPrefix, sessionID, faceID, at.UnixMilli())
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		slog.Info("created bucket", "bucket", s.bucket)
	}
	return nil
}

// PutObject uploads data to MinIO under the given key.
func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject retrieves data from MinIO by key. A missing key yields ErrObjectNotFound.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// DeleteOlderThan removes objects under prefix last modified before cutoff
// and returns how many were removed.
func (s *MinIOStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	objectsCh := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	listed := 0

	go func() {
		defer close(objectsCh)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				listErr <- fmt.Errorf("list objects %s: %w", prefix, obj.Err)
				return
			}
			if !obj.LastModified.Before(cutoff) {
				continue
			}
			select {
			case objectsCh <- obj:
				listed++
			case <-ctx.Done():
				return
			}
		}
	}()

	var failed int
	var firstErr error
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	removed := listed - failed

	select {
	case err := <-listErr:
		return removed, err
	default:
	}
	if firstErr != nil {
		return removed, fmt.Errorf("%d deletes failed: %w", failed, firstErr)
	}
	return removed, nil
}

// RunRetention periodically deletes snapshots older than maxAge until ctx is done.
func (s *MinIOStore) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.DeleteOlderThan(ctx, SnapshotPrefix, time.Now().Add(-maxAge))
		if err != nil && ctx.Err() == nil {
			slog.Warn("snapshot retention failed", "removed", n, "error", err)
		} else if n > 0 {
			slog.Info("snapshot retention", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
