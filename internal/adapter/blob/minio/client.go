// Package minio implements the blob store port over any S3-compatible
// endpoint (R2, MinIO, S3).
package minio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// Store holds media blobs and knowledge documents under
// {user_id}/{uuid}-{filename} keys.
type Store struct {
	cli    *minio.Client
	bucket string
}

// New dials the configured S3-compatible endpoint.
func New(cfg config.Config) (*Store, error) {
	cli, err := minio.New(cfg.BlobEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.BlobAccessKey, cfg.BlobSecretKey, ""),
		Secure: cfg.BlobUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("op=minio.New: %w", err)
	}
	return &Store{cli: cli, bucket: cfg.BlobBucket}, nil
}

// Put uploads data under key.
func (s *Store) Put(ctx domain.Context, key string, data []byte, contentType string) error {
	_, err := s.cli.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("op=minio.Put key=%s: %w", key, err)
	}
	return nil
}

// Get downloads the whole object.
func (s *Store) Get(ctx domain.Context, key string) ([]byte, error) {
	obj, err := s.cli.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=minio.Get key=%s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("op=minio.Get key=%s: %w", key, err)
	}
	return data, nil
}

// FetchToFile downloads the object to a temp file and returns its path.
// The caller removes the file.
func (s *Store) FetchToFile(ctx domain.Context, key string) (string, error) {
	obj, err := s.cli.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("op=minio.FetchToFile key=%s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	f, err := os.CreateTemp("", "blob-*")
	if err != nil {
		return "", fmt.Errorf("op=minio.FetchToFile key=%s: %w", key, err)
	}
	if _, err := io.Copy(f, obj); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("op=minio.FetchToFile key=%s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("op=minio.FetchToFile key=%s: %w", key, err)
	}
	return f.Name(), nil
}

// Size stats the object without downloading it; used to enforce media size
// caps before a fetch.
func (s *Store) Size(ctx domain.Context, key string) (int64, error) {
	info, err := s.cli.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("op=minio.Size key=%s: %w", key, err)
	}
	return info.Size, nil
}

// Delete removes the object; deleting a missing key is not an error.
func (s *Store) Delete(ctx domain.Context, key string) error {
	if err := s.cli.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("op=minio.Delete key=%s: %w", key, err)
	}
	return nil
}

// Healthy probes the bucket; used by the deep health check.
func (s *Store) Healthy(ctx domain.Context) error {
	ok, err := s.cli.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=minio.Healthy: %w", err)
	}
	if !ok {
		return fmt.Errorf("op=minio.Healthy: bucket %s missing", s.bucket)
	}
	return nil
}
